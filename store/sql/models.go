package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

type messageClaimRecord struct {
	bun.BaseModel `bun:"table:gateway_message_claims,alias:gmc"`

	MessageID string    `bun:"message_id,pk"`
	ClaimedAt time.Time `bun:"claimed_at,notnull"`
}

type notificationRecord struct {
	bun.BaseModel `bun:"table:gateway_notifications,alias:gn"`

	ID            string          `bun:"id,pk"`
	RecipientID   string          `bun:"recipient_id,notnull"`
	Channel       string          `bun:"channel,notnull"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull"`
	Status        string          `bun:"status,notnull"`
	RetryCount    int             `bun:"retry_count,notnull"`
	NextAttemptAt *time.Time      `bun:"next_attempt_at,nullzero"`
	ErrorMessage  string          `bun:"error_message"`
	SentAt        *time.Time      `bun:"sent_at,nullzero"`
	Metadata      map[string]any  `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type contactPreferenceRecord struct {
	bun.BaseModel `bun:"table:gateway_contact_preferences,alias:gcp"`

	ContactID       string    `bun:"contact_id,pk"`
	OptedOut        bool      `bun:"opted_out,notnull"`
	QuietHoursStart string    `bun:"quiet_hours_start,notnull"`
	QuietHoursEnd   string    `bun:"quiet_hours_end,notnull"`
	Timezone        string    `bun:"timezone,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type windowCounterRecord struct {
	bun.BaseModel `bun:"table:gateway_window_counters,alias:gwc"`

	CounterKey  string    `bun:"counter_key,pk"`
	WindowStart time.Time `bun:"window_start,pk"`
	Count       int64     `bun:"count,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEventRecord struct {
	bun.BaseModel `bun:"table:gateway_audit_events,alias:gae"`

	ID             string         `bun:"id,pk"`
	Event          string         `bun:"event,notnull"`
	NotificationID string         `bun:"notification_id"`
	RecipientID    string         `bun:"recipient_id"`
	Reason         string         `bun:"reason"`
	Fields         map[string]any `bun:"fields,type:jsonb"`
	OccurredAt     time.Time      `bun:"occurred_at,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func copyAnyMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	copied := make(map[string]any, len(input))
	for key, value := range input {
		copied[key] = value
	}
	return copied
}
