package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/identity"
	"github.com/google/uuid"
)

// Audit event names written for every delivery outcome.
const (
	EventQueued          = "NOTIFY_QUEUE"
	EventSendOK          = "NOTIFY_SEND_OK"
	EventSendFail        = "NOTIFY_SEND_FAIL"
	EventBlockedOptOut   = "NOTIFY_BLOCKED_OPTOUT"
	EventDeferQuietHours = "NOTIFY_DEFER_QUIET_HOURS"
	EventRetryScheduled  = "NOTIFY_RETRY_SCHEDULED"
)

// Engine owns queued notifications after insert. Enqueue never sends
// synchronously; ProcessBatch walks ready rows serially so one slow or
// failing delivery cannot corrupt the accounting of unrelated rows.
type Engine struct {
	Store       core.NotificationStore
	Preferences core.PreferenceStore
	Provider    core.DeliveryProvider
	Counters    core.CounterStore
	Audit       core.AuditSink
	Observer    *core.Observer
	Config      core.DeliveryConfig
	Now         func() time.Time
}

func NewEngine(store core.NotificationStore, preferences core.PreferenceStore, provider core.DeliveryProvider, cfg core.DeliveryConfig) *Engine {
	return &Engine{
		Store:       store,
		Preferences: preferences,
		Provider:    provider,
		Config:      cfg,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// BatchStats summarizes one ProcessBatch pass.
type BatchStats struct {
	Claimed  int
	Sent     int
	Failed   int
	Deferred int
	Retried  int
	Blocked  int
}

// Enqueue inserts a queued notification and returns immediately. Delivery
// errors never reach callers of Enqueue; they resolve into row state during
// batch processing.
func (e *Engine) Enqueue(ctx context.Context, recipientID string, channel core.NotificationChannel, payload json.RawMessage, metadata map[string]any) (*core.QueuedNotification, error) {
	if e == nil || e.Store == nil {
		return nil, fmt.Errorf("delivery: engine requires a notification store")
	}
	normalized, err := identity.NormalizeWaID(recipientID)
	if err != nil {
		return nil, err
	}
	if _, err := core.ParseNotificationChannel(string(channel)); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("delivery: payload is required")
	}

	now := e.now()
	notification := &core.QueuedNotification{
		ID:          uuid.NewString(),
		RecipientID: normalized,
		Channel:     channel,
		Payload:     append(json.RawMessage(nil), payload...),
		Status:      core.NotificationStatusQueued,
		Metadata:    cloneMetadata(metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.Insert(ctx, notification); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, core.AuditEntry{
		Event:          EventQueued,
		NotificationID: notification.ID,
		RecipientID:    identity.MaskPhone(normalized),
		Reason:         string(channel),
		At:             now,
	})
	e.observer().Counter(ctx, "gateway.notify.enqueued", 1, map[string]string{"channel": string(channel)})
	return notification, nil
}

// ProcessBatch claims up to limit ready rows oldest first and applies the
// policy filters and delivery to each in order.
func (e *Engine) ProcessBatch(ctx context.Context, limit int) (BatchStats, error) {
	if e == nil || e.Store == nil || e.Provider == nil {
		return BatchStats{}, fmt.Errorf("delivery: engine requires store and provider")
	}
	if limit <= 0 {
		limit = e.Config.BatchLimit
	}
	if limit <= 0 {
		limit = 25
	}
	startedAt := e.now()

	batch, err := e.Store.ClaimBatch(ctx, limit, startedAt)
	if err != nil {
		return BatchStats{}, err
	}
	stats := BatchStats{Claimed: len(batch)}

	for _, notification := range batch {
		e.processOne(ctx, notification, &stats)
	}

	e.observer().ObserveOperation(ctx, startedAt, "notify_process_batch", nil, map[string]any{
		"claimed":  stats.Claimed,
		"sent":     stats.Sent,
		"failed":   stats.Failed,
		"deferred": stats.Deferred,
		"retried":  stats.Retried,
		"blocked":  stats.Blocked,
	})
	return stats, nil
}

func (e *Engine) processOne(ctx context.Context, notification *core.QueuedNotification, stats *BatchStats) {
	now := e.now()
	masked := identity.MaskPhone(notification.RecipientID)

	pref, err := e.preference(ctx, notification.RecipientID, now)
	if err != nil {
		// Preference lookup failures are transient: put the row back with a
		// standard retry delay rather than guessing at policy.
		e.scheduleRetry(ctx, notification, core.DeliveryClassRetry, "preference lookup failed: "+err.Error(), now)
		stats.Retried++
		return
	}

	if pref.OptedOut {
		e.failNotification(ctx, notification, "contact opted out", now)
		e.recordAudit(ctx, core.AuditEntry{
			Event:          EventBlockedOptOut,
			NotificationID: notification.ID,
			RecipientID:    masked,
			Reason:         "contact opted out",
			At:             now,
		})
		stats.Blocked++
		stats.Failed++
		return
	}

	if !notification.OverrideQuietHours() {
		if until, inside := QuietHoursDeferral(pref, now); inside {
			e.deferNotification(ctx, notification, *until, now)
			e.recordAudit(ctx, core.AuditEntry{
				Event:          EventDeferQuietHours,
				NotificationID: notification.ID,
				RecipientID:    masked,
				Reason:         "quiet hours until " + until.Format(time.RFC3339),
				At:             now,
			})
			stats.Deferred++
			return
		}
	}

	e.warnOnSoftLimit(ctx, notification, masked, now)

	receipt, sendErr := e.Provider.Send(ctx, notification)
	if sendErr == nil {
		e.markSent(ctx, notification, receipt, now)
		stats.Sent++
		return
	}

	class, reason := Classify(sendErr)
	if class == core.DeliveryClassFail {
		e.failNotification(ctx, notification, reason+": "+sendErr.Error(), now)
		e.recordAudit(ctx, core.AuditEntry{
			Event:          EventSendFail,
			NotificationID: notification.ID,
			RecipientID:    masked,
			Reason:         reason,
			At:             now,
			Fields:         map[string]any{"error": sendErr.Error(), "permanent": true},
		})
		stats.Failed++
		return
	}
	if notification.RetryCount+1 > e.maxRetries() {
		e.failNotification(ctx, notification, "retry limit exceeded: "+sendErr.Error(), now)
		e.recordAudit(ctx, core.AuditEntry{
			Event:          EventSendFail,
			NotificationID: notification.ID,
			RecipientID:    masked,
			Reason:         "retry limit exceeded",
			At:             now,
			Fields:         map[string]any{"error": sendErr.Error(), "retry_count": notification.RetryCount},
		})
		stats.Failed++
		return
	}
	e.scheduleRetry(ctx, notification, class, sendErr.Error(), now)
	stats.Retried++
}

func (e *Engine) preference(ctx context.Context, recipientID string, now time.Time) (core.ContactPreference, error) {
	defaults := core.ContactPreference{
		ContactID:       recipientID,
		QuietHoursStart: e.Config.DefaultQuietStart,
		QuietHoursEnd:   e.Config.DefaultQuietEnd,
		Timezone:        e.Config.DefaultTimezone,
		UpdatedAt:       now,
	}
	if e.Preferences == nil {
		return defaults, nil
	}
	return e.Preferences.GetOrCreate(ctx, recipientID, defaults)
}

// warnOnSoftLimit logs recipients over the rolling send ceiling but still
// delivers: dropping time-sensitive messages silently is worse than the
// burst.
func (e *Engine) warnOnSoftLimit(ctx context.Context, notification *core.QueuedNotification, masked string, now time.Time) {
	if e.Counters == nil || e.Config.SoftLimitCount <= 0 {
		return
	}
	window := e.Config.SoftLimitWindow
	if window <= 0 {
		window = time.Hour
	}
	count, err := e.Counters.IncrementWindow(ctx, "notify::"+notification.RecipientID, window, now)
	if err != nil {
		return
	}
	if count > int64(e.Config.SoftLimitCount) {
		e.observer().Counter(ctx, "gateway.notify.soft_limit_exceeded", 1, nil)
		e.observer().LogWarn(ctx, "recipient over send rate, delivering anyway", map[string]any{
			"notification_id": notification.ID,
			"recipient":       masked,
			"count":           count,
			"limit":           e.Config.SoftLimitCount,
		})
	}
}

func (e *Engine) markSent(ctx context.Context, notification *core.QueuedNotification, receipt core.ProviderReceipt, now time.Time) {
	if err := notification.TransitionTo(core.NotificationStatusSent, now); err != nil {
		e.observer().LogError(ctx, "sent transition rejected", map[string]any{"notification_id": notification.ID, "error": err.Error()})
		return
	}
	e.writeBack(ctx, notification)
	fields := map[string]any{}
	if strings.TrimSpace(receipt.ProviderMessageID) != "" {
		fields["provider_message_id"] = receipt.ProviderMessageID
	}
	e.recordAudit(ctx, core.AuditEntry{
		Event:          EventSendOK,
		NotificationID: notification.ID,
		RecipientID:    identity.MaskPhone(notification.RecipientID),
		At:             now,
		Fields:         fields,
	})
	e.observer().Counter(ctx, "gateway.notify.sent", 1, map[string]string{"channel": string(notification.Channel)})
}

func (e *Engine) failNotification(ctx context.Context, notification *core.QueuedNotification, message string, now time.Time) {
	notification.ErrorMessage = message
	if err := notification.TransitionTo(core.NotificationStatusFailed, now); err != nil {
		e.observer().LogError(ctx, "failed transition rejected", map[string]any{"notification_id": notification.ID, "error": err.Error()})
		return
	}
	e.writeBack(ctx, notification)
	e.observer().Counter(ctx, "gateway.notify.failed", 1, map[string]string{"channel": string(notification.Channel)})
}

func (e *Engine) deferNotification(ctx context.Context, notification *core.QueuedNotification, until time.Time, now time.Time) {
	if err := notification.TransitionTo(core.NotificationStatusQueued, now); err != nil {
		e.observer().LogError(ctx, "defer transition rejected", map[string]any{"notification_id": notification.ID, "error": err.Error()})
		return
	}
	notification.NextAttemptAt = &until
	e.writeBack(ctx, notification)
	e.observer().Counter(ctx, "gateway.notify.deferred", 1, nil)
}

// scheduleRetry keeps the row queued with an exponential backoff computed
// from the retry count before this failure.
func (e *Engine) scheduleRetry(ctx context.Context, notification *core.QueuedNotification, class core.DeliveryClass, message string, now time.Time) {
	delay := Backoff(e.Config, class, notification.RetryCount)
	next := now.Add(delay)
	if err := notification.TransitionTo(core.NotificationStatusQueued, now); err != nil {
		e.observer().LogError(ctx, "retry transition rejected", map[string]any{"notification_id": notification.ID, "error": err.Error()})
		return
	}
	notification.RetryCount++
	notification.NextAttemptAt = &next
	notification.ErrorMessage = message
	e.writeBack(ctx, notification)
	e.recordAudit(ctx, core.AuditEntry{
		Event:          EventRetryScheduled,
		NotificationID: notification.ID,
		RecipientID:    identity.MaskPhone(notification.RecipientID),
		Reason:         string(class),
		At:             now,
		Fields: map[string]any{
			"retry_count":     notification.RetryCount,
			"next_attempt_at": next.Format(time.RFC3339),
			"error":           message,
		},
	})
	e.observer().Counter(ctx, "gateway.notify.retry_scheduled", 1, map[string]string{"class": string(class)})
}

func (e *Engine) writeBack(ctx context.Context, notification *core.QueuedNotification) {
	if err := e.Store.Update(ctx, notification); err != nil {
		e.observer().LogError(ctx, "notification writeback failed", map[string]any{
			"notification_id": notification.ID,
			"status":          string(notification.Status),
			"error":           err.Error(),
		})
	}
}

func (e *Engine) recordAudit(ctx context.Context, entry core.AuditEntry) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Record(ctx, entry); err != nil {
		e.observer().LogError(ctx, "audit record failed", map[string]any{"event": entry.Event, "error": err.Error()})
	}
}

func (e *Engine) maxRetries() int {
	if e != nil && e.Config.MaxRetries > 0 {
		return e.Config.MaxRetries
	}
	return 5
}

func (e *Engine) observer() *core.Observer {
	if e != nil && e.Observer != nil {
		return e.Observer
	}
	return core.NewObserver(nil, nil)
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(metadata))
	for key, value := range metadata {
		copied[key] = value
	}
	return copied
}

var _ core.Enqueuer = (*Engine)(nil)
