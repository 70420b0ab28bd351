package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditEventStore persists delivery lifecycle events as an append-only trail.
type AuditEventStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEventRecord]
}

func NewAuditEventStore(db *bun.DB) (*AuditEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEventRecord](db, auditEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditEventStore{db: db, repo: repo}, nil
}

func (s *AuditEventStore) Record(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit event store is not configured")
	}
	if strings.TrimSpace(entry.Event) == "" {
		return fmt.Errorf("sqlstore: audit event name is required")
	}
	occurredAt := entry.At.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	record := &auditEventRecord{
		ID:             uuid.NewString(),
		Event:          strings.TrimSpace(entry.Event),
		NotificationID: strings.TrimSpace(entry.NotificationID),
		RecipientID:    strings.TrimSpace(entry.RecipientID),
		Reason:         strings.TrimSpace(entry.Reason),
		Fields:         copyAnyMap(entry.Fields),
		OccurredAt:     occurredAt,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

// ListByNotification returns the trail for one notification, oldest first.
func (s *AuditEventStore) ListByNotification(ctx context.Context, notificationID string) ([]core.AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: audit event store is not configured")
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, fmt.Errorf("sqlstore: notification id is required")
	}
	var records []auditEventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("notification_id = ?", notificationID).
		Order("occurred_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, core.AuditEntry{
			Event:          record.Event,
			NotificationID: record.NotificationID,
			RecipientID:    record.RecipientID,
			Reason:         record.Reason,
			At:             record.OccurredAt,
			Fields:         copyAnyMap(record.Fields),
		})
	}
	return entries, nil
}

var _ core.AuditSink = (*AuditEventStore)(nil)
