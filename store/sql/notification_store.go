package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const defaultStaleSendingAfter = 10 * time.Minute

// NotificationStore persists the outbound delivery queue.
type NotificationStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationRecord]

	// StaleSendingAfter is the lease a claimed row holds before ClaimBatch
	// may hand it to another worker. A row stuck in sending past this age
	// means its worker died between claim and writeback.
	StaleSendingAfter time.Duration
}

func NewNotificationStore(db *bun.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationRecord](db, notificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification repository wiring: %w", err)
		}
	}
	return &NotificationStore{db: db, repo: repo, StaleSendingAfter: defaultStaleSendingAfter}, nil
}

func (s *NotificationStore) Insert(ctx context.Context, notification *core.QueuedNotification) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: notification store is not configured")
	}
	if notification == nil {
		return fmt.Errorf("sqlstore: notification is required")
	}
	if strings.TrimSpace(notification.ID) == "" {
		return fmt.Errorf("sqlstore: notification id is required")
	}
	_, err := s.repo.Create(ctx, notificationToRecord(notification))
	return err
}

func (s *NotificationStore) GetByID(ctx context.Context, id string) (*core.QueuedNotification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: notification store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("sqlstore: notification id is required")
	}
	record := &notificationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotificationNotFound, id)
		}
		return nil, err
	}
	return recordToNotification(record), nil
}

// ClaimBatch moves ready queued rows into the sending state inside one
// transaction. The status guard in the UPDATE keeps concurrent workers from
// claiming the same row twice. Sending rows whose lease has lapsed are
// reclaimed alongside the queued ones so a crashed worker cannot strand
// them.
func (s *NotificationStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*core.QueuedNotification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: notification store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	lease := s.StaleSendingAfter
	if lease <= 0 {
		lease = defaultStaleSendingAfter
	}
	staleBefore := now.Add(-lease)

	var records []notificationRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM gateway_notifications
	WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
	   OR (status = ? AND updated_at <= ?)
	ORDER BY created_at ASC
	LIMIT ?
)
UPDATE gateway_notifications
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status IN (?, ?)
RETURNING
	id,
	recipient_id,
	channel,
	payload,
	status,
	retry_count,
	next_attempt_at,
	error_message,
	sent_at,
	metadata,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			string(core.NotificationStatusQueued),
			now,
			string(core.NotificationStatusSending),
			staleBefore,
			limit,
			string(core.NotificationStatusSending),
			now,
			string(core.NotificationStatusQueued),
			string(core.NotificationStatusSending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	notifications := make([]*core.QueuedNotification, 0, len(records))
	for i := range records {
		notifications = append(notifications, recordToNotification(&records[i]))
	}
	return notifications, nil
}

func (s *NotificationStore) Update(ctx context.Context, notification *core.QueuedNotification) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification store is not configured")
	}
	if notification == nil || strings.TrimSpace(notification.ID) == "" {
		return fmt.Errorf("sqlstore: notification id is required")
	}
	record := notificationToRecord(notification)
	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrNotificationNotFound, notification.ID)
	}
	return nil
}

func notificationToRecord(notification *core.QueuedNotification) *notificationRecord {
	record := &notificationRecord{
		ID:           strings.TrimSpace(notification.ID),
		RecipientID:  strings.TrimSpace(notification.RecipientID),
		Channel:      string(notification.Channel),
		Payload:      append([]byte(nil), notification.Payload...),
		Status:       string(notification.Status),
		RetryCount:   notification.RetryCount,
		ErrorMessage: notification.ErrorMessage,
		Metadata:     copyAnyMap(notification.Metadata),
		CreatedAt:    notification.CreatedAt.UTC(),
		UpdatedAt:    notification.UpdatedAt.UTC(),
	}
	if notification.NextAttemptAt != nil {
		value := notification.NextAttemptAt.UTC()
		record.NextAttemptAt = &value
	}
	if notification.SentAt != nil {
		value := notification.SentAt.UTC()
		record.SentAt = &value
	}
	return record
}

func recordToNotification(record *notificationRecord) *core.QueuedNotification {
	notification := &core.QueuedNotification{
		ID:           record.ID,
		RecipientID:  record.RecipientID,
		Channel:      core.NotificationChannel(record.Channel),
		Payload:      append([]byte(nil), record.Payload...),
		Status:       core.NotificationStatus(record.Status),
		RetryCount:   record.RetryCount,
		ErrorMessage: record.ErrorMessage,
		Metadata:     copyAnyMap(record.Metadata),
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if record.NextAttemptAt != nil {
		value := *record.NextAttemptAt
		notification.NextAttemptAt = &value
	}
	if record.SentAt != nil {
		value := *record.SentAt
		notification.SentAt = &value
	}
	return notification
}

var _ core.NotificationStore = (*NotificationStore)(nil)
