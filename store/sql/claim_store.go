// Package sqlstore provides the bun-backed persistence layer: the message
// claim ledger, the notification queue, contact preferences, shared window
// counters, and the audit trail.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/uptrace/bun"
)

// MessageClaimStore records which inbound message ids have been processed.
// The primary key on message_id makes concurrent claims race-safe across
// processes: exactly one insert wins.
type MessageClaimStore struct {
	db *bun.DB
}

func NewMessageClaimStore(db *bun.DB) (*MessageClaimStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MessageClaimStore{db: db}, nil
}

func (s *MessageClaimStore) Claim(ctx context.Context, messageID string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: message claim store is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, fmt.Errorf("sqlstore: message id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	record := &messageClaimRecord{
		MessageID: messageID,
		ClaimedAt: at.UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MessageClaimStore) Release(ctx context.Context, messageID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: message claim store is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("sqlstore: message id is required")
	}
	_, err := s.db.NewDelete().
		Model((*messageClaimRecord)(nil)).
		Where("message_id = ?", messageID).
		Exec(ctx)
	return err
}

func (s *MessageClaimStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: message claim store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*messageClaimRecord)(nil)).
		Where("claimed_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return deleted, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.ClaimStore = (*MessageClaimStore)(nil)
