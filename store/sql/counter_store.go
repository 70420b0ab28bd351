package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/uptrace/bun"
)

// WindowCounterStore is the shared fixed-window counter backing ingress rate
// admission and per-recipient send accounting. Rows are keyed by counter key
// plus the truncated window start, so every process in the fleet increments
// the same row.
type WindowCounterStore struct {
	db *bun.DB
}

func NewWindowCounterStore(db *bun.DB) (*WindowCounterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WindowCounterStore{db: db}, nil
}

func (s *WindowCounterStore) IncrementWindow(
	ctx context.Context,
	key string,
	window time.Duration,
	now time.Time,
) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: window counter store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("sqlstore: counter key is required")
	}
	if window <= 0 {
		return 0, fmt.Errorf("sqlstore: counter window must be positive")
	}
	if now.IsZero() {
		now = time.Now()
	}
	windowStart := now.UTC().Truncate(window)

	record := &windowCounterRecord{
		CounterKey:  key,
		WindowStart: windowStart,
		Count:       1,
		UpdatedAt:   now.UTC(),
	}
	// The bare column would be ambiguous on postgres once EXCLUDED is in
	// scope, so the existing row is addressed through the model alias.
	err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (counter_key, window_start) DO UPDATE").
		Set("count = gwc.count + 1").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("count").
		Scan(ctx)
	if err != nil {
		return 0, err
	}
	return record.Count, nil
}

// DeleteOlderThan prunes counter rows whose window started before the cutoff.
func (s *WindowCounterStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: window counter store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*windowCounterRecord)(nil)).
		Where("window_start < ?", cutoff.UTC()).
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

var _ core.CounterStore = (*WindowCounterStore)(nil)
