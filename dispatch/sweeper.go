package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
)

// RetentionSweeper deletes claim records older than TTL. Sweep is cheap to
// call from the hot path: concurrent triggers coalesce into one in-flight
// sweep, and at most one sweep runs per MinInterval.
type RetentionSweeper struct {
	Claims      core.ClaimStore
	TTL         time.Duration
	MinInterval time.Duration
	Observer    *core.Observer
	Now         func() time.Time

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

func NewRetentionSweeper(claims core.ClaimStore, ttl, minInterval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		Claims:      claims,
		TTL:         ttl,
		MinInterval: minInterval,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *RetentionSweeper) Sweep(ctx context.Context) error {
	if s == nil || s.Claims == nil {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	if s.running || (!s.lastRun.IsZero() && now.Sub(s.lastRun) < s.minInterval()) {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = s.now()
		s.mu.Unlock()
	}()

	startedAt := now
	cutoff := now.Add(-s.ttl())
	deleted, err := s.Claims.DeleteOlderThan(ctx, cutoff)
	fields := map[string]any{"cutoff": cutoff.Format(time.RFC3339), "deleted": deleted}
	s.observer().ObserveOperation(ctx, startedAt, "claim_retention_sweep", err, fields)
	if err != nil {
		return err
	}
	s.observer().Counter(ctx, "gateway.claims.swept", deleted, nil)
	return nil
}

func (s *RetentionSweeper) ttl() time.Duration {
	if s != nil && s.TTL > 0 {
		return s.TTL
	}
	return 30 * 24 * time.Hour
}

func (s *RetentionSweeper) minInterval() time.Duration {
	if s != nil && s.MinInterval > 0 {
		return s.MinInterval
	}
	return 10 * time.Minute
}

func (s *RetentionSweeper) observer() *core.Observer {
	if s != nil && s.Observer != nil {
		return s.Observer
	}
	return core.NewObserver(nil, nil)
}

func (s *RetentionSweeper) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.Sweeper = (*RetentionSweeper)(nil)
