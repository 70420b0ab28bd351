// Package ratelimit implements the fixed-window ingress limiter applied
// during webhook admission. Counters are best-effort: a shared counter store
// is preferred when configured, the in-process window map is the fallback,
// and counter failures admit the request (fail-open).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	goerrors "github.com/goliatone/go-errors"
)

// LimitExceededError is returned when a client identity exhausts its window.
type LimitExceededError struct {
	ClientKey  string
	Limit      int
	RetryAfter time.Duration
}

func (e LimitExceededError) Error() string {
	return fmt.Sprintf(
		"ratelimit: client %q exceeded %d requests per window, retry after %s",
		strings.TrimSpace(e.ClientKey),
		e.Limit,
		e.RetryAfter,
	)
}

func (e LimitExceededError) ToGatewayError() *goerrors.Error {
	metadata := map[string]any{
		"client_key": strings.TrimSpace(e.ClientKey),
		"limit":      e.Limit,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.GatewayErrorRateLimited).
		WithMetadata(metadata)
}

// FixedWindowLimiter admits at most Requests per Window per client key.
// Store, when set, carries the counter across processes; a nil or failing
// store degrades to the in-process window map.
type FixedWindowLimiter struct {
	Requests int
	Window   time.Duration
	Store    core.CounterStore
	Logger   core.Logger
	Now      func() time.Time

	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int
}

func NewFixedWindowLimiter(requests int, window time.Duration, store core.CounterStore) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		Requests: requests,
		Window:   window,
		Store:    store,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Allow records one request for the client key and returns a
// LimitExceededError when the window is exhausted.
func (l *FixedWindowLimiter) Allow(ctx context.Context, clientKey string) error {
	if l == nil {
		return nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "unknown"
	}
	limit := l.Requests
	if limit <= 0 {
		return nil
	}
	window := l.Window
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()

	if l.Store != nil {
		count, err := l.Store.IncrementWindow(ctx, "ingress::"+clientKey, window, now)
		if err == nil {
			if count > int64(limit) {
				return LimitExceededError{ClientKey: clientKey, Limit: limit, RetryAfter: windowRemaining(now, window)}
			}
			return nil
		}
		if l.Logger != nil {
			l.Logger.Error("shared rate-limit counter unavailable, using local window", "client_key", clientKey, "error", err.Error())
		}
	}

	return l.allowLocal(clientKey, limit, window, now)
}

func (l *FixedWindowLimiter) allowLocal(clientKey string, limit int, window time.Duration, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windows == nil {
		l.windows = map[string]*localWindow{}
	}
	start := now.Truncate(window)
	entry, ok := l.windows[clientKey]
	if !ok || entry.start.Before(start) {
		l.windows[clientKey] = &localWindow{start: start, count: 1}
		l.pruneLocked(start)
		return nil
	}
	entry.count++
	if entry.count > limit {
		return LimitExceededError{ClientKey: clientKey, Limit: limit, RetryAfter: windowRemaining(now, window)}
	}
	return nil
}

// pruneLocked drops windows that ended before the current one so the map
// does not grow with client churn.
func (l *FixedWindowLimiter) pruneLocked(currentStart time.Time) {
	for key, entry := range l.windows {
		if entry.start.Before(currentStart) {
			delete(l.windows, key)
		}
	}
}

func (l *FixedWindowLimiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func windowRemaining(now time.Time, window time.Duration) time.Duration {
	return now.Truncate(window).Add(window).Sub(now)
}

// MemoryCounterStore is a process-local CounterStore used by tests and
// single-process deployments.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	starts map[string]time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: map[string]int64{}, starts: map[string]time.Time{}}
}

func (s *MemoryCounterStore) IncrementWindow(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("ratelimit: counter store is nil")
	}
	if window <= 0 {
		window = time.Minute
	}
	start := now.UTC().Truncate(window)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.starts[key]; !ok || existing.Before(start) {
		s.starts[key] = start
		s.counts[key] = 0
	}
	s.counts[key]++
	return s.counts[key], nil
}

var _ core.CounterStore = (*MemoryCounterStore)(nil)
