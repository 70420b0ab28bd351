package core

import (
	"context"
	"encoding/json"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// ClaimStore is the idempotency ledger for inbound message ids. Claim must
// be race-safe across independent processes: concurrent claims for the same
// id resolve to exactly one true via the backing store's uniqueness
// constraint.
type ClaimStore interface {
	// Claim inserts a claim record for the message id. It returns true when
	// the insert won (first claim) and false on a duplicate-key conflict.
	Claim(ctx context.Context, messageID string, at time.Time) (bool, error)
	// Release deletes the claim so the provider's automatic retry can
	// redeliver the message. Called only on unrecoverable handler failure.
	Release(ctx context.Context, messageID string) error
	// DeleteOlderThan removes claim records claimed before the cutoff and
	// returns the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationStore persists queued notifications for the delivery engine.
type NotificationStore interface {
	Insert(ctx context.Context, notification *QueuedNotification) error
	GetByID(ctx context.Context, id string) (*QueuedNotification, error)
	// ClaimBatch atomically moves up to limit ready rows (queued, with
	// NextAttemptAt elapsed or unset, oldest first) into the sending state
	// and returns them. Concurrent workers never receive the same row.
	// Implementations reclaim sending rows whose claim lease has lapsed so
	// a crashed worker cannot strand them mid-flight.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*QueuedNotification, error)
	// Update writes the row back after an outcome transition.
	Update(ctx context.Context, notification *QueuedNotification) error
}

// PreferenceStore reads per-contact delivery policy. GetOrCreate returns the
// stored preference or lazily inserts the given default when none exists.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, contactID string, defaults ContactPreference) (ContactPreference, error)
}

// CounterStore is a shared fixed-window counter used for ingress rate
// admission and per-recipient send accounting. Implementations may be
// process-local; callers treat failures as fail-open.
type CounterStore interface {
	// IncrementWindow bumps the counter for key within the window that
	// contains now and returns the post-increment count.
	IncrementWindow(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

// MessageHandler is the consumed business handler: it processes one claimed
// message with its execution context and may fail.
type MessageHandler interface {
	Handle(ctx context.Context, message InboundMessage, msgCtx MessageContext) error
}

// ContextResolver builds the per-message execution context from external
// collaborators (profile/state stores). A nil context with a nil error means
// the message should be skipped.
type ContextResolver interface {
	Resolve(ctx context.Context, message InboundMessage, locale string) (*MessageContext, error)
}

// RouteForwarder delivers the original provider envelope to an external
// routing target with correlation and routing headers attached.
type RouteForwarder interface {
	Forward(ctx context.Context, decision RoutingDecision, envelope json.RawMessage, headers map[string]string) (*ForwardResult, error)
}

// DeliveryProvider is the outbound chat-provider API. Send either succeeds
// with a receipt or fails; wrap provider-coded failures in *ProviderError so
// the engine can classify them.
type DeliveryProvider interface {
	Send(ctx context.Context, notification *QueuedNotification) (ProviderReceipt, error)
}

// Enqueuer inserts an outbound notification without sending it. The root
// gateway and the dispatcher's fallback notice both go through this.
type Enqueuer interface {
	Enqueue(ctx context.Context, recipientID string, channel NotificationChannel, payload json.RawMessage, metadata map[string]any) (*QueuedNotification, error)
}

// AuditSink records structured delivery outcomes. Implementations must not
// fail the calling operation; errors are logged and dropped by callers.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Sweeper coalesces retention sweeps; safe to trigger eagerly from hot paths.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// HealthChecker reports backing-store reachability for the facade's health
// summary.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
