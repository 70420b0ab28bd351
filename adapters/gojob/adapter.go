// Package gojob wires the gateway's recurring maintenance work, delivery
// batches and claim retention sweeps, into go-job queues.
package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/delivery"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDProcessDeliveryBatch = "gateway.notify.process_batch"
	JobIDSweepClaims          = "gateway.claims.sweep"
)

// NotifyBatchService is the slice of the delivery engine the runner drives.
type NotifyBatchService interface {
	ProcessBatch(ctx context.Context, limit int) (delivery.BatchStats, error)
}

// NewProcessBatchMessage builds the execution message for one delivery batch
// run. The idempotency key pins the message to its minute window so queue
// dedup collapses overlapping schedules.
func NewProcessBatchMessage(limit int, at time.Time) *job.ExecutionMessage {
	if at.IsZero() {
		at = time.Now()
	}
	return &job.ExecutionMessage{
		JobID: JobIDProcessDeliveryBatch,
		Parameters: map[string]any{
			"limit": limit,
		},
		IdempotencyKey: JobIDProcessDeliveryBatch + "::" + at.UTC().Truncate(time.Minute).Format(time.RFC3339),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// NewSweepClaimsMessage builds the execution message for a claim retention
// sweep keyed to its hour window.
func NewSweepClaimsMessage(at time.Time) *job.ExecutionMessage {
	if at.IsZero() {
		at = time.Now()
	}
	return &job.ExecutionMessage{
		JobID:          JobIDSweepClaims,
		Parameters:     map[string]any{},
		IdempotencyKey: JobIDSweepClaims + "::" + at.UTC().Truncate(time.Hour).Format(time.RFC3339),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// Runner executes dequeued gateway jobs against the delivery engine and
// claim sweeper.
type Runner struct {
	Notify   NotifyBatchService
	Sweeper  core.Sweeper
	Observer *core.Observer
}

func NewRunner(notify NotifyBatchService, sweeper core.Sweeper, observer *core.Observer) *Runner {
	return &Runner{Notify: notify, Sweeper: sweeper, Observer: observer}
}

func (r *Runner) Run(ctx context.Context, msg *job.ExecutionMessage) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDProcessDeliveryBatch:
		if r.Notify == nil {
			return fmt.Errorf("gojob: notify service is required")
		}
		stats, err := r.Notify.ProcessBatch(ctx, parameterInt(msg.Parameters, "limit"))
		if err != nil {
			return err
		}
		r.observer().LogInfo(ctx, "delivery batch job finished", map[string]any{
			"job_id":  JobIDProcessDeliveryBatch,
			"claimed": stats.Claimed,
			"sent":    stats.Sent,
			"failed":  stats.Failed,
		})
		return nil
	case JobIDSweepClaims:
		if r.Sweeper == nil {
			return fmt.Errorf("gojob: claim sweeper is required")
		}
		return r.Sweeper.Sweep(ctx)
	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
}

// Consume drains deliveries from the dequeuer until the context ends,
// acking successful runs and requeueing failures with the given delay.
func (r *Runner) Consume(ctx context.Context, dequeuer queue.Dequeuer, retryDelay time.Duration) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgDelivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			return err
		}
		if runErr := r.Run(ctx, msgDelivery.Message()); runErr != nil {
			r.observer().LogError(ctx, "gateway job failed", map[string]any{
				"job_id": jobID(msgDelivery.Message()),
				"error":  runErr.Error(),
			})
			if nackErr := msgDelivery.Nack(ctx, queue.NackOptions{
				Delay:       retryDelay,
				Disposition: queue.NackDispositionRetry,
				Reason:      runErr.Error(),
			}); nackErr != nil {
				return nackErr
			}
			continue
		}
		if ackErr := msgDelivery.Ack(ctx); ackErr != nil {
			return ackErr
		}
	}
}

// Enqueuer schedules gateway jobs onto a go-job queue.
type Enqueuer struct {
	queue queue.Enqueuer
}

func NewEnqueuer(q queue.Enqueuer) *Enqueuer {
	return &Enqueuer{queue: q}
}

func (e *Enqueuer) EnqueueProcessBatch(ctx context.Context, limit int, at time.Time) error {
	if e == nil || e.queue == nil {
		return fmt.Errorf("gojob: queue enqueuer is not configured")
	}
	_, err := e.queue.Enqueue(ctx, NewProcessBatchMessage(limit, at))
	return err
}

func (e *Enqueuer) EnqueueSweepClaims(ctx context.Context, at time.Time) error {
	if e == nil || e.queue == nil {
		return fmt.Errorf("gojob: queue enqueuer is not configured")
	}
	_, err := e.queue.Enqueue(ctx, NewSweepClaimsMessage(at))
	return err
}

func (r *Runner) observer() *core.Observer {
	if r != nil && r.Observer != nil {
		return r.Observer
	}
	return core.NewObserver(nil, nil)
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.JobID)
}

func parameterInt(parameters map[string]any, key string) int {
	if len(parameters) == 0 {
		return 0
	}
	switch value := parameters[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
