package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/identity"
	goerrors "github.com/goliatone/go-errors"
)

const fallbackNoticeText = "Something went wrong. Please try again."

// Dispatcher processes one admitted batch: claim, context build, optional
// forward, timeout-bounded in-process handling, telemetry, and the
// opportunistic retention sweep.
type Dispatcher struct {
	Claims         core.ClaimStore
	Resolver       core.ContextResolver
	Handler        core.MessageHandler
	Router         *Router
	Forwarder      core.RouteForwarder
	Notices        core.Enqueuer
	Sweeper        core.Sweeper
	Observer       *core.Observer
	Mode           core.RoutingMode
	HandlerTimeout time.Duration
	ForwardTimeout time.Duration
	Now            func() time.Time
}

func NewDispatcher(claims core.ClaimStore, resolver core.ContextResolver, handler core.MessageHandler) *Dispatcher {
	return &Dispatcher{
		Claims:         claims,
		Resolver:       resolver,
		Handler:        handler,
		Mode:           core.RoutingModeDisabled,
		HandlerTimeout: 25 * time.Second,
		ForwardTimeout: 4 * time.Second,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

type batchSummary struct {
	claimed    int
	duplicates int
	skipped    int
	forwarded  int
	succeeded  int
	timeouts   int
}

// DispatchBatch handles every message in the batch. A non-nil ForwardResult
// is an active-mode response that must be relayed to the provider as-is. A
// handler error aborts the batch and propagates; a handler timeout releases
// the claim, notifies the sender, and moves on.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch core.MessageBatch) (*core.ForwardResult, error) {
	if d == nil || d.Claims == nil || d.Handler == nil {
		return nil, fmt.Errorf("dispatch: dispatcher requires claim store and handler")
	}
	startedAt := d.now()
	summary := batchSummary{}
	var activeResult *core.ForwardResult

	defer func() {
		d.emitSummary(ctx, startedAt, batch, summary)
		d.triggerSweep(ctx)
	}()

	for _, message := range batch.Messages {
		claimed, err := d.Claims.Claim(ctx, message.ID, d.now())
		if err != nil {
			return activeResult, dispatchInternal("dispatch: claim message", err, message.ID)
		}
		if !claimed {
			summary.duplicates++
			d.observer().Counter(ctx, "gateway.dispatch.duplicates", 1, nil)
			d.observer().LogInfo(ctx, "message already claimed, skipping", map[string]any{
				"correlation_id": batch.CorrelationID,
				"message_id":     message.ID,
				"from":           identity.MaskPhone(message.From),
				"outcome":        "duplicate",
			})
			continue
		}
		summary.claimed++

		msgCtx, err := d.resolveContext(ctx, batch, message)
		if err != nil || msgCtx == nil {
			summary.skipped++
			fields := map[string]any{
				"correlation_id": batch.CorrelationID,
				"message_id":     message.ID,
				"from":           identity.MaskPhone(message.From),
				"outcome":        "skipped",
			}
			if err != nil {
				fields["error"] = err.Error()
				d.observer().LogError(ctx, "message context build failed, skipping", fields)
			} else {
				d.observer().LogInfo(ctx, "message context empty, skipping", fields)
			}
			continue
		}

		if forward := d.maybeForward(ctx, batch, message, *msgCtx); forward != nil {
			summary.forwarded++
			if activeResult == nil {
				activeResult = forward
			}
			continue
		}

		outcome, err := d.handleWithTimeout(ctx, batch, message, *msgCtx)
		switch outcome {
		case handleOutcomeTimeout:
			summary.timeouts++
		case handleOutcomeSuccess:
			summary.succeeded++
		case handleOutcomeError:
			return activeResult, err
		}
	}

	return activeResult, nil
}

// resolveContext merges the batch's locale index into the resolver lookup.
func (d *Dispatcher) resolveContext(ctx context.Context, batch core.MessageBatch, message core.InboundMessage) (*core.MessageContext, error) {
	if d.Resolver == nil {
		return &core.MessageContext{ContactID: message.From, Locale: batch.Locales[message.From]}, nil
	}
	return d.Resolver.Resolve(ctx, message, batch.Locales[message.From])
}

// maybeForward applies the routing decision. Shadow mode mirrors the
// envelope without consuming the result; active mode returns the target's
// response, or nil to fall through to in-process handling on error.
func (d *Dispatcher) maybeForward(ctx context.Context, batch core.MessageBatch, message core.InboundMessage, msgCtx core.MessageContext) *core.ForwardResult {
	if d.Mode == core.RoutingModeDisabled || d.Router == nil || d.Forwarder == nil {
		return nil
	}
	if !d.Router.Sampled(d.Mode) {
		return nil
	}
	decision, ok := d.Router.Decide(msgCtx.State, message.Text)
	if !ok {
		return nil
	}

	headers := map[string]string{
		"X-Correlation-ID": batch.CorrelationID,
		"X-Routed-From":    "chat-gateway",
		"X-Routed-Service": decision.Service,
	}

	if d.Mode == core.RoutingModeShadow {
		headers["X-Routing-Mode"] = "shadow"
		envelope := append(json.RawMessage(nil), batch.Envelope...)
		go func() {
			shadowCtx, cancel := context.WithTimeout(context.Background(), d.forwardTimeout())
			defer cancel()
			if _, err := d.Forwarder.Forward(shadowCtx, decision, envelope, headers); err != nil {
				d.observer().LogError(context.Background(), "shadow forward failed", map[string]any{
					"correlation_id": batch.CorrelationID,
					"service":        decision.Service,
					"error":          err.Error(),
				})
			}
		}()
		d.observer().Counter(ctx, "gateway.dispatch.shadow_forwards", 1, map[string]string{"service": decision.Service})
		return nil
	}

	forwardCtx, cancel := context.WithTimeout(ctx, d.forwardTimeout())
	defer cancel()
	result, err := d.Forwarder.Forward(forwardCtx, decision, batch.Envelope, headers)
	if err != nil {
		d.observer().LogError(ctx, "active forward failed, handling in process", map[string]any{
			"correlation_id": batch.CorrelationID,
			"service":        decision.Service,
			"reason":         string(decision.Reason),
			"error":          err.Error(),
		})
		return nil
	}
	d.observer().Counter(ctx, "gateway.dispatch.active_forwards", 1, map[string]string{"service": decision.Service})
	d.observer().LogInfo(ctx, "message routed", map[string]any{
		"correlation_id": batch.CorrelationID,
		"service":        decision.Service,
		"reason":         string(decision.Reason),
		"matched":        decision.Matched,
	})
	return result
}

type handleOutcome int

const (
	handleOutcomeSuccess handleOutcome = iota
	handleOutcomeTimeout
	handleOutcomeError
)

// handleWithTimeout races the handler against the configured timeout. The
// loser keeps running and its result is discarded; a timeout releases the
// claim and sends the fallback notice so the provider retry can reprocess.
func (d *Dispatcher) handleWithTimeout(ctx context.Context, batch core.MessageBatch, message core.InboundMessage, msgCtx core.MessageContext) (handleOutcome, error) {
	startedAt := d.now()
	done := make(chan error, 1)
	go func() {
		done <- d.Handler.Handle(ctx, message, msgCtx)
	}()

	timer := time.NewTimer(d.handlerTimeout())
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			if releaseErr := d.Claims.Release(ctx, message.ID); releaseErr != nil {
				d.observer().LogError(ctx, "claim release failed", map[string]any{
					"message_id": message.ID,
					"error":      releaseErr.Error(),
				})
			}
			d.observer().Counter(ctx, "gateway.dispatch.handler_failures", 1, nil)
			return handleOutcomeError, wrapHandlerError(err, message.ID)
		}
		d.observer().Histogram(ctx, "gateway.dispatch.handler_duration_ms", float64(time.Since(startedAt).Milliseconds()), nil)
		return handleOutcomeSuccess, nil
	case <-timer.C:
		if releaseErr := d.Claims.Release(ctx, message.ID); releaseErr != nil {
			d.observer().LogError(ctx, "claim release failed after timeout", map[string]any{
				"message_id": message.ID,
				"error":      releaseErr.Error(),
			})
		}
		d.sendFallbackNotice(ctx, batch, message)
		d.observer().Counter(ctx, "gateway.dispatch.handler_timeouts", 1, nil)
		d.observer().LogError(ctx, "handler timed out, claim released", map[string]any{
			"correlation_id": batch.CorrelationID,
			"message_id":     message.ID,
			"from":           identity.MaskPhone(message.From),
			"timeout_ms":     d.handlerTimeout().Milliseconds(),
		})
		return handleOutcomeTimeout, nil
	}
}

func (d *Dispatcher) sendFallbackNotice(ctx context.Context, batch core.MessageBatch, message core.InboundMessage) {
	if d.Notices == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"text": map[string]any{"body": fallbackNoticeText},
	})
	if err != nil {
		return
	}
	metadata := map[string]any{
		"correlation_id": batch.CorrelationID,
		"cause":          "handler_timeout",
		// A stalled handler should not leave the user waiting until morning.
		"override_quiet_hours": true,
	}
	if _, err := d.Notices.Enqueue(ctx, message.From, core.NotificationChannelFreeform, payload, metadata); err != nil {
		d.observer().LogError(ctx, "fallback notice enqueue failed", map[string]any{
			"message_id": message.ID,
			"error":      err.Error(),
		})
	}
}

func (d *Dispatcher) emitSummary(ctx context.Context, startedAt time.Time, batch core.MessageBatch, summary batchSummary) {
	fields := map[string]any{
		"correlation_id": batch.CorrelationID,
		"messages":       len(batch.Messages),
		"claimed":        summary.claimed,
		"duplicates":     summary.duplicates,
		"skipped":        summary.skipped,
		"forwarded":      summary.forwarded,
		"succeeded":      summary.succeeded,
		"timeouts":       summary.timeouts,
	}
	d.observer().ObserveOperation(ctx, startedAt, "dispatch_batch", nil, fields)
}

// triggerSweep opportunistically kicks the retention sweep; the sweeper
// coalesces concurrent triggers and enforces its own minimum interval.
func (d *Dispatcher) triggerSweep(ctx context.Context) {
	if d.Sweeper == nil {
		return
	}
	if err := d.Sweeper.Sweep(ctx); err != nil {
		d.observer().LogError(ctx, "retention sweep failed", map[string]any{"error": err.Error()})
	}
}

func wrapHandlerError(err error, messageID string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "dispatch: handler execution failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.GatewayErrorHandlerFailed).
		WithMetadata(map[string]any{"message_id": messageID})
}

func dispatchInternal(message string, err error, messageID string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.GatewayErrorInternal).
		WithMetadata(map[string]any{"message_id": strings.TrimSpace(messageID)})
}

func (d *Dispatcher) observer() *core.Observer {
	if d != nil && d.Observer != nil {
		return d.Observer
	}
	return core.NewObserver(nil, nil)
}

func (d *Dispatcher) handlerTimeout() time.Duration {
	if d != nil && d.HandlerTimeout > 0 {
		return d.HandlerTimeout
	}
	return 25 * time.Second
}

func (d *Dispatcher) forwardTimeout() time.Duration {
	if d != nil && d.ForwardTimeout > 0 {
		return d.ForwardTimeout
	}
	return 4 * time.Second
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
