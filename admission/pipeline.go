package admission

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/ratelimit"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Pipeline runs the delivery-path admission checks in order: size, rate,
// signature, parse, recipient filtering, normalization. Fields follow the
// config snapshot taken at construction; the pipeline itself is safe for
// concurrent use.
type Pipeline struct {
	Config   core.Config
	Limiter  *ratelimit.FixedWindowLimiter
	Observer *core.Observer
	Now      func() time.Time

	challengeMu    sync.Mutex
	challengeCache map[string]cachedChallenge
}

type cachedChallenge struct {
	challenge string
	expiresAt time.Time
}

func NewPipeline(cfg core.Config, limiter *ratelimit.FixedWindowLimiter, observer *core.Observer) *Pipeline {
	return &Pipeline{
		Config:   cfg,
		Limiter:  limiter,
		Observer: observer,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// VerifyChallenge handles the provider's subscription handshake. The
// challenge is returned only when the mode is "subscribe" and the token
// matches the configured secret; identical query strings are answered from a
// short-lived cache.
func (p *Pipeline) VerifyChallenge(ctx context.Context, mode, token, challenge, rawQuery string) (string, error) {
	if p == nil {
		return "", verifyForbidden()
	}
	now := p.now()

	if cached, ok := p.cachedChallenge(rawQuery, now); ok {
		p.observer().Counter(ctx, "gateway.webhook_verify.cache_hits", 1, nil)
		return cached, nil
	}

	configured := strings.TrimSpace(p.Config.Webhook.VerifyToken)
	if strings.TrimSpace(mode) != "subscribe" || configured == "" || strings.TrimSpace(token) != configured {
		p.observer().Counter(ctx, "gateway.webhook_verify.rejected", 1, nil)
		return "", verifyForbidden()
	}
	challenge = strings.TrimSpace(challenge)
	p.storeChallenge(rawQuery, challenge, now)
	p.observer().LogInfo(ctx, "webhook verification accepted", map[string]any{"mode": mode})
	return challenge, nil
}

func (p *Pipeline) cachedChallenge(rawQuery string, now time.Time) (string, bool) {
	rawQuery = strings.TrimSpace(rawQuery)
	if rawQuery == "" || p.Config.Webhook.ChallengeCacheTTL <= 0 {
		return "", false
	}
	p.challengeMu.Lock()
	defer p.challengeMu.Unlock()
	entry, ok := p.challengeCache[rawQuery]
	if !ok || now.After(entry.expiresAt) {
		delete(p.challengeCache, rawQuery)
		return "", false
	}
	return entry.challenge, true
}

func (p *Pipeline) storeChallenge(rawQuery, challenge string, now time.Time) {
	rawQuery = strings.TrimSpace(rawQuery)
	ttl := p.Config.Webhook.ChallengeCacheTTL
	if rawQuery == "" || ttl <= 0 {
		return
	}
	p.challengeMu.Lock()
	defer p.challengeMu.Unlock()
	if p.challengeCache == nil {
		p.challengeCache = map[string]cachedChallenge{}
	}
	for key, entry := range p.challengeCache {
		if now.After(entry.expiresAt) {
			delete(p.challengeCache, key)
		}
	}
	p.challengeCache[rawQuery] = cachedChallenge{challenge: challenge, expiresAt: now.Add(ttl)}
}

// AdmitRequest is one delivery-path request before admission.
type AdmitRequest struct {
	Body            io.Reader
	ContentLength   int64
	ClientKey       string
	SignatureHeader string
	BypassToken     string
	RemoteAddr      string
}

// Admit applies the admission checks and returns the normalized batch. The
// error, when non-nil, is a goerrors envelope whose Code is the HTTP status
// the surface must answer with; no check before normalization has side
// effects beyond logging and counters.
func (p *Pipeline) Admit(ctx context.Context, req AdmitRequest) (core.MessageBatch, error) {
	if p == nil {
		return core.MessageBatch{}, admissionError(
			"admission: pipeline is nil",
			goerrors.CategoryInternal,
			500,
			core.GatewayErrorInternal,
			nil,
		)
	}
	startedAt := p.now()
	correlationID := uuid.NewString()
	fields := map[string]any{"correlation_id": correlationID, "client_key": strings.TrimSpace(req.ClientKey)}

	body, err := p.readBody(req)
	if err != nil {
		p.observer().Counter(ctx, "gateway.admission.rejected_size", 1, nil)
		p.observer().ObserveOperation(ctx, startedAt, "webhook_admission", err, fields)
		return core.MessageBatch{}, err
	}

	if p.Limiter != nil {
		if err := p.Limiter.Allow(ctx, req.ClientKey); err != nil {
			p.observer().Counter(ctx, "gateway.admission.rejected_rate", 1, nil)
			var limited ratelimit.LimitExceededError
			if goerrors.As(err, &limited) {
				err = limited.ToGatewayError()
			}
			p.observer().ObserveOperation(ctx, startedAt, "webhook_admission", err, fields)
			return core.MessageBatch{}, err
		}
	}

	if err := p.verifyAuthenticity(ctx, body, req, fields); err != nil {
		p.observer().Counter(ctx, "gateway.admission.rejected_signature", 1, nil)
		p.observer().ObserveOperation(ctx, startedAt, "webhook_admission", err, fields)
		return core.MessageBatch{}, err
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		wrapped := badJSON(err)
		p.observer().Counter(ctx, "gateway.admission.rejected_json", 1, nil)
		p.observer().ObserveOperation(ctx, startedAt, "webhook_admission", wrapped, fields)
		return core.MessageBatch{}, wrapped
	}

	batch := Normalize(envelope, body, p.Config.RecipientID, p.now())
	batch.CorrelationID = correlationID

	fields["changes_total"] = batch.Counts.ChangesTotal
	fields["changes_filtered"] = batch.Counts.ChangesFiltered
	fields["messages_ignored"] = batch.Counts.MessagesIgnored
	fields["duplicates"] = batch.Counts.Duplicates
	fields["accepted"] = batch.Counts.Accepted
	p.observer().Counter(ctx, "gateway.admission.messages_accepted", int64(batch.Counts.Accepted), nil)
	p.observer().Counter(ctx, "gateway.admission.messages_duplicate", int64(batch.Counts.Duplicates), nil)
	p.observer().Counter(ctx, "gateway.admission.messages_ignored", int64(batch.Counts.MessagesIgnored), nil)
	p.observer().ObserveOperation(ctx, startedAt, "webhook_admission", nil, fields)
	return batch, nil
}

// readBody enforces the byte ceiling both on the declared length and on the
// body as read, so a streaming body cannot lie about its size.
func (p *Pipeline) readBody(req AdmitRequest) ([]byte, error) {
	limit := p.Config.Webhook.MaxBodyBytes
	if limit <= 0 {
		limit = 512 * 1024
	}
	if req.ContentLength > limit {
		return nil, payloadTooLarge(limit)
	}
	if req.Body == nil {
		return nil, badJSON(nil)
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, admissionWrapError(
			err,
			goerrors.CategoryBadInput,
			"admission: read request body",
			400,
			core.GatewayErrorBadInput,
			nil,
		)
	}
	if int64(len(body)) > limit {
		return nil, payloadTooLarge(limit)
	}
	return body, nil
}

func (p *Pipeline) verifyAuthenticity(ctx context.Context, body []byte, req AdmitRequest, fields map[string]any) error {
	if VerifySignature(p.Config.Webhook.AppSecret, body, req.SignatureHeader) {
		return nil
	}
	if p.Config.SignatureBypassAllowed() {
		gate := BypassGate{
			Enabled:  true,
			Token:    p.Config.Webhook.UnsignedToken,
			AllowIPs: p.Config.Webhook.UnsignedAllowIPs,
		}
		if ok, reason := gate.Evaluate(BypassRequest{Token: req.BypassToken, RemoteAddr: req.RemoteAddr}); ok {
			logged := map[string]any{"reason": reason}
			for key, value := range fields {
				logged[key] = value
			}
			p.observer().LogWarn(ctx, "signature verification skipped", logged)
			p.observer().Counter(ctx, "gateway.admission.signature_bypassed", 1, nil)
			return nil
		}
	}
	if strings.TrimSpace(req.SignatureHeader) == "" {
		return signatureInvalid("missing signature header")
	}
	return signatureInvalid("digest mismatch")
}

func (p *Pipeline) observer() *core.Observer {
	if p != nil && p.Observer != nil {
		return p.Observer
	}
	return core.NewObserver(nil, nil)
}

func (p *Pipeline) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
