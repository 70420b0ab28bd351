package admission

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	goerrors "github.com/goliatone/go-errors"
)

// BatchDispatcher consumes an admitted batch. A non-nil ForwardResult is an
// active-mode routed response that must be relayed to the provider as-is.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, batch core.MessageBatch) (*core.ForwardResult, error)
}

// Handler is the HTTP surface for the webhook endpoint: GET runs challenge
// verification, POST runs admission and dispatch, anything else is 405.
type Handler struct {
	Pipeline   *Pipeline
	Dispatcher BatchDispatcher
	Observer   *core.Observer
	Now        func() time.Time
}

func NewHandler(pipeline *Pipeline, dispatcher BatchDispatcher, observer *core.Observer) *Handler {
	return &Handler{
		Pipeline:   pipeline,
		Dispatcher: dispatcher,
		Observer:   observer,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Pipeline == nil {
		http.Error(w, "internal_error", http.StatusInternalServerError)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.serveChallenge(w, r)
	case http.MethodPost:
		h.serveDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method_not_allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveChallenge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	challenge, err := h.Pipeline.VerifyChallenge(
		r.Context(),
		query.Get("hub.mode"),
		query.Get("hub.verify_token"),
		query.Get("hub.challenge"),
		r.URL.RawQuery,
	)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (h *Handler) serveDelivery(w http.ResponseWriter, r *http.Request) {
	startedAt := h.now()
	ctx := r.Context()

	batch, err := h.Pipeline.Admit(ctx, AdmitRequest{
		Body:            r.Body,
		ContentLength:   r.ContentLength,
		ClientKey:       clientKey(r),
		SignatureHeader: r.Header.Get("X-Hub-Signature-256"),
		BypassToken:     r.Header.Get("X-Webhook-Bypass-Token"),
		RemoteAddr:      r.RemoteAddr,
	})
	if err != nil {
		h.writeAdmissionError(w, err)
		return
	}

	w.Header().Set("X-Correlation-ID", batch.CorrelationID)
	var forward *core.ForwardResult
	if h.Dispatcher != nil {
		forward, err = h.Dispatcher.DispatchBatch(ctx, batch)
	}
	h.observer().Histogram(ctx, "gateway.webhook_request.duration_ms", float64(time.Since(startedAt).Milliseconds()), map[string]string{
		"outcome": outcomeTag(err),
	})
	if err != nil {
		mapped := core.GatewayErrorMapper(err)
		http.Error(w, mapped.TextCode, mapped.Code)
		return
	}
	if forward != nil {
		for key, value := range forward.Header {
			w.Header().Set(key, value)
		}
		status := forward.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(forward.Body)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeAdmissionError maps the admission envelope to the compact response
// bodies the provider's retry policy keys off.
func (h *Handler) writeAdmissionError(w http.ResponseWriter, err error) {
	mapped := core.GatewayErrorMapper(err)
	body := "error"
	switch mapped.Code {
	case http.StatusRequestEntityTooLarge:
		body = "payload_too_large"
	case http.StatusTooManyRequests:
		body = "too_many_requests"
	case http.StatusUnauthorized:
		body = "sig"
	case http.StatusBadRequest:
		body = "bad_json"
	case http.StatusForbidden:
		body = "forbidden"
	}
	http.Error(w, body, mapped.Code)
}

func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

func outcomeTag(err error) string {
	if err == nil {
		return "success"
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return "failure"
}

func (h *Handler) observer() *core.Observer {
	if h != nil && h.Observer != nil {
		return h.Observer
	}
	return core.NewObserver(nil, nil)
}

func (h *Handler) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}
