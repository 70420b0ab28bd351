package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/transport"
)

const defaultForwardTimeout = 4 * time.Second

// Forwarder relays admitted webhook envelopes to downstream chat services
// over HTTP, one endpoint per service name.
type Forwarder struct {
	Adapter *transport.RESTAdapter
	BaseURL string
	Timeout time.Duration
}

func NewForwarder(adapter *transport.RESTAdapter, cfg core.RoutingConfig) *Forwarder {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return &Forwarder{
		Adapter: adapter,
		BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Timeout: cfg.ForwardTimeout,
	}
}

func (f *Forwarder) Forward(
	ctx context.Context,
	decision core.RoutingDecision,
	envelope json.RawMessage,
	headers map[string]string,
) (*core.ForwardResult, error) {
	if f == nil || f.Adapter == nil {
		return nil, fmt.Errorf("whatsapp: forwarder is not configured")
	}
	service := strings.TrimSpace(decision.Service)
	if service == "" {
		return nil, fmt.Errorf("whatsapp: routing decision has no service")
	}
	if f.BaseURL == "" {
		return nil, fmt.Errorf("whatsapp: forwarder base url is required")
	}

	merged := map[string]string{"Content-Type": "application/json"}
	for key, value := range headers {
		merged[key] = value
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	res, err := f.Adapter.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     f.BaseURL + "/" + service,
		Headers: merged,
		Body:    envelope,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return &core.ForwardResult{
		StatusCode: res.StatusCode,
		Body:       res.Body,
		Header:     res.Headers,
	}, nil
}

var _ core.RouteForwarder = (*Forwarder)(nil)
