// Package chatgateway assembles the webhook admission pipeline, the message
// dispatcher, and the notification delivery engine into one configured
// gateway.
package chatgateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-chat-gateway/admission"
	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/delivery"
	"github.com/goliatone/go-chat-gateway/dispatch"
	whatsapp "github.com/goliatone/go-chat-gateway/providers/whatsapp"
	"github.com/goliatone/go-chat-gateway/ratelimit"
	sqlstore "github.com/goliatone/go-chat-gateway/store/sql"
	"github.com/goliatone/go-chat-gateway/transport"
	glog "github.com/goliatone/go-logger/glog"
)

// Gateway is the assembled service: admission, dispatch, and delivery wired
// over shared stores and telemetry.
type Gateway struct {
	cfg      core.Config
	observer *core.Observer

	stores        *sqlstore.RepositoryFactory
	claims        core.ClaimStore
	notifications core.NotificationStore
	preferences   core.PreferenceStore
	counters      core.CounterStore
	audit         core.AuditSink
	handler       core.MessageHandler
	resolver      core.ContextResolver
	forwarder     core.RouteForwarder
	provider      core.DeliveryProvider
	health        core.HealthChecker
	httpClient    transport.HTTPDoer
	now           func() time.Time
	initErr       error

	pipeline    *admission.Pipeline
	dispatcher  *dispatch.Dispatcher
	engine      *delivery.Engine
	sweeper     *dispatch.RetentionSweeper
	httpHandler http.Handler
}

type Option func(*Gateway)

func WithLogger(logger core.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.observer = core.NewObserver(logger, g.observer.Metrics)
		}
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(g *Gateway) {
		if metrics != nil {
			g.observer = core.NewObserver(g.observer.Logger, metrics)
		}
	}
}

// WithPersistenceClient builds the SQL store set from a *bun.DB or a
// go-persistence-bun client. A build failure surfaces from New.
func WithPersistenceClient(client any) Option {
	return func(g *Gateway) {
		factory := sqlstore.NewRepositoryFactory()
		if err := factory.BuildStores(client); err != nil {
			g.initErr = fmt.Errorf("chatgateway: build sql stores: %w", err)
			return
		}
		g.stores = factory
	}
}

func WithClaimStore(store core.ClaimStore) Option {
	return func(g *Gateway) { g.claims = store }
}

func WithNotificationStore(store core.NotificationStore) Option {
	return func(g *Gateway) { g.notifications = store }
}

func WithPreferenceStore(store core.PreferenceStore) Option {
	return func(g *Gateway) { g.preferences = store }
}

func WithCounterStore(store core.CounterStore) Option {
	return func(g *Gateway) { g.counters = store }
}

func WithAuditSink(sink core.AuditSink) Option {
	return func(g *Gateway) { g.audit = sink }
}

func WithMessageHandler(handler core.MessageHandler) Option {
	return func(g *Gateway) { g.handler = handler }
}

func WithContextResolver(resolver core.ContextResolver) Option {
	return func(g *Gateway) { g.resolver = resolver }
}

func WithRouteForwarder(forwarder core.RouteForwarder) Option {
	return func(g *Gateway) { g.forwarder = forwarder }
}

func WithDeliveryProvider(provider core.DeliveryProvider) Option {
	return func(g *Gateway) { g.provider = provider }
}

func WithHealthChecker(checker core.HealthChecker) Option {
	return func(g *Gateway) { g.health = checker }
}

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(g *Gateway) { g.httpClient = client }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New assembles a gateway from the configuration and options. A message
// handler and a claim store (direct or via persistence) are required; the
// delivery path activates when a notification store and provider are
// available.
func New(cfg core.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	_, logger := glog.Resolve("chat-gateway", nil, nil)
	g := &Gateway{
		cfg:      cfg,
		observer: core.NewObserver(logger, nil),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}

	if g.initErr != nil {
		return nil, g.initErr
	}

	g.adoptStores()
	if g.handler == nil {
		return nil, fmt.Errorf("chatgateway: message handler is required")
	}
	if g.claims == nil {
		return nil, fmt.Errorf("chatgateway: claim store is required")
	}
	if g.counters == nil {
		g.counters = ratelimit.NewMemoryCounterStore()
	}

	g.buildProviders()
	g.buildDelivery()
	g.buildDispatch()
	g.buildAdmission()

	return g, nil
}

// adoptStores fills any store slot the options left empty from the SQL
// factory, when one was configured.
func (g *Gateway) adoptStores() {
	if g.stores == nil {
		return
	}
	if store := g.stores.NotificationStore(); store != nil && g.cfg.Delivery.SendingStaleAfter > 0 {
		store.StaleSendingAfter = g.cfg.Delivery.SendingStaleAfter
	}
	if g.claims == nil {
		g.claims = g.stores.ClaimStore()
	}
	if g.notifications == nil {
		g.notifications = g.stores.NotificationStore()
	}
	if g.preferences == nil {
		g.preferences = g.stores.PreferenceStore()
	}
	if g.counters == nil {
		g.counters = g.stores.CounterStore()
	}
	if g.audit == nil {
		g.audit = g.stores.AuditStore()
	}
	if g.health == nil {
		g.health = g.stores
	}
}

func (g *Gateway) buildProviders() {
	adapter := transport.NewRESTAdapter(g.httpClient)
	if g.provider == nil && g.cfg.Provider.BaseURL != "" {
		g.provider = whatsapp.NewClient(adapter, g.cfg.Provider)
	}
	if g.forwarder == nil && g.cfg.Routing.BaseURL != "" {
		g.forwarder = whatsapp.NewForwarder(adapter, g.cfg.Routing)
	}
}

func (g *Gateway) buildDelivery() {
	if g.notifications == nil {
		return
	}
	engine := delivery.NewEngine(g.notifications, g.preferences, g.provider, g.cfg.Delivery)
	engine.Counters = g.counters
	engine.Audit = g.audit
	engine.Observer = g.observer
	engine.Now = g.now
	g.engine = engine
}

func (g *Gateway) buildDispatch() {
	g.sweeper = dispatch.NewRetentionSweeper(g.claims, g.cfg.Dispatch.ClaimTTL, g.cfg.Dispatch.SweepMinInterval)
	g.sweeper.Observer = g.observer
	g.sweeper.Now = g.now

	dispatcher := dispatch.NewDispatcher(g.claims, g.resolver, g.handler)
	dispatcher.Router = &dispatch.Router{Config: g.cfg.Routing}
	dispatcher.Forwarder = g.forwarder
	dispatcher.Sweeper = g.sweeper
	dispatcher.Observer = g.observer
	dispatcher.Mode = g.cfg.RoutingModeValue()
	dispatcher.HandlerTimeout = g.cfg.Dispatch.HandlerTimeout
	dispatcher.ForwardTimeout = g.cfg.Routing.ForwardTimeout
	dispatcher.Now = g.now
	if g.engine != nil {
		dispatcher.Notices = g.engine
	}
	g.dispatcher = dispatcher
}

func (g *Gateway) buildAdmission() {
	limiter := ratelimit.NewFixedWindowLimiter(g.cfg.Ingress.Requests, g.cfg.Ingress.Window, g.counters)
	limiter.Logger = g.observer.Logger
	limiter.Now = g.now

	g.pipeline = admission.NewPipeline(g.cfg, limiter, g.observer)
	g.pipeline.Now = g.now

	handler := admission.NewHandler(g.pipeline, g.dispatcher, g.observer)
	handler.Now = g.now
	g.httpHandler = handler
}

// Handler returns the webhook HTTP handler (GET verification, POST delivery).
func (g *Gateway) Handler() http.Handler {
	if g == nil {
		return nil
	}
	return g.httpHandler
}

func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	if g == nil {
		return nil
	}
	return g.dispatcher
}

// Engine returns the delivery engine, or nil when no notification store was
// configured.
func (g *Gateway) Engine() *delivery.Engine {
	if g == nil {
		return nil
	}
	return g.engine
}

func (g *Gateway) Sweeper() *dispatch.RetentionSweeper {
	if g == nil {
		return nil
	}
	return g.sweeper
}

func (g *Gateway) Stores() *sqlstore.RepositoryFactory {
	if g == nil {
		return nil
	}
	return g.stores
}

func (g *Gateway) Config() core.Config {
	if g == nil {
		return core.Config{}
	}
	return g.cfg
}

// HealthSummary reports component wiring and backing-store reachability.
func (g *Gateway) HealthSummary(ctx context.Context) map[string]any {
	summary := map[string]any{
		"service":     g.cfg.ServiceName,
		"environment": g.cfg.Environment,
		"routing":     string(g.cfg.RoutingModeValue()),
		"delivery":    g.engine != nil,
		"forwarder":   g.forwarder != nil,
		"status":      "ok",
	}
	if g.health != nil {
		if err := g.health.Ping(ctx); err != nil {
			summary["status"] = "degraded"
			summary["store_error"] = err.Error()
		}
	}
	return summary
}
