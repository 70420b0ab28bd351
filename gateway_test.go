package chatgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
)

type testClaimStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func newTestClaimStore() *testClaimStore {
	return &testClaimStore{claims: map[string]time.Time{}}
}

func (s *testClaimStore) Claim(_ context.Context, messageID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.claims[messageID]; exists {
		return false, nil
	}
	s.claims[messageID] = at
	return true, nil
}

func (s *testClaimStore) Release(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, messageID)
	return nil
}

func (s *testClaimStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, at := range s.claims {
		if at.Before(cutoff) {
			delete(s.claims, id)
			deleted++
		}
	}
	return deleted, nil
}

type testHandler struct {
	mu      sync.Mutex
	handled []core.InboundMessage
}

func (h *testHandler) Handle(_ context.Context, message core.InboundMessage, _ core.MessageContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, message)
	return nil
}

func (h *testHandler) handledIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.handled))
	for _, message := range h.handled {
		ids = append(ids, message.ID)
	}
	return ids
}

type failingHealth struct{}

func (failingHealth) Ping(context.Context) error { return errors.New("connection refused") }

func gatewayConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.RecipientID = "1000"
	cfg.Webhook.VerifyToken = "verify-token"
	cfg.Webhook.AppSecret = "app-secret"
	return cfg
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestNewRequiresHandlerAndClaims(t *testing.T) {
	if _, err := New(gatewayConfig()); err == nil {
		t.Fatal("expected missing message handler to fail")
	}
	if _, err := New(gatewayConfig(), WithMessageHandler(&testHandler{})); err == nil {
		t.Fatal("expected missing claim store to fail")
	}
}

func TestNewSurfacesPersistenceClientError(t *testing.T) {
	_, err := New(gatewayConfig(),
		WithMessageHandler(&testHandler{}),
		WithClaimStore(newTestClaimStore()),
		WithPersistenceClient(struct{}{}),
	)
	if err == nil {
		t.Fatal("expected the store build failure to surface")
	}
	if !strings.Contains(err.Error(), "build sql stores") {
		t.Fatalf("err = %v, want the build failure wrapped", err)
	}
}

func TestClaimStoreConcurrentClaimSingleWinner(t *testing.T) {
	claims := newTestClaimStore()
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := claims.Claim(context.Background(), "msg-race", at)
			if err != nil {
				t.Errorf("concurrent claim: %v", err)
				return
			}
			results <- won
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := gatewayConfig()
	cfg.Routing.Mode = "half-open"
	_, err := New(cfg, WithMessageHandler(&testHandler{}), WithClaimStore(newTestClaimStore()))
	if err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func TestNewAssemblesComponents(t *testing.T) {
	gateway, err := New(gatewayConfig(),
		WithMessageHandler(&testHandler{}),
		WithClaimStore(newTestClaimStore()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gateway.Handler() == nil {
		t.Fatal("expected an http handler")
	}
	if gateway.Dispatcher() == nil {
		t.Fatal("expected a dispatcher")
	}
	if gateway.Sweeper() == nil {
		t.Fatal("expected a sweeper")
	}
	// No notification store, so the delivery path stays off.
	if gateway.Engine() != nil {
		t.Fatal("engine must be nil without a notification store")
	}
	if _, err := gateway.Commands(); err == nil {
		t.Fatal("commands require the delivery engine")
	}
}

func TestGatewayWebhookRoundTrip(t *testing.T) {
	handler := &testHandler{}
	claims := newTestClaimStore()
	gateway, err := New(gatewayConfig(),
		WithMessageHandler(handler),
		WithClaimStore(claims),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e", "changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "1000"},
			"messages": [{"id": "msg-1", "from": "15550100777", "type": "text", "text": {"body": "hi"}}]
		}}]}]
	}`)
	request := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	request.Header.Set("X-Hub-Signature-256", signPayload("app-secret", body))
	recorder := httptest.NewRecorder()
	gateway.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := handler.handledIDs(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("handled = %v", got)
	}
	if _, exists := claims.claims["msg-1"]; !exists {
		t.Fatal("expected the message id claimed")
	}

	// The same delivery again is acknowledged but not re-handled.
	request = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	request.Header.Set("X-Hub-Signature-256", signPayload("app-secret", body))
	recorder = httptest.NewRecorder()
	gateway.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", recorder.Code)
	}
	if got := handler.handledIDs(); len(got) != 1 {
		t.Fatalf("handled = %v, want the duplicate skipped", got)
	}
}

func TestGatewayChallengeVerification(t *testing.T) {
	gateway, err := New(gatewayConfig(),
		WithMessageHandler(&testHandler{}),
		WithClaimStore(newTestClaimStore()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=777", nil)
	recorder := httptest.NewRecorder()
	gateway.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK || recorder.Body.String() != "777" {
		t.Fatalf("challenge response = %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestHealthSummary(t *testing.T) {
	gateway, err := New(gatewayConfig(),
		WithMessageHandler(&testHandler{}),
		WithClaimStore(newTestClaimStore()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary := gateway.HealthSummary(context.Background())
	if summary["status"] != "ok" || summary["service"] != "chat-gateway" {
		t.Fatalf("summary = %v", summary)
	}
	if summary["delivery"] != false {
		t.Fatalf("delivery = %v, want false without a notification store", summary["delivery"])
	}

	degraded, err := New(gatewayConfig(),
		WithMessageHandler(&testHandler{}),
		WithClaimStore(newTestClaimStore()),
		WithHealthChecker(failingHealth{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary = degraded.HealthSummary(context.Background())
	if summary["status"] != "degraded" || summary["store_error"] == nil {
		t.Fatalf("summary = %v", summary)
	}
}

type testNotificationStore struct {
	mu       sync.Mutex
	inserted []*core.QueuedNotification
}

func (s *testNotificationStore) Insert(_ context.Context, notification *core.QueuedNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, notification)
	return nil
}

func (s *testNotificationStore) GetByID(context.Context, string) (*core.QueuedNotification, error) {
	return nil, core.ErrNotificationNotFound
}

func (s *testNotificationStore) ClaimBatch(context.Context, int, time.Time) ([]*core.QueuedNotification, error) {
	return nil, nil
}

func (s *testNotificationStore) Update(context.Context, *core.QueuedNotification) error {
	return nil
}

type testProvider struct{}

func (testProvider) Send(context.Context, *core.QueuedNotification) (core.ProviderReceipt, error) {
	return core.ProviderReceipt{ProviderMessageID: "wamid.test"}, nil
}

func TestGatewayDeliveryPathActivates(t *testing.T) {
	store := &testNotificationStore{}
	gateway, err := New(gatewayConfig(),
		WithMessageHandler(&testHandler{}),
		WithClaimStore(newTestClaimStore()),
		WithNotificationStore(store),
		WithDeliveryProvider(testProvider{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gateway.Engine() == nil {
		t.Fatal("expected the delivery engine")
	}

	commands, err := gateway.Commands()
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	if commands.EnqueueNotification == nil || commands.ProcessDeliveryBatch == nil || commands.SweepClaims == nil {
		t.Fatalf("commands = %+v", commands)
	}
	if commands.UpsertPreference != nil {
		t.Fatal("preference command requires the sql store set")
	}

	notification, err := gateway.Engine().Enqueue(
		context.Background(),
		"15550100001",
		core.NotificationChannelFreeform,
		json.RawMessage(`{"type":"text","text":{"body":"hello"}}`),
		nil,
	)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if notification.Status != core.NotificationStatusQueued {
		t.Fatalf("status = %s", notification.Status)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d", len(store.inserted))
	}
}
