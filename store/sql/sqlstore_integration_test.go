package sqlstore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	gatewaymigrations "github.com/goliatone/go-chat-gateway/migrations"
	sqlstore "github.com/goliatone/go-chat-gateway/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-chat-gateway-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:gateway-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = gatewaymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != gatewaymigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, gatewaymigrations.DialectSQLite)
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"gateway_message_claims",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "gateway_message_claims" {
		t.Fatalf("expected gateway_message_claims table, got %q", tableName)
	}
}

func TestMessageClaimStore_ClaimIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	claims := factory.ClaimStore()

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	won, err := claims.Claim(ctx, "wamid.001", at)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !won {
		t.Fatalf("expected first claim to win")
	}

	won, err = claims.Claim(ctx, "wamid.001", at.Add(time.Second))
	if err != nil {
		t.Fatalf("duplicate claim: %v", err)
	}
	if won {
		t.Fatalf("expected duplicate claim to lose")
	}

	if err := claims.Release(ctx, "wamid.001"); err != nil {
		t.Fatalf("release: %v", err)
	}
	won, err = claims.Claim(ctx, "wamid.001", at.Add(2*time.Second))
	if err != nil {
		t.Fatalf("re-claim after release: %v", err)
	}
	if !won {
		t.Fatalf("expected claim to win after release")
	}
}

func TestMessageClaimStore_ConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	claims := factory.ClaimStore()

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, claimErr := claims.Claim(ctx, "wamid.race", at)
			if claimErr != nil {
				t.Errorf("concurrent claim: %v", claimErr)
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

func TestMessageClaimStore_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	claims := factory.ClaimStore()

	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	for id, at := range map[string]time.Time{
		"wamid.old.1": old,
		"wamid.old.2": old.Add(time.Hour),
		"wamid.new.1": recent,
	} {
		if _, err := claims.Claim(ctx, id, at); err != nil {
			t.Fatalf("claim %s: %v", id, err)
		}
	}

	deleted, err := claims.DeleteOlderThan(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted claims, got %d", deleted)
	}

	won, err := claims.Claim(ctx, "wamid.new.1", recent)
	if err != nil {
		t.Fatalf("claim surviving id: %v", err)
	}
	if won {
		t.Fatalf("expected surviving claim to still block duplicates")
	}
}

func TestNotificationStore_ClaimBatchMovesRowsToSending(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.NotificationStore()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	ready := &core.QueuedNotification{
		ID:          "11111111-1111-4111-8111-111111111111",
		RecipientID: "15550001111",
		Channel:     core.NotificationChannelFreeform,
		Payload:     json.RawMessage(`{"text":{"body":"hello"}}`),
		Status:      core.NotificationStatusQueued,
		CreatedAt:   now.Add(-time.Minute),
		UpdatedAt:   now.Add(-time.Minute),
	}
	deferred := &core.QueuedNotification{
		ID:            "22222222-2222-4222-8222-222222222222",
		RecipientID:   "15550002222",
		Channel:       core.NotificationChannelTemplate,
		Payload:       json.RawMessage(`{"name":"order_update","language":{"code":"en"}}`),
		Status:        core.NotificationStatusQueued,
		NextAttemptAt: &future,
		CreatedAt:     now.Add(-2 * time.Minute),
		UpdatedAt:     now.Add(-2 * time.Minute),
	}
	for _, notification := range []*core.QueuedNotification{ready, deferred} {
		if err := store.Insert(ctx, notification); err != nil {
			t.Fatalf("insert %s: %v", notification.ID, err)
		}
	}

	claimed, err := store.ClaimBatch(ctx, 10, now)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 ready notification, got %d", len(claimed))
	}
	if claimed[0].ID != ready.ID {
		t.Fatalf("expected ready notification %s, got %s", ready.ID, claimed[0].ID)
	}
	if claimed[0].Status != core.NotificationStatusSending {
		t.Fatalf("expected sending status, got %q", claimed[0].Status)
	}

	again, err := store.ClaimBatch(ctx, 10, now)
	if err != nil {
		t.Fatalf("second claim batch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no rows on second claim, got %d", len(again))
	}
}

func TestNotificationStore_ClaimBatchReclaimsStaleSending(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.NotificationStore()
	store.StaleSendingAfter = 10 * time.Minute

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	notification := &core.QueuedNotification{
		ID:          "44444444-4444-4444-8444-444444444444",
		RecipientID: "15550005555",
		Channel:     core.NotificationChannelFreeform,
		Payload:     json.RawMessage(`{"text":{"body":"hello"}}`),
		Status:      core.NotificationStatusQueued,
		CreatedAt:   now.Add(-time.Minute),
		UpdatedAt:   now.Add(-time.Minute),
	}
	if err := store.Insert(ctx, notification); err != nil {
		t.Fatalf("insert: %v", err)
	}

	claimed, err := store.ClaimBatch(ctx, 10, now)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed notification, got %d", len(claimed))
	}

	// Worker dies here: no Update writeback. Inside the lease the row stays
	// invisible.
	held, err := store.ClaimBatch(ctx, 10, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("claim batch within lease: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("expected lease to hold, got %d rows", len(held))
	}

	reclaimed, err := store.ClaimBatch(ctx, 10, now.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("claim batch after lease: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected stale sending row reclaimed, got %d rows", len(reclaimed))
	}
	if reclaimed[0].ID != notification.ID {
		t.Fatalf("expected %s reclaimed, got %s", notification.ID, reclaimed[0].ID)
	}
	if reclaimed[0].Status != core.NotificationStatusSending {
		t.Fatalf("expected sending status, got %q", reclaimed[0].Status)
	}
}

func TestNotificationStore_UpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.NotificationStore()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	notification := &core.QueuedNotification{
		ID:          "33333333-3333-4333-8333-333333333333",
		RecipientID: "15550003333",
		Channel:     core.NotificationChannelFreeform,
		Payload:     json.RawMessage(`{"text":{"body":"hi"}}`),
		Status:      core.NotificationStatusQueued,
		Metadata:    map[string]any{"correlation_id": "corr-1"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Insert(ctx, notification); err != nil {
		t.Fatalf("insert: %v", err)
	}

	next := now.Add(30 * time.Second)
	notification.Status = core.NotificationStatusQueued
	notification.RetryCount = 1
	notification.NextAttemptAt = &next
	notification.ErrorMessage = "provider timeout"
	notification.UpdatedAt = now.Add(time.Second)
	if err := store.Update(ctx, notification); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.GetByID(ctx, notification.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if loaded.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", loaded.RetryCount)
	}
	if loaded.NextAttemptAt == nil || !loaded.NextAttemptAt.Equal(next) {
		t.Fatalf("expected next attempt %v, got %v", next, loaded.NextAttemptAt)
	}
	if loaded.ErrorMessage != "provider timeout" {
		t.Fatalf("expected error message, got %q", loaded.ErrorMessage)
	}

	if _, err := store.GetByID(ctx, "99999999-9999-4999-8999-999999999999"); !errors.Is(err, core.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestContactPreferenceStore_GetOrCreateInsertsDefaults(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.PreferenceStore()

	defaults := core.ContactPreference{
		QuietHoursStart: "21:00",
		QuietHoursEnd:   "07:00",
		Timezone:        "America/New_York",
		UpdatedAt:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	created, err := store.GetOrCreate(ctx, "15550004444", defaults)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if created.QuietHoursStart != "21:00" || created.QuietHoursEnd != "07:00" {
		t.Fatalf("expected default quiet hours, got %q-%q", created.QuietHoursStart, created.QuietHoursEnd)
	}

	if err := store.Upsert(ctx, core.ContactPreference{
		ContactID:       "15550004444",
		OptedOut:        true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "06:00",
		Timezone:        "America/New_York",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := store.GetOrCreate(ctx, "15550004444", defaults)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !loaded.OptedOut {
		t.Fatalf("expected opt-out to persist")
	}
	if loaded.QuietHoursStart != "22:00" {
		t.Fatalf("expected upserted quiet start, got %q", loaded.QuietHoursStart)
	}
}

func TestWindowCounterStore_IncrementWithinWindow(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	counters := factory.CounterStore()

	now := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		count, err := counters.IncrementWindow(ctx, "ingress::203.0.113.9", time.Minute, now)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	nextWindow := now.Add(time.Minute)
	count, err := counters.IncrementWindow(ctx, "ingress::203.0.113.9", time.Minute, nextWindow)
	if err != nil {
		t.Fatalf("increment in new window: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window to start at 1, got %d", count)
	}
}

func TestAuditEventStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	audit := factory.AuditStore()

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	events := []string{"NOTIFY_QUEUE", "NOTIFY_SEND_OK"}
	for i, event := range events {
		if err := audit.Record(ctx, core.AuditEntry{
			Event:          event,
			NotificationID: "33333333-3333-4333-8333-333333333333",
			RecipientID:    "15550003333",
			At:             at.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("record %s: %v", event, err)
		}
	}

	trail, err := audit.ListByNotification(ctx, "33333333-3333-4333-8333-333333333333")
	if err != nil {
		t.Fatalf("list trail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(trail))
	}
	if trail[0].Event != "NOTIFY_QUEUE" || trail[1].Event != "NOTIFY_SEND_OK" {
		t.Fatalf("expected chronological trail, got %q then %q", trail[0].Event, trail[1].Event)
	}
}
