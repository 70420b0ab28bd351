package sqlstore

import (
	"context"
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds and memoizes the SQL-backed stores from a shared
// bun connection.
type RepositoryFactory struct {
	db *bun.DB

	claimStore        *MessageClaimStore
	notificationStore *NotificationStore
	preferenceStore   *ContactPreferenceStore
	counterStore      *WindowCounterStore
	auditStore        *AuditEventStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.claimStore != nil && f.notificationStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ClaimStore() *MessageClaimStore {
	if f == nil {
		return nil
	}
	return f.claimStore
}

func (f *RepositoryFactory) NotificationStore() *NotificationStore {
	if f == nil {
		return nil
	}
	return f.notificationStore
}

func (f *RepositoryFactory) PreferenceStore() *ContactPreferenceStore {
	if f == nil {
		return nil
	}
	return f.preferenceStore
}

func (f *RepositoryFactory) CounterStore() *WindowCounterStore {
	if f == nil {
		return nil
	}
	return f.counterStore
}

func (f *RepositoryFactory) AuditStore() *AuditEventStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

// Ping reports whether the backing database answers.
func (f *RepositoryFactory) Ping(ctx context.Context) error {
	if f == nil || f.db == nil {
		return fmt.Errorf("sqlstore: repository factory is not configured")
	}
	return f.db.PingContext(ctx)
}

func (f *RepositoryFactory) initStores() error {
	claimStore, err := NewMessageClaimStore(f.db)
	if err != nil {
		return err
	}
	f.claimStore = claimStore

	notificationStore, err := NewNotificationStore(f.db)
	if err != nil {
		return err
	}
	f.notificationStore = notificationStore

	preferenceStore, err := NewContactPreferenceStore(f.db)
	if err != nil {
		return err
	}
	f.preferenceStore = preferenceStore

	counterStore, err := NewWindowCounterStore(f.db)
	if err != nil {
		return err
	}
	f.counterStore = counterStore

	auditStore, err := NewAuditEventStore(f.db)
	if err != nil {
		return err
	}
	f.auditStore = auditStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
