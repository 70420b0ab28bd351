package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-chat-gateway/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const preferenceCacheKeyPrefix = "go-chat-gateway::contact_preference::v1"

// CachedContactPreferenceStore caches preference reads in front of the SQL
// store. Delivery batches hit the same handful of contacts repeatedly, so
// reads dominate; writes invalidate.
type CachedContactPreferenceStore struct {
	base  *ContactPreferenceStore
	cache repositorycache.CacheService
}

func NewCachedContactPreferenceStore(
	base *ContactPreferenceStore,
	cacheService repositorycache.CacheService,
) (*CachedContactPreferenceStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base contact preference store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: preference cache service is required")
	}
	return &CachedContactPreferenceStore{base: base, cache: cacheService}, nil
}

// PreferenceCacheKey returns the deterministic cache key for a contact:
// go-chat-gateway::contact_preference::v1::<contact_id> with the id
// URL-path escaped.
func PreferenceCacheKey(contactID string) (string, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return "", fmt.Errorf("sqlstore: contact id is required")
	}
	return preferenceCacheKeyPrefix + "::" + url.PathEscape(contactID), nil
}

func (s *CachedContactPreferenceStore) GetOrCreate(
	ctx context.Context,
	contactID string,
	defaults core.ContactPreference,
) (core.ContactPreference, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ContactPreference{}, fmt.Errorf("sqlstore: cached contact preference store is not configured")
	}
	cacheKey, err := PreferenceCacheKey(contactID)
	if err != nil {
		return core.ContactPreference{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.ContactPreference, error) {
		return s.base.GetOrCreate(ctx, contactID, defaults)
	})
}

func (s *CachedContactPreferenceStore) Upsert(ctx context.Context, pref core.ContactPreference) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached contact preference store is not configured")
	}
	if err := s.base.Upsert(ctx, pref); err != nil {
		return err
	}
	cacheKey, err := PreferenceCacheKey(pref.ContactID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.PreferenceStore = (*CachedContactPreferenceStore)(nil)
