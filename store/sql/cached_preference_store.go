package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const preferenceCacheKeyPrefix = "go-eventhooks::preference::v1"

// cachedPreference keeps misses in the cache too; most lookups in the
// resolver chain hit wildcard rows that do not exist.
type cachedPreference struct {
	Preference core.NotificationPreference
	Found      bool
}

type CachedPreferenceStore struct {
	base  core.PreferenceStore
	cache repositorycache.CacheService
}

func NewCachedPreferenceStore(
	base core.PreferenceStore,
	cacheService repositorycache.CacheService,
) (*CachedPreferenceStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base preference store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: preference cache service is required")
	}
	return &CachedPreferenceStore{base: base, cache: cacheService}, nil
}

// NewPreferenceCacheService builds the in-process cache used in front of
// preference lookups.
func NewPreferenceCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// PreferenceCacheKey returns go-eventhooks::preference::v1::<user>::<event_type>
// with each segment URL-path escaped.
func PreferenceCacheKey(userID string, eventType string) string {
	return strings.Join([]string{
		preferenceCacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(userID)),
		url.PathEscape(strings.TrimSpace(eventType)),
	}, "::")
}

func (s *CachedPreferenceStore) Get(ctx context.Context, userID string, eventType string) (core.NotificationPreference, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.NotificationPreference{}, false, errNotConfigured("cached preference")
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, PreferenceCacheKey(userID, eventType),
		func(ctx context.Context) (cachedPreference, error) {
			pref, found, fetchErr := s.base.Get(ctx, userID, eventType)
			if fetchErr != nil {
				return cachedPreference{}, fetchErr
			}
			return cachedPreference{Preference: clonePreference(pref), Found: found}, nil
		})
	if err != nil {
		return core.NotificationPreference{}, false, err
	}
	return clonePreference(entry.Preference), entry.Found, nil
}

func (s *CachedPreferenceStore) Upsert(ctx context.Context, pref core.NotificationPreference) (core.NotificationPreference, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.NotificationPreference{}, errNotConfigured("cached preference")
	}
	stored, err := s.base.Upsert(ctx, pref)
	if err != nil {
		return core.NotificationPreference{}, err
	}
	if err := s.cache.Delete(ctx, PreferenceCacheKey(stored.UserID, stored.EventType)); err != nil {
		return core.NotificationPreference{}, err
	}
	return stored, nil
}

func (s *CachedPreferenceStore) ListByUser(ctx context.Context, userID string) ([]core.NotificationPreference, error) {
	if s == nil || s.base == nil {
		return nil, errNotConfigured("cached preference")
	}
	return s.base.ListByUser(ctx, userID)
}

func clonePreference(pref core.NotificationPreference) core.NotificationPreference {
	cloned := pref
	if pref.DigestHour != nil {
		value := *pref.DigestHour
		cloned.DigestHour = &value
	}
	if pref.DigestWeekday != nil {
		value := *pref.DigestWeekday
		cloned.DigestWeekday = &value
	}
	return cloned
}

