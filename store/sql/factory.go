package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-eventhooks/core"
	"github.com/uptrace/bun"
)

// Stores is the full set of bun-backed stores an engine needs.
type Stores struct {
	Events        *EventStore
	Endpoints     *EndpointStore
	Attempts      *DeliveryAttemptStore
	Preferences   core.PreferenceStore
	Notifications *NotificationStore
	Digests       *DigestStore
}

type RepositoryFactory struct {
	db            *bun.DB
	preferenceTTL time.Duration
	secretCipher  core.SecretCipher
	stores        *Stores
}

type FactoryOption func(*RepositoryFactory)

// WithPreferenceCache puts a go-repository-cache layer in front of
// preference lookups. A zero ttl uses the cache default.
func WithPreferenceCache(ttl time.Duration) FactoryOption {
	return func(f *RepositoryFactory) {
		if ttl <= 0 {
			ttl = time.Minute
		}
		f.preferenceTTL = ttl
	}
}

// WithSecretCipher seals endpoint signing secrets at rest.
func WithSecretCipher(cipher core.SecretCipher) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secretCipher = cipher
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (*Stores, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.stores != nil {
		return f.stores, nil
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	stores, err := f.initStores()
	if err != nil {
		return nil, err
	}
	f.stores = stores
	return stores, nil
}

func (f *RepositoryFactory) Stores() *Stores {
	if f == nil {
		return nil
	}
	return f.stores
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() (*Stores, error) {
	events, err := NewEventStore(f.db)
	if err != nil {
		return nil, err
	}
	endpoints, err := NewEndpointStore(f.db, f.secretCipher)
	if err != nil {
		return nil, err
	}
	attempts, err := NewDeliveryAttemptStore(f.db)
	if err != nil {
		return nil, err
	}
	basePreferences, err := NewPreferenceStore(f.db)
	if err != nil {
		return nil, err
	}
	var preferences core.PreferenceStore = basePreferences
	if f.preferenceTTL > 0 {
		cacheService, err := NewPreferenceCacheService(f.preferenceTTL)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: preference cache: %w", err)
		}
		cached, err := NewCachedPreferenceStore(basePreferences, cacheService)
		if err != nil {
			return nil, err
		}
		preferences = cached
	}
	notifications, err := NewNotificationStore(f.db)
	if err != nil {
		return nil, err
	}
	digests, err := NewDigestStore(f.db)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Events:        events,
		Endpoints:     endpoints,
		Attempts:      attempts,
		Preferences:   preferences,
		Notifications: notifications,
		Digests:       digests,
	}, nil
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
