// Package redisstore provides the Redis backed coordinator lock used when
// several engine instances share one database.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 5 * time.Minute

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker implements core.Locker with SET NX PX and a token checked on
// release.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

func NewLocker(client redis.UniversalClient, prefix string) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "eventhooks"
	}
	return &Locker{client: client, prefix: prefix}, nil
}

// NewClient builds a client from the redis config section.
func NewClient(cfg core.RedisConfig) (redis.UniversalClient, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redisstore: redis.addr is required")
	}
	addrs := strings.Split(addr, ",")
	if len(addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: cfg.Password,
		}), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redisstore: lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	fullKey := l.prefix + ":lock:" + key
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: acquire %s: %w", key, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", core.ErrLockHeld, key)
	}
	return &lockHandle{client: l.client, key: fullKey, token: token}, nil
}

type lockHandle struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Unlock deletes the key only while it still carries this handle's token.
// An expired lock is not an error.
func (h *lockHandle) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisstore: release %s: %w", h.key, err)
	}
	return nil
}

var _ core.Locker = (*Locker)(nil)
