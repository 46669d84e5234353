package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultLockTTL = 5 * time.Minute

type memoryLock struct {
	until time.Time
	token uint64
}

// MemoryLocker is a process-local Locker. Use a shared backend such as
// store/redis when more than one engine instance runs the digest scheduler.
type MemoryLocker struct {
	mu     sync.Mutex
	locks  map[string]memoryLock
	nextID uint64
	nowFn  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryLock),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && now.Before(held.until) {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	}
	l.nextID++
	l.locks[key] = memoryLock{until: now.Add(ttl), token: l.nextID}
	return &memoryLockHandle{locker: l, key: key, token: l.nextID}, nil
}

type memoryLockHandle struct {
	locker *MemoryLocker
	key    string
	token  uint64
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		if held, ok := h.locker.locks[h.key]; ok && held.token == h.token {
			delete(h.locker.locks, h.key)
		}
	})
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
