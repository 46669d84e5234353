package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

type memoryNotificationStore struct {
	mu   sync.Mutex
	seq  int
	rows map[string]core.Notification
}

func newMemoryNotificationStore() *memoryNotificationStore {
	return &memoryNotificationStore{rows: map[string]core.Notification{}}
}

func (s *memoryNotificationStore) Create(_ context.Context, n core.Notification) (core.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.UserID == n.UserID && existing.EventID == n.EventID {
			return existing, false, nil
		}
	}
	s.seq++
	if n.ID == "" {
		n.ID = fmt.Sprintf("n-%d", s.seq)
	}
	s.rows[n.ID] = n
	return n, true, nil
}

func (s *memoryNotificationStore) Get(_ context.Context, id string) (core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return core.Notification{}, core.ErrNotFound
	}
	return n, nil
}

func (s *memoryNotificationStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.DeliveredAt != nil {
		return nil
	}
	n.DeliveredAt = &at
	n.LastError = ""
	s.rows[id] = n
	return nil
}

func (s *memoryNotificationStore) Defer(_ context.Context, id string, after time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.DeliveredAt != nil {
		return nil
	}
	n.DeliverAfter = &after
	n.LastError = lastError
	s.rows[id] = n
	return nil
}

func (s *memoryNotificationStore) MarkRead(_ context.Context, userID string, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("memory: %w", core.ErrNotFound)
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
		s.rows[id] = n
	}
	return nil
}

func (s *memoryNotificationStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.rows {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *memoryNotificationStore) List(_ context.Context, filter core.NotificationFilter) (core.NotificationPage, error) {
	out := []core.Notification{}
	for _, n := range s.all() {
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	return core.NotificationPage{Items: out, Total: len(out)}, nil
}

func (s *memoryNotificationStore) ListDue(_ context.Context, now time.Time, limit int) ([]core.Notification, error) {
	out := []core.Notification{}
	for _, n := range s.all() {
		if n.Mode != core.DeliveryModeImmediate || n.DeliveredAt != nil || n.DeliverAfter == nil || n.DeliverAfter.After(now) {
			continue
		}
		out = append(out, n)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryNotificationStore) ListDigestUsers(context.Context, core.DeliveryMode) ([]string, error) {
	return nil, nil
}

func (s *memoryNotificationStore) ListDigestCandidates(context.Context, string, core.DeliveryMode, time.Time) ([]core.Notification, error) {
	return nil, nil
}

func (s *memoryNotificationStore) all() []core.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Notification, 0, len(s.rows))
	for _, n := range s.rows {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryNotificationStore) forUser(userID string) []core.Notification {
	out := []core.Notification{}
	for _, n := range s.all() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type memoryPreferenceStore struct {
	mu      sync.Mutex
	rows    map[[2]string]core.NotificationPreference
	lookups [][2]string
}

func newMemoryPreferenceStore(prefs ...core.NotificationPreference) *memoryPreferenceStore {
	store := &memoryPreferenceStore{rows: map[[2]string]core.NotificationPreference{}}
	for _, pref := range prefs {
		store.rows[[2]string{pref.UserID, pref.EventType}] = pref
	}
	return store
}

func (s *memoryPreferenceStore) Get(_ context.Context, userID string, eventType string) (core.NotificationPreference, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{userID, eventType}
	s.lookups = append(s.lookups, key)
	pref, ok := s.rows[key]
	return pref, ok, nil
}

func (s *memoryPreferenceStore) Upsert(_ context.Context, pref core.NotificationPreference) (core.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pref.ID == "" {
		pref.ID = fmt.Sprintf("pref-%d", len(s.rows)+1)
	}
	s.rows[[2]string{pref.UserID, pref.EventType}] = pref
	return pref, nil
}

func (s *memoryPreferenceStore) ListByUser(_ context.Context, userID string) ([]core.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.NotificationPreference{}
	for key, pref := range s.rows {
		if key[0] == userID {
			out = append(out, pref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out, nil
}

type recordingSender struct {
	mu      sync.Mutex
	channel core.Channel
	err     error
	sent    []core.Message
}

func (s *recordingSender) Channel() core.Channel {
	return s.channel
}

func (s *recordingSender) Send(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
