package webhooks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

type memoryStores struct {
	events    *memoryEventStore
	endpoints *memoryEndpointStore
	attempts  *memoryAttemptStore
}

func newMemoryStores() *memoryStores {
	attempts := &memoryAttemptStore{rows: map[string]core.DeliveryAttempt{}}
	return &memoryStores{
		events:    &memoryEventStore{rows: map[string]core.Event{}, attempts: attempts},
		endpoints: &memoryEndpointStore{rows: map[string]core.WebhookEndpoint{}},
		attempts:  attempts,
	}
}

func (m *memoryStores) stores() Stores {
	return Stores{Events: m.events, Endpoints: m.endpoints, Attempts: m.attempts}
}

type memoryEventStore struct {
	mu       sync.Mutex
	rows     map[string]core.Event
	attempts *memoryAttemptStore
}

func (s *memoryEventStore) Append(ctx context.Context, event core.Event, attempts []core.DeliveryAttempt) (core.AppendResult, error) {
	s.mu.Lock()
	if existing, ok := s.rows[event.ID]; ok {
		s.mu.Unlock()
		return core.AppendResult{Event: existing}, nil
	}
	s.rows[event.ID] = event
	s.mu.Unlock()
	created, err := s.attempts.Create(ctx, attempts)
	if err != nil {
		return core.AppendResult{}, err
	}
	return core.AppendResult{Event: event, Created: true, Attempts: created}, nil
}

func (s *memoryEventStore) Get(_ context.Context, id string) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.rows[id]
	if !ok {
		return core.Event{}, core.ErrNotFound
	}
	return event, nil
}

type memoryEndpointStore struct {
	mu   sync.Mutex
	rows map[string]core.WebhookEndpoint
}

func (s *memoryEndpointStore) Create(_ context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if endpoint.ID == "" {
		endpoint.ID = fmt.Sprintf("ep-%d", len(s.rows)+1)
	}
	endpoint.Version = 1
	s.rows[endpoint.ID] = endpoint
	return endpoint, nil
}

func (s *memoryEndpointStore) Update(_ context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[endpoint.ID]
	if !ok {
		return core.WebhookEndpoint{}, core.ErrNotFound
	}
	if current.Version != endpoint.Version {
		return core.WebhookEndpoint{}, core.ErrVersionConflict
	}
	endpoint.Version++
	s.rows[endpoint.ID] = endpoint
	return endpoint, nil
}

func (s *memoryEndpointStore) Get(_ context.Context, id string) (core.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoint, ok := s.rows[id]
	if !ok {
		return core.WebhookEndpoint{}, core.ErrNotFound
	}
	return endpoint, nil
}

func (s *memoryEndpointStore) ListByTenant(_ context.Context, tenantID string) ([]core.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.WebhookEndpoint{}
	for _, endpoint := range s.rows {
		if endpoint.TenantID == tenantID {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

func (s *memoryEndpointStore) ListActive(_ context.Context) ([]core.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.WebhookEndpoint{}
	for _, endpoint := range s.rows {
		if endpoint.Active {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

func (s *memoryEndpointStore) CompareAndSwapHealth(
	_ context.Context,
	id string,
	expectedVersion int64,
	consecutiveFailures int,
	disabledUntil *time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoint, ok := s.rows[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if endpoint.Version != expectedVersion {
		return false, nil
	}
	endpoint.ConsecutiveFailures = consecutiveFailures
	endpoint.DisabledUntil = disabledUntil
	endpoint.Version++
	s.rows[id] = endpoint
	return true, nil
}

func (s *memoryEndpointStore) mutate(id string, fn func(*core.WebhookEndpoint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoint := s.rows[id]
	fn(&endpoint)
	endpoint.Version++
	s.rows[id] = endpoint
}

type memoryAttemptStore struct {
	mu    sync.Mutex
	rows  map[string]core.DeliveryAttempt
	order []string
	seq   int
}

func (s *memoryAttemptStore) Create(_ context.Context, attempts []core.DeliveryAttempt) ([]core.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DeliveryAttempt, 0, len(attempts))
	for _, attempt := range attempts {
		stored, err := s.insertLocked(attempt)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *memoryAttemptStore) insertLocked(attempt core.DeliveryAttempt) (core.DeliveryAttempt, error) {
	for _, existing := range s.rows {
		if existing.EventID == attempt.EventID &&
			existing.EndpointID == attempt.EndpointID &&
			existing.AttemptNumber == attempt.AttemptNumber {
			return core.DeliveryAttempt{}, fmt.Errorf("duplicate attempt %d", attempt.AttemptNumber)
		}
	}
	s.seq++
	if attempt.ID == "" {
		attempt.ID = fmt.Sprintf("att-%d", s.seq)
	}
	if attempt.Status == "" {
		attempt.Status = core.AttemptStatusPending
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	s.rows[attempt.ID] = attempt
	s.order = append(s.order, attempt.ID)
	return attempt, nil
}

func (s *memoryAttemptStore) Get(_ context.Context, id string) (core.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.rows[id]
	if !ok {
		return core.DeliveryAttempt{}, core.ErrNotFound
	}
	return attempt, nil
}

func (s *memoryAttemptStore) Resolve(
	_ context.Context,
	id string,
	outcome core.AttemptOutcome,
	next *core.DeliveryAttempt,
) (*core.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.rows[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if attempt.Status != core.AttemptStatusPending {
		return nil, core.ErrAttemptNotPending
	}
	attempt.Status = outcome.Status
	attempt.HTTPStatus = outcome.HTTPStatus
	attempt.Error = outcome.Error
	attempt.ErrorCode = outcome.ErrorCode
	attemptedAt := outcome.AttemptedAt
	attempt.AttemptedAt = &attemptedAt
	s.rows[id] = attempt
	if next == nil {
		return nil, nil
	}
	stored, err := s.insertLocked(*next)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *memoryAttemptStore) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]core.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.DeliveryAttempt{}
	for _, id := range s.order {
		attempt := s.rows[id]
		if attempt.Status == core.AttemptStatusPending && !attempt.CreatedAt.After(createdBefore) {
			out = append(out, attempt)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryAttemptStore) List(_ context.Context, filter core.DeliveryAttemptFilter) (core.DeliveryAttemptPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.DeliveryAttempt{}
	for i := len(s.order) - 1; i >= 0; i-- {
		attempt := s.rows[s.order[i]]
		if filter.EventID != "" && attempt.EventID != filter.EventID {
			continue
		}
		if filter.EndpointID != "" && attempt.EndpointID != filter.EndpointID {
			continue
		}
		if filter.Status != "" && attempt.Status != filter.Status {
			continue
		}
		out = append(out, attempt)
	}
	return core.DeliveryAttemptPage{Items: out, Total: len(out)}, nil
}

// chain returns the attempts for one (event, endpoint) pair ordered by
// attempt number.
func (s *memoryAttemptStore) chain(eventID string, endpointID string) []core.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.DeliveryAttempt{}
	for _, id := range s.order {
		attempt := s.rows[id]
		if attempt.EventID == eventID && attempt.EndpointID == endpointID {
			out = append(out, attempt)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
