package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EndpointStore struct {
	db     *bun.DB
	repo   repository.Repository[*endpointRecord]
	cipher core.SecretCipher
}

// NewEndpointStore stores signing secrets sealed by cipher when one is
// given and in plaintext otherwise.
func NewEndpointStore(db *bun.DB, cipher core.SecretCipher) (*EndpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*endpointRecord](db, endpointHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid endpoint repository wiring: %w", err)
		}
	}
	return &EndpointStore{db: db, repo: repo, cipher: cipher}, nil
}

func (s *EndpointStore) Create(ctx context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return core.WebhookEndpoint{}, errNotConfigured("endpoint")
	}
	now := time.Now().UTC()
	record := newEndpointRecord(endpoint)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if err := s.seal(ctx, record); err != nil {
		return core.WebhookEndpoint{}, err
	}
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	return s.open(ctx, created)
}

// Update writes the editable columns and bumps the version. The write fails
// with core.ErrVersionConflict when endpoint.Version is stale.
func (s *EndpointStore) Update(ctx context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	if s == nil || s.db == nil {
		return core.WebhookEndpoint{}, errNotConfigured("endpoint")
	}
	record := newEndpointRecord(endpoint)
	if err := s.seal(ctx, record); err != nil {
		return core.WebhookEndpoint{}, err
	}
	res, err := s.db.NewUpdate().
		Model((*endpointRecord)(nil)).
		Set("url = ?", record.URL).
		Set("secret = ?", record.Secret).
		Set("event_types = ?", marshalStrings(record.EventTypes)).
		Set("is_active = ?", record.IsActive).
		Set("max_in_flight = ?", record.MaxInFlight).
		Set("consecutive_failures = ?", record.ConsecutiveFailures).
		Set("disabled_until = ?", record.DisabledUntil).
		Set("description = ?", record.Description).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", record.ID).
		Where("version = ?", record.Version).
		Exec(ctx)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		if _, getErr := s.Get(ctx, record.ID); getErr != nil {
			return core.WebhookEndpoint{}, getErr
		}
		return core.WebhookEndpoint{}, fmt.Errorf("sqlstore: endpoint %q: %w", record.ID, core.ErrVersionConflict)
	}
	return s.Get(ctx, record.ID)
}

func (s *EndpointStore) Get(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return core.WebhookEndpoint{}, errNotConfigured("endpoint")
	}
	id = strings.TrimSpace(id)
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return core.WebhookEndpoint{}, notFound(err, "endpoint", id)
	}
	return s.open(ctx, record)
}

func (s *EndpointStore) ListByTenant(ctx context.Context, tenantID string) ([]core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("endpoint")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return s.openAll(ctx, records)
}

func (s *EndpointStore) ListActive(ctx context.Context) ([]core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("endpoint")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("is_active", "=", true),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return s.openAll(ctx, records)
}

func (s *EndpointStore) CompareAndSwapHealth(
	ctx context.Context,
	id string,
	expectedVersion int64,
	consecutiveFailures int,
	disabledUntil *time.Time,
) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured("endpoint")
	}
	var until *time.Time
	if disabledUntil != nil {
		value := disabledUntil.UTC()
		until = &value
	}
	res, err := s.db.NewUpdate().
		Model((*endpointRecord)(nil)).
		Set("consecutive_failures = ?", consecutiveFailures).
		Set("disabled_until = ?", until).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func newEndpointRecord(endpoint core.WebhookEndpoint) *endpointRecord {
	record := &endpointRecord{
		ID:                  strings.TrimSpace(endpoint.ID),
		TenantID:            strings.TrimSpace(endpoint.TenantID),
		URL:                 strings.TrimSpace(endpoint.URL),
		Secret:              endpoint.Secret,
		EventTypes:          normalizeStrings(endpoint.EventTypes),
		IsActive:            endpoint.Active,
		MaxInFlight:         endpoint.MaxInFlight,
		ConsecutiveFailures: endpoint.ConsecutiveFailures,
		Version:             endpoint.Version,
		Description:         strings.TrimSpace(endpoint.Description),
		CreatedAt:           endpoint.CreatedAt,
		UpdatedAt:           endpoint.UpdatedAt,
	}
	if endpoint.DisabledUntil != nil {
		value := endpoint.DisabledUntil.UTC()
		record.DisabledUntil = &value
	}
	return record
}

func (r *endpointRecord) toDomain() core.WebhookEndpoint {
	if r == nil {
		return core.WebhookEndpoint{}
	}
	out := core.WebhookEndpoint{
		ID:                  r.ID,
		TenantID:            r.TenantID,
		URL:                 r.URL,
		Secret:              r.Secret,
		EventTypes:          append([]string(nil), r.EventTypes...),
		Active:              r.IsActive,
		MaxInFlight:         r.MaxInFlight,
		ConsecutiveFailures: r.ConsecutiveFailures,
		Version:             r.Version,
		Description:         r.Description,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if r.DisabledUntil != nil {
		value := r.DisabledUntil.UTC()
		out.DisabledUntil = &value
	}
	return out
}

func (s *EndpointStore) seal(ctx context.Context, record *endpointRecord) error {
	if s.cipher == nil || record.Secret == "" {
		return nil
	}
	sealed, err := s.cipher.Encrypt(ctx, []byte(record.Secret))
	if err != nil {
		return fmt.Errorf("sqlstore: seal endpoint secret: %w", err)
	}
	record.Secret = string(sealed)
	return nil
}

func (s *EndpointStore) open(ctx context.Context, record *endpointRecord) (core.WebhookEndpoint, error) {
	out := record.toDomain()
	if s.cipher == nil || out.Secret == "" {
		return out, nil
	}
	plain, err := s.cipher.Decrypt(ctx, []byte(out.Secret))
	if err != nil {
		return core.WebhookEndpoint{}, fmt.Errorf("sqlstore: open secret of endpoint %q: %w", out.ID, err)
	}
	out.Secret = string(plain)
	return out, nil
}

func (s *EndpointStore) openAll(ctx context.Context, records []*endpointRecord) ([]core.WebhookEndpoint, error) {
	out := make([]core.WebhookEndpoint, 0, len(records))
	for _, record := range records {
		endpoint, err := s.open(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, endpoint)
	}
	return out, nil
}

func normalizeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

