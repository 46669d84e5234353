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

type DeliveryAttemptStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryAttemptRecord]
}

func NewDeliveryAttemptStore(db *bun.DB) (*DeliveryAttemptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryAttemptRecord](db, deliveryAttemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery attempt repository wiring: %w", err)
		}
	}
	return &DeliveryAttemptStore{db: db, repo: repo}, nil
}

func (s *DeliveryAttemptStore) Create(ctx context.Context, attempts []core.DeliveryAttempt) ([]core.DeliveryAttempt, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("delivery attempt")
	}
	created := make([]core.DeliveryAttempt, 0, len(attempts))
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, attempt := range attempts {
			inserted, err := s.repo.CreateTx(ctx, tx, newDeliveryAttemptRecord(attempt))
			if err != nil {
				return err
			}
			created = append(created, inserted.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *DeliveryAttemptStore) Get(ctx context.Context, id string) (core.DeliveryAttempt, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryAttempt{}, errNotConfigured("delivery attempt")
	}
	id = strings.TrimSpace(id)
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return core.DeliveryAttempt{}, notFound(err, "delivery attempt", id)
	}
	return record.toDomain(), nil
}

func (s *DeliveryAttemptStore) Resolve(
	ctx context.Context,
	id string,
	outcome core.AttemptOutcome,
	next *core.DeliveryAttempt,
) (*core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured("delivery attempt")
	}
	id = strings.TrimSpace(id)
	if !outcome.Status.Terminal() {
		return nil, fmt.Errorf("sqlstore: outcome status %q is not terminal", outcome.Status)
	}
	attemptedAt := outcome.AttemptedAt.UTC()
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	var scheduled *core.DeliveryAttempt
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*deliveryAttemptRecord)(nil)).
			Set("status = ?", string(outcome.Status)).
			Set("http_status = ?", outcome.HTTPStatus).
			Set("error = ?", truncate(outcome.Error, 2000)).
			Set("error_code = ?", outcome.ErrorCode).
			Set("attempted_at = ?", attemptedAt).
			Set("next_attempt_at = NULL").
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", id).
			Where("status = ?", string(core.AttemptStatusPending)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("sqlstore: delivery attempt %q: %w", id, core.ErrAttemptNotPending)
		}
		if next == nil {
			return nil
		}
		inserted, err := s.repo.CreateTx(ctx, tx, newDeliveryAttemptRecord(*next))
		if err != nil {
			return err
		}
		domain := inserted.toDomain()
		scheduled = &domain
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scheduled, nil
}

func (s *DeliveryAttemptStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]core.DeliveryAttempt, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("delivery attempt")
	}
	if limit <= 0 {
		limit = 100
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.AttemptStatusPending)),
		repository.SelectByTimetz("created_at", "<=", createdBefore.UTC()),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeliveryAttempt, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *DeliveryAttemptStore) List(ctx context.Context, filter core.DeliveryAttemptFilter) (core.DeliveryAttemptPage, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryAttemptPage{}, errNotConfigured("delivery attempt")
	}
	page := filter.Page.Normalize(50, 500)
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(page.Limit, page.Offset),
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		selectors = append(selectors, repository.SelectBy("event_id", "=", eventID))
	}
	if endpointID := strings.TrimSpace(filter.EndpointID); endpointID != "" {
		selectors = append(selectors, repository.SelectBy("endpoint_id", "=", endpointID))
	}
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		selectors = append(selectors, repository.SelectBy("tenant_id", "=", tenantID))
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.DeliveryAttemptPage{}, err
	}
	items := make([]core.DeliveryAttempt, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.DeliveryAttemptPage{Items: items, Total: total}, nil
}

func newDeliveryAttemptRecord(attempt core.DeliveryAttempt) *deliveryAttemptRecord {
	now := time.Now().UTC()
	id := strings.TrimSpace(attempt.ID)
	if id == "" {
		id = uuid.NewString()
	}
	status := attempt.Status
	if status == "" {
		status = core.AttemptStatusPending
	}
	createdAt := attempt.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	record := &deliveryAttemptRecord{
		ID:            id,
		EventID:       strings.TrimSpace(attempt.EventID),
		EndpointID:    strings.TrimSpace(attempt.EndpointID),
		TenantID:      strings.TrimSpace(attempt.TenantID),
		AttemptNumber: attempt.AttemptNumber,
		Status:        string(status),
		HTTPStatus:    attempt.HTTPStatus,
		Error:         attempt.Error,
		ErrorCode:     attempt.ErrorCode,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
	if record.AttemptNumber <= 0 {
		record.AttemptNumber = 1
	}
	record.ChainStart = attempt.ChainStart
	if record.ChainStart <= 0 || record.ChainStart > record.AttemptNumber {
		record.ChainStart = 1
	}
	if attempt.NextAttemptAt != nil {
		value := attempt.NextAttemptAt.UTC()
		record.NextAttemptAt = &value
	}
	if attempt.AttemptedAt != nil {
		value := attempt.AttemptedAt.UTC()
		record.AttemptedAt = &value
	}
	return record
}

func (r *deliveryAttemptRecord) toDomain() core.DeliveryAttempt {
	if r == nil {
		return core.DeliveryAttempt{}
	}
	out := core.DeliveryAttempt{
		ID:            r.ID,
		EventID:       r.EventID,
		EndpointID:    r.EndpointID,
		TenantID:      r.TenantID,
		AttemptNumber: r.AttemptNumber,
		ChainStart:    r.ChainStart,
		Status:        core.AttemptStatus(r.Status),
		HTTPStatus:    r.HTTPStatus,
		Error:         r.Error,
		ErrorCode:     r.ErrorCode,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.NextAttemptAt != nil {
		value := r.NextAttemptAt.UTC()
		out.NextAttemptAt = &value
	}
	if r.AttemptedAt != nil {
		value := r.AttemptedAt.UTC()
		out.AttemptedAt = &value
	}
	return out
}

func truncate(value string, limit int) string {
	return core.TruncateText(value, limit)
}

