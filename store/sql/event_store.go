package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type EventStore struct {
	db       *bun.DB
	attempts repository.Repository[*deliveryAttemptRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryAttemptRecord](db, deliveryAttemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery attempt repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, attempts: repo}, nil
}

func (s *EventStore) Append(
	ctx context.Context,
	event core.Event,
	attempts []core.DeliveryAttempt,
) (core.AppendResult, error) {
	if s == nil || s.db == nil {
		return core.AppendResult{}, errNotConfigured("event")
	}
	if strings.TrimSpace(event.ID) == "" {
		return core.AppendResult{}, fmt.Errorf("sqlstore: event id is required")
	}

	record := newEventRecord(event)
	result := core.AppendResult{}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return nil
		}
		result.Created = true
		for _, attempt := range attempts {
			attempt.EventID = record.ID
			inserted, err := s.attempts.CreateTx(ctx, tx, newDeliveryAttemptRecord(attempt))
			if err != nil {
				return err
			}
			result.Attempts = append(result.Attempts, inserted.toDomain())
		}
		return nil
	})
	if err != nil {
		return core.AppendResult{}, err
	}
	if !result.Created {
		existing, err := s.Get(ctx, record.ID)
		if err != nil {
			return core.AppendResult{}, err
		}
		result.Event = existing
		return result, nil
	}
	result.Event = record.toDomain()
	return result, nil
}

func (s *EventStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, errNotConfigured("event")
	}
	id = strings.TrimSpace(id)
	record := &eventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Event{}, notFound(err, "event", id)
	}
	return record.toDomain(), nil
}

func newEventRecord(event core.Event) *eventRecord {
	payload := strings.TrimSpace(string(event.Payload))
	if payload == "" {
		payload = "{}"
	}
	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	source := strings.TrimSpace(event.Source)
	if source == "" {
		source = core.SourceInternal
	}
	return &eventRecord{
		ID:         strings.TrimSpace(event.ID),
		Type:       strings.TrimSpace(event.Type),
		TenantID:   strings.TrimSpace(event.TenantID),
		Payload:    payload,
		OccurredAt: occurredAt,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}
}

func (r *eventRecord) toDomain() core.Event {
	if r == nil {
		return core.Event{}
	}
	return core.Event{
		ID:         r.ID,
		Type:       r.Type,
		TenantID:   r.TenantID,
		Payload:    json.RawMessage(r.Payload),
		OccurredAt: r.OccurredAt.UTC(),
		Source:     r.Source,
	}
}

