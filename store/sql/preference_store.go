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

type PreferenceStore struct {
	db   *bun.DB
	repo repository.Repository[*preferenceRecord]
}

func NewPreferenceStore(db *bun.DB) (*PreferenceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*preferenceRecord](db, preferenceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid preference repository wiring: %w", err)
		}
	}
	return &PreferenceStore{db: db, repo: repo}, nil
}

func (s *PreferenceStore) Get(ctx context.Context, userID string, eventType string) (core.NotificationPreference, bool, error) {
	if s == nil || s.repo == nil {
		return core.NotificationPreference{}, false, errNotConfigured("preference")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("event_type", "=", strings.TrimSpace(eventType)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.NotificationPreference{}, false, err
	}
	if len(records) == 0 {
		return core.NotificationPreference{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *PreferenceStore) Upsert(ctx context.Context, pref core.NotificationPreference) (core.NotificationPreference, error) {
	if s == nil || s.db == nil {
		return core.NotificationPreference{}, errNotConfigured("preference")
	}
	record := newPreferenceRecord(pref)
	if record.UserID == "" || record.EventType == "" {
		return core.NotificationPreference{}, fmt.Errorf("sqlstore: preference user_id and event_type are required")
	}
	err := s.upsertTx(ctx, record)
	if isUniqueViolation(err) {
		// lost an insert race with another writer; the row now exists
		record.ID = ""
		err = s.upsertTx(ctx, record)
	}
	if err != nil {
		return core.NotificationPreference{}, err
	}
	return record.toDomain(), nil
}

func (s *PreferenceStore) upsertTx(ctx context.Context, record *preferenceRecord) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &preferenceRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.user_id = ?", record.UserID).
			Where("?TableAlias.event_type = ?", record.EventType).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			record.ID = existing.ID
			_, err = tx.NewUpdate().
				Model(record).
				Column("delivery_mode", "channel", "quiet_hours_start", "quiet_hours_end",
					"timezone", "digest_hour", "digest_weekday", "updated_at").
				WherePK().
				Exec(ctx)
			return err
		case isNotFound(err):
			if record.ID == "" {
				record.ID = uuid.NewString()
			}
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		default:
			return err
		}
	})
}

func (s *PreferenceStore) ListByUser(ctx context.Context, userID string) ([]core.NotificationPreference, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("preference")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("event_type ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.NotificationPreference, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func newPreferenceRecord(pref core.NotificationPreference) *preferenceRecord {
	record := &preferenceRecord{
		ID:              strings.TrimSpace(pref.ID),
		UserID:          strings.TrimSpace(pref.UserID),
		EventType:       strings.TrimSpace(pref.EventType),
		DeliveryMode:    string(pref.Mode),
		Channel:         string(pref.Channel),
		QuietHoursStart: strings.TrimSpace(pref.QuietHoursStart),
		QuietHoursEnd:   strings.TrimSpace(pref.QuietHoursEnd),
		Timezone:        strings.TrimSpace(pref.Timezone),
		UpdatedAt:       time.Now().UTC(),
	}
	if pref.DigestHour != nil {
		value := *pref.DigestHour
		record.DigestHour = &value
	}
	if pref.DigestWeekday != nil {
		value := int(*pref.DigestWeekday)
		record.DigestWeekday = &value
	}
	return record
}

func (r *preferenceRecord) toDomain() core.NotificationPreference {
	if r == nil {
		return core.NotificationPreference{}
	}
	out := core.NotificationPreference{
		ID:              r.ID,
		UserID:          r.UserID,
		EventType:       r.EventType,
		Mode:            core.DeliveryMode(r.DeliveryMode),
		Channel:         core.Channel(r.Channel),
		QuietHoursStart: r.QuietHoursStart,
		QuietHoursEnd:   r.QuietHoursEnd,
		Timezone:        r.Timezone,
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.DigestHour != nil {
		value := *r.DigestHour
		out.DigestHour = &value
	}
	if r.DigestWeekday != nil {
		value := time.Weekday(*r.DigestWeekday)
		out.DigestWeekday = &value
	}
	return out
}

