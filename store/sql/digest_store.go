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

type DigestStore struct {
	db   *bun.DB
	repo repository.Repository[*digestBatchRecord]
}

func NewDigestStore(db *bun.DB) (*DigestStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*digestBatchRecord](db, digestBatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid digest batch repository wiring: %w", err)
		}
	}
	return &DigestStore{db: db, repo: repo}, nil
}

func (s *DigestStore) FindOrOpen(
	ctx context.Context,
	userID string,
	period core.DigestPeriod,
	windowStart time.Time,
	windowEnd time.Time,
) (core.DigestBatch, error) {
	if s == nil || s.db == nil {
		return core.DigestBatch{}, errNotConfigured("digest")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.DigestBatch{}, fmt.Errorf("sqlstore: digest user_id is required")
	}
	windowEnd = windowEnd.UTC().Truncate(time.Second)
	record := &digestBatchRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Period:      string(period),
		WindowStart: windowStart.UTC().Truncate(time.Second),
		WindowEnd:   windowEnd,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, period, window_end) DO NOTHING").
		Exec(ctx); err != nil {
		return core.DigestBatch{}, err
	}

	existing := &digestBatchRecord{}
	err := s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.period = ?", string(period)).
		Where("?TableAlias.window_end = ?", windowEnd).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.DigestBatch{}, err
	}
	return existing.toDomain(), nil
}

func (s *DigestStore) LastSent(ctx context.Context, userID string, period core.DigestPeriod) (*core.DigestBatch, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured("digest")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("period", "=", string(period)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("sent_at IS NOT NULL")
		}),
		repository.OrderBy("window_end DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	batch := records[0].toDomain()
	return &batch, nil
}

func (s *DigestStore) Close(ctx context.Context, batchID string, notificationIDs []string, sentAt time.Time) error {
	if s == nil || s.db == nil {
		return errNotConfigured("digest")
	}
	batchID = strings.TrimSpace(batchID)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tagged := int64(0)
		if len(notificationIDs) > 0 {
			res, err := tx.NewUpdate().
				Model((*notificationRecord)(nil)).
				Set("digest_batch_id = ?", batchID).
				Where("id IN (?)", bun.In(notificationIDs)).
				Where("digest_batch_id IS NULL").
				Exec(ctx)
			if err != nil {
				return err
			}
			if affected, err := res.RowsAffected(); err == nil {
				tagged = affected
			}
		}
		_, err := tx.NewUpdate().
			Model((*digestBatchRecord)(nil)).
			Set("sent_at = ?", sentAt.UTC()).
			Set("notification_count = notification_count + ?", tagged).
			Where("id = ?", batchID).
			Where("sent_at IS NULL").
			Exec(ctx)
		return err
	})
}

func (r *digestBatchRecord) toDomain() core.DigestBatch {
	if r == nil {
		return core.DigestBatch{}
	}
	return core.DigestBatch{
		ID:                r.ID,
		UserID:            r.UserID,
		Period:            core.DigestPeriod(r.Period),
		WindowStart:       r.WindowStart.UTC(),
		WindowEnd:         r.WindowEnd.UTC(),
		NotificationCount: r.NotificationCount,
		SentAt:            cloneTime(r.SentAt),
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

