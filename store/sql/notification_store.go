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

type NotificationStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationRecord]
}

func NewNotificationStore(db *bun.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationRecord](db, notificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification repository wiring: %w", err)
		}
	}
	return &NotificationStore{db: db, repo: repo}, nil
}

func (s *NotificationStore) Create(ctx context.Context, notification core.Notification) (core.Notification, bool, error) {
	if s == nil || s.db == nil {
		return core.Notification{}, false, errNotConfigured("notification")
	}
	record := newNotificationRecord(notification)
	if record.UserID == "" || record.EventID == "" {
		return core.Notification{}, false, fmt.Errorf("sqlstore: notification user_id and event_id are required")
	}
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.Notification{}, false, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		existing := &notificationRecord{}
		err := s.db.NewSelect().
			Model(existing).
			Where("?TableAlias.user_id = ?", record.UserID).
			Where("?TableAlias.event_id = ?", record.EventID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return core.Notification{}, false, err
		}
		return existing.toDomain(), false, nil
	}
	return record.toDomain(), true, nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (core.Notification, error) {
	if s == nil || s.repo == nil {
		return core.Notification{}, errNotConfigured("notification")
	}
	id = strings.TrimSpace(id)
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return core.Notification{}, notFound(err, "notification", id)
	}
	return record.toDomain(), nil
}

func (s *NotificationStore) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	if s == nil || s.db == nil {
		return errNotConfigured("notification")
	}
	_, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("delivered_at = ?", deliveredAt.UTC()).
		Set("last_error = ?", "").
		Where("id = ?", strings.TrimSpace(id)).
		Where("delivered_at IS NULL").
		Exec(ctx)
	return err
}

func (s *NotificationStore) Defer(ctx context.Context, id string, deliverAfter time.Time, lastError string) error {
	if s == nil || s.db == nil {
		return errNotConfigured("notification")
	}
	_, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("deliver_after = ?", deliverAfter.UTC()).
		Set("last_error = ?", truncate(lastError, 1000)).
		Where("id = ?", strings.TrimSpace(id)).
		Where("delivered_at IS NULL").
		Exec(ctx)
	return err
}

// MarkRead is idempotent; reading an already read notification keeps the
// first read_at.
func (s *NotificationStore) MarkRead(ctx context.Context, userID string, id string, readAt time.Time) error {
	if s == nil || s.db == nil {
		return errNotConfigured("notification")
	}
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("read_at = ?", readAt.UTC()).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Where("read_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		exists, err := s.db.NewSelect().
			Model((*notificationRecord)(nil)).
			Where("id = ?", id).
			Where("user_id = ?", userID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("sqlstore: notification %q: %w", id, core.ErrNotFound)
		}
	}
	return nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNotConfigured("notification")
	}
	return s.db.NewSelect().
		Model((*notificationRecord)(nil)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("read_at IS NULL").
		Count(ctx)
}

func (s *NotificationStore) List(ctx context.Context, filter core.NotificationFilter) (core.NotificationPage, error) {
	if s == nil || s.repo == nil {
		return core.NotificationPage{}, errNotConfigured("notification")
	}
	page := filter.Page.Normalize(25, 200)
	selectors := []repository.SelectCriteria{
		repository.SelectBy("user_id", "=", strings.TrimSpace(filter.UserID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(page.Limit, page.Offset),
	}
	if filter.UnreadOnly {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("read_at IS NULL")
		}))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.NotificationPage{}, err
	}
	return core.NotificationPage{Items: notificationsToDomain(records), Total: total}, nil
}

func (s *NotificationStore) ListDue(ctx context.Context, now time.Time, limit int) ([]core.Notification, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured("notification")
	}
	if limit <= 0 {
		limit = 100
	}
	var records []*notificationRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.delivery_mode = ?", string(core.DeliveryModeImmediate)).
		Where("?TableAlias.delivered_at IS NULL").
		Where("?TableAlias.deliver_after IS NOT NULL").
		Where("?TableAlias.deliver_after <= ?", now.UTC()).
		Order("deliver_after ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return notificationsToDomain(records), nil
}

func (s *NotificationStore) ListDigestUsers(ctx context.Context, mode core.DeliveryMode) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured("notification")
	}
	var users []string
	err := s.db.NewSelect().
		Model((*notificationRecord)(nil)).
		ColumnExpr("DISTINCT ?TableAlias.user_id").
		Where("?TableAlias.delivery_mode = ?", string(mode)).
		Where("?TableAlias.digest_batch_id IS NULL").
		OrderExpr("?TableAlias.user_id ASC").
		Scan(ctx, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *NotificationStore) ListDigestCandidates(
	ctx context.Context,
	userID string,
	mode core.DeliveryMode,
	before time.Time,
) ([]core.Notification, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured("notification")
	}
	var records []*notificationRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.delivery_mode = ?", string(mode)).
		Where("?TableAlias.digest_batch_id IS NULL").
		Where("?TableAlias.created_at < ?", before.UTC()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return notificationsToDomain(records), nil
}

func newNotificationRecord(notification core.Notification) *notificationRecord {
	createdAt := notification.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	id := strings.TrimSpace(notification.ID)
	if id == "" {
		id = uuid.NewString()
	}
	record := &notificationRecord{
		ID:           id,
		UserID:       strings.TrimSpace(notification.UserID),
		TenantID:     strings.TrimSpace(notification.TenantID),
		EventID:      strings.TrimSpace(notification.EventID),
		EventType:    strings.TrimSpace(notification.EventType),
		Title:        notification.Title,
		Body:         notification.Body,
		Channel:      string(notification.Channel),
		DeliveryMode: string(notification.Mode),
		LastError:    notification.LastError,
		CreatedAt:    createdAt,
	}
	record.DeliverAfter = cloneTime(notification.DeliverAfter)
	record.DeliveredAt = cloneTime(notification.DeliveredAt)
	record.ReadAt = cloneTime(notification.ReadAt)
	if batchID := strings.TrimSpace(notification.DigestBatchID); batchID != "" {
		record.DigestBatchID = &batchID
	}
	return record
}

func (r *notificationRecord) toDomain() core.Notification {
	if r == nil {
		return core.Notification{}
	}
	out := core.Notification{
		ID:           r.ID,
		UserID:       r.UserID,
		TenantID:     r.TenantID,
		EventID:      r.EventID,
		EventType:    r.EventType,
		Title:        r.Title,
		Body:         r.Body,
		Channel:      core.Channel(r.Channel),
		Mode:         core.DeliveryMode(r.DeliveryMode),
		CreatedAt:    r.CreatedAt.UTC(),
		DeliverAfter: cloneTime(r.DeliverAfter),
		DeliveredAt:  cloneTime(r.DeliveredAt),
		ReadAt:       cloneTime(r.ReadAt),
		LastError:    r.LastError,
	}
	if r.DigestBatchID != nil {
		out.DigestBatchID = *r.DigestBatchID
	}
	return out
}

func notificationsToDomain(records []*notificationRecord) []core.Notification {
	out := make([]core.Notification, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

