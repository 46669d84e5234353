package query

import (
	"context"

	"github.com/goliatone/go-eventhooks/core"
)

type EndpointReader interface {
	ListEndpoints(ctx context.Context, tenantID string) ([]core.WebhookEndpoint, error)
	GetEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error)
}

type DeliveryAttemptReader interface {
	ListDeliveryAttempts(ctx context.Context, filter core.DeliveryAttemptFilter) (core.DeliveryAttemptPage, error)
}

type NotificationReader interface {
	ListNotifications(ctx context.Context, filter core.NotificationFilter) (core.NotificationPage, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	ListPreferences(ctx context.Context, userID string) ([]core.NotificationPreference, error)
}

type ListEndpointsQuery struct {
	reader EndpointReader
}

func NewListEndpointsQuery(reader EndpointReader) *ListEndpointsQuery {
	return &ListEndpointsQuery{reader: reader}
}

func (q *ListEndpointsQuery) Query(ctx context.Context, msg ListEndpointsMessage) ([]core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: endpoint reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListEndpoints(ctx, msg.TenantID)
}

type GetEndpointQuery struct {
	reader EndpointReader
}

func NewGetEndpointQuery(reader EndpointReader) *GetEndpointQuery {
	return &GetEndpointQuery{reader: reader}
}

func (q *GetEndpointQuery) Query(ctx context.Context, msg GetEndpointMessage) (core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEndpoint{}, queryDependencyError("query: endpoint reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	return q.reader.GetEndpoint(ctx, msg.EndpointID)
}

type ListDeliveryAttemptsQuery struct {
	reader DeliveryAttemptReader
}

func NewListDeliveryAttemptsQuery(reader DeliveryAttemptReader) *ListDeliveryAttemptsQuery {
	return &ListDeliveryAttemptsQuery{reader: reader}
}

func (q *ListDeliveryAttemptsQuery) Query(
	ctx context.Context,
	msg ListDeliveryAttemptsMessage,
) (core.DeliveryAttemptPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryAttemptPage{}, queryDependencyError("query: delivery attempt reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.DeliveryAttemptPage{}, err
	}
	return q.reader.ListDeliveryAttempts(ctx, msg.Filter)
}

type ListNotificationsQuery struct {
	reader NotificationReader
}

func NewListNotificationsQuery(reader NotificationReader) *ListNotificationsQuery {
	return &ListNotificationsQuery{reader: reader}
}

func (q *ListNotificationsQuery) Query(ctx context.Context, msg ListNotificationsMessage) (core.NotificationPage, error) {
	if q == nil || q.reader == nil {
		return core.NotificationPage{}, queryDependencyError("query: notification reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.NotificationPage{}, err
	}
	return q.reader.ListNotifications(ctx, msg.Filter)
}

type CountUnreadQuery struct {
	reader NotificationReader
}

func NewCountUnreadQuery(reader NotificationReader) *CountUnreadQuery {
	return &CountUnreadQuery{reader: reader}
}

func (q *CountUnreadQuery) Query(ctx context.Context, msg CountUnreadMessage) (int, error) {
	if q == nil || q.reader == nil {
		return 0, queryDependencyError("query: notification reader is required")
	}
	if err := msg.Validate(); err != nil {
		return 0, err
	}
	return q.reader.CountUnread(ctx, msg.UserID)
}

type ListPreferencesQuery struct {
	reader NotificationReader
}

func NewListPreferencesQuery(reader NotificationReader) *ListPreferencesQuery {
	return &ListPreferencesQuery{reader: reader}
}

func (q *ListPreferencesQuery) Query(ctx context.Context, msg ListPreferencesMessage) ([]core.NotificationPreference, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: notification reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListPreferences(ctx, msg.UserID)
}
