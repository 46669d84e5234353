package query

import (
	"strings"

	"github.com/goliatone/go-eventhooks/core"
)

const (
	TypeListEndpoints        = "eventhooks.query.endpoint.list"
	TypeGetEndpoint          = "eventhooks.query.endpoint.get"
	TypeListDeliveryAttempts = "eventhooks.query.attempt.list"
	TypeListNotifications    = "eventhooks.query.notification.list"
	TypeCountUnread          = "eventhooks.query.notification.count_unread"
	TypeListPreferences      = "eventhooks.query.preference.list"
)

type ListEndpointsMessage struct {
	TenantID string
}

func (ListEndpointsMessage) Type() string { return TypeListEndpoints }

func (m ListEndpointsMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type GetEndpointMessage struct {
	EndpointID string
}

func (GetEndpointMessage) Type() string { return TypeGetEndpoint }

func (m GetEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return queryValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}

type ListDeliveryAttemptsMessage struct {
	Filter core.DeliveryAttemptFilter
}

func (ListDeliveryAttemptsMessage) Type() string { return TypeListDeliveryAttempts }

func (m ListDeliveryAttemptsMessage) Validate() error {
	if m.Filter.Page.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Page.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type ListNotificationsMessage struct {
	Filter core.NotificationFilter
}

func (ListNotificationsMessage) Type() string { return TypeListNotifications }

func (m ListNotificationsMessage) Validate() error {
	if strings.TrimSpace(m.Filter.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if m.Filter.Page.Limit < 0 || m.Filter.Page.Offset < 0 {
		return queryValidationError("page", "limit and offset must be >= 0")
	}
	return nil
}

type CountUnreadMessage struct {
	UserID string
}

func (CountUnreadMessage) Type() string { return TypeCountUnread }

func (m CountUnreadMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type ListPreferencesMessage struct {
	UserID string
}

func (ListPreferencesMessage) Type() string { return TypeListPreferences }

func (m ListPreferencesMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}
