package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-eventhooks/core"
)

var (
	_ gocmd.Querier[ListEndpointsMessage, []core.WebhookEndpoint]          = (*ListEndpointsQuery)(nil)
	_ gocmd.Querier[GetEndpointMessage, core.WebhookEndpoint]              = (*GetEndpointQuery)(nil)
	_ gocmd.Querier[ListDeliveryAttemptsMessage, core.DeliveryAttemptPage] = (*ListDeliveryAttemptsQuery)(nil)
	_ gocmd.Querier[ListNotificationsMessage, core.NotificationPage]       = (*ListNotificationsQuery)(nil)
	_ gocmd.Querier[CountUnreadMessage, int]                               = (*CountUnreadQuery)(nil)
	_ gocmd.Querier[ListPreferencesMessage, []core.NotificationPreference] = (*ListPreferencesQuery)(nil)
)
