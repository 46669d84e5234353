package sqlstore

import "github.com/goliatone/go-eventhooks/core"

var (
	_ core.EventStore           = (*EventStore)(nil)
	_ core.EndpointStore        = (*EndpointStore)(nil)
	_ core.DeliveryAttemptStore = (*DeliveryAttemptStore)(nil)
	_ core.PreferenceStore      = (*PreferenceStore)(nil)
	_ core.PreferenceStore      = (*CachedPreferenceStore)(nil)
	_ core.NotificationStore    = (*NotificationStore)(nil)
	_ core.DigestStore          = (*DigestStore)(nil)
)
