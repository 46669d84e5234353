// Package eventhooks is the event notification and webhook delivery engine.
//
// An Engine is built once at process start from a core.Config and a set of
// stores. Producers call Raise; inbound provider webhooks enter through
// Ingest. Both persist a core.Event, fan it out to the tenant's subscribed
// webhook endpoints and turn it into per-user notifications that are sent
// immediately or collected into daily and weekly digests.
package eventhooks

import "github.com/goliatone/go-eventhooks/core"

type Config = core.Config

type Event = core.Event

type WebhookEndpoint = core.WebhookEndpoint

type DeliveryAttempt = core.DeliveryAttempt

type Notification = core.Notification

type NotificationPreference = core.NotificationPreference

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Stores is the persistence an Engine runs on.
type Stores struct {
	Events        core.EventStore
	Endpoints     core.EndpointStore
	Attempts      core.DeliveryAttemptStore
	Preferences   core.PreferenceStore
	Notifications core.NotificationStore
	Digests       core.DigestStore
}

func (s Stores) validate() error {
	switch {
	case s.Events == nil:
		return core.BadInputError("eventhooks: event store is required")
	case s.Endpoints == nil:
		return core.BadInputError("eventhooks: endpoint store is required")
	case s.Attempts == nil:
		return core.BadInputError("eventhooks: delivery attempt store is required")
	case s.Preferences == nil:
		return core.BadInputError("eventhooks: preference store is required")
	case s.Notifications == nil:
		return core.BadInputError("eventhooks: notification store is required")
	case s.Digests == nil:
		return core.BadInputError("eventhooks: digest store is required")
	}
	return nil
}
