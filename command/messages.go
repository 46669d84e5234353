package command

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-eventhooks/core"
)

const (
	TypeRaiseEvent           = "eventhooks.command.event.raise"
	TypeRefireEvent          = "eventhooks.command.event.refire"
	TypeIngestWebhook        = "eventhooks.command.inbound.ingest"
	TypeCreateEndpoint       = "eventhooks.command.endpoint.create"
	TypeUpdateEndpoint       = "eventhooks.command.endpoint.update"
	TypeDisableEndpoint      = "eventhooks.command.endpoint.disable"
	TypeEnableEndpoint       = "eventhooks.command.endpoint.enable"
	TypeTestEndpoint         = "eventhooks.command.endpoint.test"
	TypeMarkNotificationRead = "eventhooks.command.notification.mark_read"
	TypeSetPreference        = "eventhooks.command.preference.set"
)

type RaiseEventMessage struct {
	EventType string
	TenantID  string
	Payload   json.RawMessage
}

func (RaiseEventMessage) Type() string { return TypeRaiseEvent }

func (m RaiseEventMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return commandValidationError("payload", "payload must be valid json")
	}
	return nil
}

type RefireEventMessage struct {
	EventID string
}

func (RefireEventMessage) Type() string { return TypeRefireEvent }

func (m RefireEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

type IngestWebhookMessage struct {
	Provider string
	Body     []byte
	Headers  map[string]string
}

func (IngestWebhookMessage) Type() string { return TypeIngestWebhook }

func (m IngestWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	return nil
}

type CreateEndpointMessage struct {
	Request core.CreateEndpointRequest
}

func (CreateEndpointMessage) Type() string { return TypeCreateEndpoint }

func (m CreateEndpointMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Request.URL) == "" {
		return commandValidationError("url", "url is required")
	}
	return nil
}

type UpdateEndpointMessage struct {
	Request core.UpdateEndpointRequest
}

func (UpdateEndpointMessage) Type() string { return TypeUpdateEndpoint }

func (m UpdateEndpointMessage) Validate() error {
	return validateEndpointID(m.Request.ID)
}

type DisableEndpointMessage struct {
	EndpointID string
}

func (DisableEndpointMessage) Type() string { return TypeDisableEndpoint }

func (m DisableEndpointMessage) Validate() error {
	return validateEndpointID(m.EndpointID)
}

type EnableEndpointMessage struct {
	EndpointID string
}

func (EnableEndpointMessage) Type() string { return TypeEnableEndpoint }

func (m EnableEndpointMessage) Validate() error {
	return validateEndpointID(m.EndpointID)
}

type TestEndpointMessage struct {
	EndpointID string
}

func (TestEndpointMessage) Type() string { return TypeTestEndpoint }

func (m TestEndpointMessage) Validate() error {
	return validateEndpointID(m.EndpointID)
}

type MarkNotificationReadMessage struct {
	UserID         string
	NotificationID string
}

func (MarkNotificationReadMessage) Type() string { return TypeMarkNotificationRead }

func (m MarkNotificationReadMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return commandValidationError("notification_id", "notification id is required")
	}
	return nil
}

type SetPreferenceMessage struct {
	Preference core.NotificationPreference
}

func (SetPreferenceMessage) Type() string { return TypeSetPreference }

func (m SetPreferenceMessage) Validate() error {
	if strings.TrimSpace(m.Preference.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if m.Preference.Mode != "" && !m.Preference.Mode.Valid() {
		return commandValidationError("mode", "delivery mode is invalid")
	}
	if m.Preference.Channel != "" && !m.Preference.Channel.Valid() {
		return commandValidationError("channel", "channel is invalid")
	}
	return nil
}

func validateEndpointID(id string) error {
	if strings.TrimSpace(id) == "" {
		return commandValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}
