package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/webhooks"
)

// MutatingService is the write side of the engine management surface.
type MutatingService interface {
	Raise(ctx context.Context, eventType string, tenantID string, payload any) (core.Event, error)
	RefireEvent(ctx context.Context, eventID string) (webhooks.DispatchResult, error)
	Ingest(ctx context.Context, provider string, body []byte, headers map[string]string) (core.IngestResult, error)
	CreateEndpoint(ctx context.Context, req core.CreateEndpointRequest) (core.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, req core.UpdateEndpointRequest) (core.WebhookEndpoint, error)
	DisableEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error)
	EnableEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error)
	TestEndpoint(ctx context.Context, id string) (webhooks.TestResult, error)
	MarkNotificationRead(ctx context.Context, userID string, notificationID string) error
	SetPreference(ctx context.Context, pref core.NotificationPreference) (core.NotificationPreference, error)
}

type RaiseEventCommand struct {
	service MutatingService
}

func NewRaiseEventCommand(service MutatingService) *RaiseEventCommand {
	return &RaiseEventCommand{service: service}
}

func (c *RaiseEventCommand) Execute(ctx context.Context, msg RaiseEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: raise event service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	var payload any
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}
	out, err := c.service.Raise(ctx, msg.EventType, msg.TenantID, payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefireEventCommand struct {
	service MutatingService
}

func NewRefireEventCommand(service MutatingService) *RefireEventCommand {
	return &RefireEventCommand{service: service}
}

func (c *RefireEventCommand) Execute(ctx context.Context, msg RefireEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refire service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RefireEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type IngestWebhookCommand struct {
	service MutatingService
}

func NewIngestWebhookCommand(service MutatingService) *IngestWebhookCommand {
	return &IngestWebhookCommand{service: service}
}

func (c *IngestWebhookCommand) Execute(ctx context.Context, msg IngestWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Ingest(ctx, msg.Provider, msg.Body, msg.Headers)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateEndpointCommand struct {
	service MutatingService
}

func NewCreateEndpointCommand(service MutatingService) *CreateEndpointCommand {
	return &CreateEndpointCommand{service: service}
}

func (c *CreateEndpointCommand) Execute(ctx context.Context, msg CreateEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: create endpoint service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.CreateEndpoint(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateEndpointCommand struct {
	service MutatingService
}

func NewUpdateEndpointCommand(service MutatingService) *UpdateEndpointCommand {
	return &UpdateEndpointCommand{service: service}
}

func (c *UpdateEndpointCommand) Execute(ctx context.Context, msg UpdateEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: update endpoint service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.UpdateEndpoint(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisableEndpointCommand struct {
	service MutatingService
}

func NewDisableEndpointCommand(service MutatingService) *DisableEndpointCommand {
	return &DisableEndpointCommand{service: service}
}

func (c *DisableEndpointCommand) Execute(ctx context.Context, msg DisableEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disable endpoint service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.DisableEndpoint(ctx, msg.EndpointID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnableEndpointCommand struct {
	service MutatingService
}

func NewEnableEndpointCommand(service MutatingService) *EnableEndpointCommand {
	return &EnableEndpointCommand{service: service}
}

func (c *EnableEndpointCommand) Execute(ctx context.Context, msg EnableEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: enable endpoint service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.EnableEndpoint(ctx, msg.EndpointID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TestEndpointCommand struct {
	service MutatingService
}

func NewTestEndpointCommand(service MutatingService) *TestEndpointCommand {
	return &TestEndpointCommand{service: service}
}

func (c *TestEndpointCommand) Execute(ctx context.Context, msg TestEndpointMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: test endpoint service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.TestEndpoint(ctx, msg.EndpointID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MarkNotificationReadCommand struct {
	service MutatingService
}

func NewMarkNotificationReadCommand(service MutatingService) *MarkNotificationReadCommand {
	return &MarkNotificationReadCommand{service: service}
}

func (c *MarkNotificationReadCommand) Execute(ctx context.Context, msg MarkNotificationReadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.MarkNotificationRead(ctx, msg.UserID, msg.NotificationID)
}

type SetPreferenceCommand struct {
	service MutatingService
}

func NewSetPreferenceCommand(service MutatingService) *SetPreferenceCommand {
	return &SetPreferenceCommand{service: service}
}

func (c *SetPreferenceCommand) Execute(ctx context.Context, msg SetPreferenceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: preference service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.SetPreference(ctx, msg.Preference)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
