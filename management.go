package eventhooks

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/webhooks"
)

const (
	defaultAttemptPageSize = 50
	maxAttemptPageSize     = 500
	endpointUpdateRetries  = 3
)

func (e *Engine) ListEndpoints(ctx context.Context, tenantID string) ([]core.WebhookEndpoint, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, core.BadInputError("tenant_id is required")
	}
	return e.stores.Endpoints.ListByTenant(ctx, tenantID)
}

func (e *Engine) GetEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	endpoint, err := e.stores.Endpoints.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.WebhookEndpoint{}, endpointLookupError(err, id)
	}
	return endpoint, nil
}

func (e *Engine) CreateEndpoint(ctx context.Context, req core.CreateEndpointRequest) (core.WebhookEndpoint, error) {
	if err := req.Validate(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	secret := req.Secret
	if strings.TrimSpace(secret) == "" {
		generated, err := core.GenerateEndpointSecret()
		if err != nil {
			return core.WebhookEndpoint{}, err
		}
		secret = generated
	}
	endpoint, err := e.stores.Endpoints.Create(ctx, core.WebhookEndpoint{
		TenantID:    strings.TrimSpace(req.TenantID),
		URL:         strings.TrimSpace(req.URL),
		Secret:      secret,
		EventTypes:  core.NormalizeEventTypes(req.EventTypes),
		Active:      !req.Inactive,
		MaxInFlight: req.MaxInFlight,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	e.obs.Info(ctx, "webhook endpoint created", map[string]any{
		"endpoint_id": endpoint.ID,
		"tenant_id":   endpoint.TenantID,
		"event_types": strings.Join(endpoint.EventTypes, ","),
	})
	return endpoint, nil
}

func (e *Engine) UpdateEndpoint(ctx context.Context, req core.UpdateEndpointRequest) (core.WebhookEndpoint, error) {
	if err := req.Validate(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	return e.mutateEndpoint(ctx, req.ID, req.Apply)
}

// DisableEndpoint deactivates the endpoint. Its pending attempts are
// abandoned when they reach a worker.
func (e *Engine) DisableEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	return e.mutateEndpoint(ctx, id, func(endpoint core.WebhookEndpoint) core.WebhookEndpoint {
		endpoint.Active = false
		return endpoint
	})
}

// EnableEndpoint reactivates the endpoint and clears the circuit breaker.
func (e *Engine) EnableEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	return e.mutateEndpoint(ctx, id, func(endpoint core.WebhookEndpoint) core.WebhookEndpoint {
		endpoint.Active = true
		endpoint.ConsecutiveFailures = 0
		endpoint.DisabledUntil = nil
		return endpoint
	})
}

// mutateEndpoint is a read-modify-write retried on version conflicts with
// the dispatcher's health updates.
func (e *Engine) mutateEndpoint(
	ctx context.Context,
	id string,
	mutate func(core.WebhookEndpoint) core.WebhookEndpoint,
) (core.WebhookEndpoint, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.WebhookEndpoint{}, core.BadInputError("endpoint id is required")
	}
	for attempt := 1; ; attempt++ {
		current, err := e.stores.Endpoints.Get(ctx, id)
		if err != nil {
			return core.WebhookEndpoint{}, endpointLookupError(err, id)
		}
		updated, err := e.stores.Endpoints.Update(ctx, mutate(current))
		if err == nil {
			e.dispatcher.Reconfigure(updated)
			e.obs.Info(ctx, "webhook endpoint updated", map[string]any{
				"endpoint_id": updated.ID,
				"tenant_id":   updated.TenantID,
				"active":      updated.Active,
				"version":     updated.Version,
			})
			return updated, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) || attempt >= endpointUpdateRetries {
			return core.WebhookEndpoint{}, endpointLookupError(err, id)
		}
	}
}

// TestEndpoint sends a signed webhook.test ping. The ping is not stored.
func (e *Engine) TestEndpoint(ctx context.Context, id string) (webhooks.TestResult, error) {
	endpoint, err := e.GetEndpoint(ctx, id)
	if err != nil {
		return webhooks.TestResult{}, err
	}
	return e.dispatcher.Test(ctx, endpoint)
}

func (e *Engine) ListDeliveryAttempts(ctx context.Context, filter core.DeliveryAttemptFilter) (core.DeliveryAttemptPage, error) {
	filter.EventID = strings.TrimSpace(filter.EventID)
	filter.EndpointID = strings.TrimSpace(filter.EndpointID)
	filter.TenantID = strings.TrimSpace(filter.TenantID)
	if filter.Status != "" {
		switch filter.Status {
		case core.AttemptStatusPending, core.AttemptStatusSuccess, core.AttemptStatusFailed, core.AttemptStatusAbandoned:
		default:
			return core.DeliveryAttemptPage{}, core.BadInputError("attempt status " + string(filter.Status) + " is invalid")
		}
	}
	filter.Page = filter.Page.Normalize(defaultAttemptPageSize, maxAttemptPageSize)
	return e.stores.Attempts.List(ctx, filter)
}

// RefireEvent opens a new attempt chain for every endpoint currently
// subscribed to a stored event.
func (e *Engine) RefireEvent(ctx context.Context, eventID string) (webhooks.DispatchResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return webhooks.DispatchResult{}, core.BadInputError("event id is required")
	}
	return e.dispatcher.Refire(ctx, eventID)
}

func (e *Engine) QueueStats() []webhooks.QueueStat {
	return e.dispatcher.QueueStats()
}

func (e *Engine) ListNotifications(ctx context.Context, filter core.NotificationFilter) (core.NotificationPage, error) {
	return e.notifier.ListNotifications(ctx, filter)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, userID string, notificationID string) error {
	return e.notifier.MarkRead(ctx, userID, notificationID)
}

func (e *Engine) CountUnread(ctx context.Context, userID string) (int, error) {
	return e.notifier.CountUnread(ctx, userID)
}

func (e *Engine) SetPreference(ctx context.Context, pref core.NotificationPreference) (core.NotificationPreference, error) {
	return e.notifier.SetPreference(ctx, pref)
}

func (e *Engine) ListPreferences(ctx context.Context, userID string) ([]core.NotificationPreference, error) {
	return e.notifier.ListPreferences(ctx, userID)
}

func endpointLookupError(err error, id string) error {
	if errors.Is(err, core.ErrNotFound) {
		return core.NotFoundError("endpoint", id)
	}
	return err
}
