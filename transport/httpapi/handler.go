// Package httpapi serves inbound provider webhooks and the management API
// over chi. Every route goes through the go-command facade.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-eventhooks"
	hookscommand "github.com/goliatone/go-eventhooks/command"
	"github.com/goliatone/go-eventhooks/core"
	hooksquery "github.com/goliatone/go-eventhooks/query"
	"github.com/goliatone/go-eventhooks/webhooks"
)

const defaultMaxBodyBytes int64 = 1 << 20

type Option func(*Handler)

func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// WithMaxBodyBytes caps request bodies. Larger bodies are rejected with 413.
func WithMaxBodyBytes(limit int64) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

type Handler struct {
	commands     eventhooks.Commands
	queries      eventhooks.Queries
	logger       core.Logger
	metrics      core.MetricsRecorder
	obs          core.Observer
	maxBodyBytes int64
}

func NewHandler(facade *eventhooks.Facade, opts ...Option) (*Handler, error) {
	if facade == nil {
		return nil, core.BadInputError("httpapi: facade is required")
	}
	h := &Handler{
		commands:     facade.Commands(),
		queries:      facade.Queries(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.obs = core.NewObserver("httpapi", h.logger, h.metrics)
	return h, nil
}

func execute[T any, M any](ctx context.Context, cmd gocmd.Commander[M], msg M) (T, error) {
	collector := gocmd.NewResult[T]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		var zero T
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

// IngestWebhook answers 202 for a new provider event and 200 for a
// redelivery so providers stop retrying either way.
func (h *Handler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, "httpapi.inbound", err)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	result, err := execute[core.IngestResult](r.Context(), h.commands.IngestWebhook, hookscommand.IngestWebhookMessage{
		Provider: provider,
		Body:     body,
		Headers:  headers,
	})
	if err != nil {
		h.writeError(w, r, "httpapi.inbound", err)
		return
	}
	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"event_id":  result.Event.ID,
		"type":      result.Event.Type,
		"duplicate": result.Duplicate,
	})
}

type raiseEventBody struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Payload  json.RawMessage `json:"payload"`
}

func (h *Handler) RaiseEvent(w http.ResponseWriter, r *http.Request) {
	var body raiseEventBody
	if err := h.decode(w, r, &body); err != nil {
		h.writeError(w, r, "httpapi.events.raise", err)
		return
	}
	event, err := execute[core.Event](r.Context(), h.commands.RaiseEvent, hookscommand.RaiseEventMessage{
		EventType: body.Type,
		TenantID:  body.TenantID,
		Payload:   body.Payload,
	})
	if err != nil {
		h.writeError(w, r, "httpapi.events.raise", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newEventView(event))
}

func (h *Handler) RefireEvent(w http.ResponseWriter, r *http.Request) {
	result, err := execute[webhooks.DispatchResult](r.Context(), h.commands.RefireEvent, hookscommand.RefireEventMessage{
		EventID: chi.URLParam(r, "eventID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.events.refire", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newDispatchView(result))
}

func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.queries.ListEndpoints.Query(r.Context(), hooksquery.ListEndpointsMessage{
		TenantID: r.URL.Query().Get("tenant_id"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.list", err)
		return
	}
	views := make([]endpointView, 0, len(endpoints))
	for _, endpoint := range endpoints {
		views = append(views, newEndpointView(endpoint, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := h.queries.GetEndpoint.Query(r.Context(), hooksquery.GetEndpointMessage{
		EndpointID: chi.URLParam(r, "endpointID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.get", err)
		return
	}
	writeJSON(w, http.StatusOK, newEndpointView(endpoint, false))
}

func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req core.CreateEndpointRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, "httpapi.endpoints.create", err)
		return
	}
	endpoint, err := execute[core.WebhookEndpoint](r.Context(), h.commands.CreateEndpoint, hookscommand.CreateEndpointMessage{
		Request: req,
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, newEndpointView(endpoint, true))
}

func (h *Handler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req core.UpdateEndpointRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, "httpapi.endpoints.update", err)
		return
	}
	req.ID = chi.URLParam(r, "endpointID")
	endpoint, err := execute[core.WebhookEndpoint](r.Context(), h.commands.UpdateEndpoint, hookscommand.UpdateEndpointMessage{
		Request: req,
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.update", err)
		return
	}
	writeJSON(w, http.StatusOK, newEndpointView(endpoint, req.Secret != nil))
}

func (h *Handler) DisableEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := execute[core.WebhookEndpoint](r.Context(), h.commands.DisableEndpoint, hookscommand.DisableEndpointMessage{
		EndpointID: chi.URLParam(r, "endpointID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.disable", err)
		return
	}
	writeJSON(w, http.StatusOK, newEndpointView(endpoint, false))
}

func (h *Handler) EnableEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := execute[core.WebhookEndpoint](r.Context(), h.commands.EnableEndpoint, hookscommand.EnableEndpointMessage{
		EndpointID: chi.URLParam(r, "endpointID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.enable", err)
		return
	}
	writeJSON(w, http.StatusOK, newEndpointView(endpoint, false))
}

func (h *Handler) TestEndpoint(w http.ResponseWriter, r *http.Request) {
	result, err := execute[webhooks.TestResult](r.Context(), h.commands.TestEndpoint, hookscommand.TestEndpointMessage{
		EndpointID: chi.URLParam(r, "endpointID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.endpoints.test", err)
		return
	}
	writeJSON(w, http.StatusOK, testResultView{
		StatusCode: result.StatusCode,
		LatencyMS:  result.Latency.Milliseconds(),
		Success:    result.Success,
		Error:      result.Error,
	})
}

func (h *Handler) ListDeliveryAttempts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := pageFromQuery(query.Get("limit"), query.Get("offset"))
	if err != nil {
		h.writeError(w, r, "httpapi.attempts.list", err)
		return
	}
	filter := core.DeliveryAttemptFilter{
		EventID:    query.Get("event_id"),
		EndpointID: firstNonEmpty(chi.URLParam(r, "endpointID"), query.Get("endpoint_id")),
		TenantID:   query.Get("tenant_id"),
		Status:     core.AttemptStatus(query.Get("status")),
		Page:       page,
	}
	result, err := h.queries.ListDeliveryAttempts.Query(r.Context(), hooksquery.ListDeliveryAttemptsMessage{Filter: filter})
	if err != nil {
		h.writeError(w, r, "httpapi.attempts.list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": newAttemptViews(result.Items),
		"total": result.Total,
	})
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := pageFromQuery(query.Get("limit"), query.Get("offset"))
	if err != nil {
		h.writeError(w, r, "httpapi.notifications.list", err)
		return
	}
	unreadOnly, _ := strconv.ParseBool(query.Get("unread"))
	result, err := h.queries.ListNotifications.Query(r.Context(), hooksquery.ListNotificationsMessage{
		Filter: core.NotificationFilter{
			UserID:     chi.URLParam(r, "userID"),
			UnreadOnly: unreadOnly,
			Page:       page,
		},
	})
	if err != nil {
		h.writeError(w, r, "httpapi.notifications.list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": newNotificationViews(result.Items),
		"total": result.Total,
	})
}

func (h *Handler) CountUnread(w http.ResponseWriter, r *http.Request) {
	count, err := h.queries.CountUnread.Query(r.Context(), hooksquery.CountUnreadMessage{
		UserID: chi.URLParam(r, "userID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.notifications.unread", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": count})
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := h.commands.MarkNotificationRead.Execute(r.Context(), hookscommand.MarkNotificationReadMessage{
		UserID:         chi.URLParam(r, "userID"),
		NotificationID: chi.URLParam(r, "notificationID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.notifications.read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.queries.ListPreferences.Query(r.Context(), hooksquery.ListPreferencesMessage{
		UserID: chi.URLParam(r, "userID"),
	})
	if err != nil {
		h.writeError(w, r, "httpapi.preferences.list", err)
		return
	}
	items := make([]preferenceBody, 0, len(prefs))
	for _, pref := range prefs {
		items = append(items, newPreferenceBody(pref))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) SetPreference(w http.ResponseWriter, r *http.Request) {
	var body preferenceBody
	if err := h.decode(w, r, &body); err != nil {
		h.writeError(w, r, "httpapi.preferences.set", err)
		return
	}
	pref, err := body.toPreference(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "httpapi.preferences.set", err)
		return
	}
	stored, err := execute[core.NotificationPreference](r.Context(), h.commands.SetPreference, hookscommand.SetPreferenceMessage{
		Preference: pref,
	})
	if err != nil {
		h.writeError(w, r, "httpapi.preferences.set", err)
		return
	}
	writeJSON(w, http.StatusOK, newPreferenceBody(stored))
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, core.BadInputError("request body could not be read")
	}
	return body, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) error {
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return core.BadInputError("request body is required")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return core.BadInputError("request body is not valid json")
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, payload := errorResponse(err)
	fields := map[string]any{
		"operation":   operation,
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": status,
		"error":       err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.obs.Error(r.Context(), "request failed", fields)
	} else {
		h.obs.Warn(r.Context(), "request rejected", fields)
	}
	writeJSON(w, status, payload)
}

func pageFromQuery(limitRaw string, offsetRaw string) (core.Page, error) {
	page := core.Page{}
	if limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil || limit < 0 {
			return core.Page{}, core.BadInputError("limit must be a non-negative integer")
		}
		page.Limit = limit
	}
	if offsetRaw != "" {
		offset, err := strconv.Atoi(offsetRaw)
		if err != nil || offset < 0 {
			return core.Page{}, core.BadInputError("offset must be a non-negative integer")
		}
		page.Offset = offset
	}
	return page, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
