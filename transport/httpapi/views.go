package httpapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/webhooks"
)

type eventView struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	Source     string          `json:"source"`
}

func newEventView(event core.Event) eventView {
	return eventView{
		ID:         event.ID,
		Type:       event.Type,
		TenantID:   event.TenantID,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt,
		Source:     event.Source,
	}
}

// endpointView omits the signing secret unless the caller just created or
// rotated it.
type endpointView struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	URL                 string     `json:"url"`
	Secret              string     `json:"secret,omitempty"`
	EventTypes          []string   `json:"event_types"`
	Active              bool       `json:"active"`
	MaxInFlight         int        `json:"max_in_flight"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	DisabledUntil       *time.Time `json:"disabled_until,omitempty"`
	Version             int64      `json:"version"`
	Description         string     `json:"description,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func newEndpointView(endpoint core.WebhookEndpoint, withSecret bool) endpointView {
	view := endpointView{
		ID:                  endpoint.ID,
		TenantID:            endpoint.TenantID,
		URL:                 endpoint.URL,
		EventTypes:          endpoint.EventTypes,
		Active:              endpoint.Active,
		MaxInFlight:         endpoint.MaxInFlight,
		ConsecutiveFailures: endpoint.ConsecutiveFailures,
		DisabledUntil:       endpoint.DisabledUntil,
		Version:             endpoint.Version,
		Description:         endpoint.Description,
		CreatedAt:           endpoint.CreatedAt,
		UpdatedAt:           endpoint.UpdatedAt,
	}
	if view.EventTypes == nil {
		view.EventTypes = []string{}
	}
	if withSecret {
		view.Secret = endpoint.Secret
	}
	return view
}

type attemptView struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	EndpointID    string     `json:"endpoint_id"`
	TenantID      string     `json:"tenant_id"`
	AttemptNumber int        `json:"attempt_number"`
	Status        string     `json:"status"`
	HTTPStatus    int        `json:"http_status,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	AttemptedAt   *time.Time `json:"attempted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newAttemptViews(attempts []core.DeliveryAttempt) []attemptView {
	out := make([]attemptView, 0, len(attempts))
	for _, attempt := range attempts {
		out = append(out, attemptView{
			ID:            attempt.ID,
			EventID:       attempt.EventID,
			EndpointID:    attempt.EndpointID,
			TenantID:      attempt.TenantID,
			AttemptNumber: attempt.AttemptNumber,
			Status:        string(attempt.Status),
			HTTPStatus:    attempt.HTTPStatus,
			Error:         attempt.Error,
			ErrorCode:     attempt.ErrorCode,
			NextAttemptAt: attempt.NextAttemptAt,
			AttemptedAt:   attempt.AttemptedAt,
			CreatedAt:     attempt.CreatedAt,
		})
	}
	return out
}

type dispatchView struct {
	Event    eventView     `json:"event"`
	Attempts []attemptView `json:"attempts"`
	Enqueued int           `json:"enqueued"`
}

func newDispatchView(result webhooks.DispatchResult) dispatchView {
	return dispatchView{
		Event:    newEventView(result.Event),
		Attempts: newAttemptViews(result.Attempts),
		Enqueued: result.Enqueued,
	}
}

type testResultView struct {
	StatusCode int    `json:"status_code"`
	LatencyMS  int64  `json:"latency_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type notificationView struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Channel     string     `json:"channel"`
	Mode        string     `json:"mode"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func newNotificationViews(notifications []core.Notification) []notificationView {
	out := make([]notificationView, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, notificationView{
			ID:          n.ID,
			TenantID:    n.TenantID,
			EventID:     n.EventID,
			EventType:   n.EventType,
			Title:       n.Title,
			Body:        n.Body,
			Channel:     string(n.Channel),
			Mode:        string(n.Mode),
			CreatedAt:   n.CreatedAt,
			DeliveredAt: n.DeliveredAt,
			ReadAt:      n.ReadAt,
		})
	}
	return out
}

// preferenceBody is both the request and response shape for preferences.
// DigestWeekday uses lowercase English day names.
type preferenceBody struct {
	EventType       string `json:"event_type"`
	Mode            string `json:"mode"`
	Channel         string `json:"channel"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	DigestHour      *int   `json:"digest_hour,omitempty"`
	DigestWeekday   string `json:"digest_weekday,omitempty"`
}

func newPreferenceBody(pref core.NotificationPreference) preferenceBody {
	body := preferenceBody{
		EventType:       pref.EventType,
		Mode:            string(pref.Mode),
		Channel:         string(pref.Channel),
		QuietHoursStart: pref.QuietHoursStart,
		QuietHoursEnd:   pref.QuietHoursEnd,
		Timezone:        pref.Timezone,
		DigestHour:      pref.DigestHour,
	}
	if pref.DigestWeekday != nil {
		body.DigestWeekday = strings.ToLower(pref.DigestWeekday.String())
	}
	return body
}

func (b preferenceBody) toPreference(userID string) (core.NotificationPreference, error) {
	pref := core.NotificationPreference{
		UserID:          userID,
		EventType:       b.EventType,
		Mode:            core.DeliveryMode(b.Mode),
		Channel:         core.Channel(b.Channel),
		QuietHoursStart: b.QuietHoursStart,
		QuietHoursEnd:   b.QuietHoursEnd,
		Timezone:        b.Timezone,
		DigestHour:      b.DigestHour,
	}
	if b.DigestWeekday != "" {
		day, err := core.ParseWeekday(b.DigestWeekday)
		if err != nil {
			return core.NotificationPreference{}, core.BadInputError(err.Error())
		}
		pref.DigestWeekday = &day
	}
	return pref, nil
}
