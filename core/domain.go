package core

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	EventTypeContentApproved  = "content.approved"
	EventTypeContentPublished = "content.published"
	EventTypeLeadCreated      = "lead.created"
	EventTypeCallReceived     = "call.received"
	EventTypeFormSubmitted    = "form.submitted"
	EventTypeWebhookTest      = "webhook.test"

	// Wildcard matches any user or event type in preference rows.
	Wildcard = "*"

	SourceInternal      = "internal"
	sourceInboundPrefix = "inbound:"
)

// Event is immutable once created. Payload is kept as raw JSON so the
// canonical webhook body is byte-stable across retries.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	Source     string          `json:"source"`
}

func InboundSource(provider string) string {
	return sourceInboundPrefix + strings.TrimSpace(provider)
}

func (e Event) IsInbound() bool {
	return strings.HasPrefix(e.Source, sourceInboundPrefix)
}

func (e Event) Provider() string {
	if !e.IsInbound() {
		return ""
	}
	return strings.TrimPrefix(e.Source, sourceInboundPrefix)
}

func (e Event) Decode(target any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, target)
}

type WebhookEndpoint struct {
	ID                  string
	TenantID            string
	URL                 string
	Secret              string
	EventTypes          []string
	Active              bool
	MaxInFlight         int
	ConsecutiveFailures int
	DisabledUntil       *time.Time
	Version             int64
	Description         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Subscribes reports whether the endpoint receives the given event type.
// A "*" entry subscribes to everything; an empty list receives nothing.
func (e WebhookEndpoint) Subscribes(eventType string) bool {
	for _, candidate := range e.EventTypes {
		candidate = strings.TrimSpace(candidate)
		if candidate == Wildcard || candidate == eventType {
			return true
		}
	}
	return false
}

func (e WebhookEndpoint) DisabledAt(now time.Time) bool {
	return e.DisabledUntil != nil && now.Before(*e.DisabledUntil)
}

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusSuccess   AttemptStatus = "success"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusAbandoned AttemptStatus = "abandoned"
)

func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSuccess || s == AttemptStatusFailed || s == AttemptStatusAbandoned
}

// DeliveryAttempt is one HTTP try for an (event, endpoint) pair. A retry is
// a new row. ChainStart is the attempt number that opened the current retry
// chain; a refire opens a new chain above the highest existing number.
type DeliveryAttempt struct {
	ID            string
	EventID       string
	EndpointID    string
	TenantID      string
	AttemptNumber int
	ChainStart    int
	Status        AttemptStatus
	HTTPStatus    int
	Error         string
	ErrorCode     string
	NextAttemptAt *time.Time
	AttemptedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChainPosition is the 1-based index of the attempt within its chain.
func (a DeliveryAttempt) ChainPosition() int {
	start := a.ChainStart
	if start <= 0 || start > a.AttemptNumber {
		start = 1
	}
	return a.AttemptNumber - start + 1
}

// AttemptOutcome is the terminal state written onto a pending attempt.
type AttemptOutcome struct {
	Status      AttemptStatus
	HTTPStatus  int
	Error       string
	ErrorCode   string
	AttemptedAt time.Time
}

type DeliveryMode string

const (
	DeliveryModeImmediate DeliveryMode = "immediate"
	DeliveryModeDaily     DeliveryMode = "daily"
	DeliveryModeWeekly    DeliveryMode = "weekly"
	DeliveryModeDisabled  DeliveryMode = "disabled"
)

func (m DeliveryMode) Valid() bool {
	switch m {
	case DeliveryModeImmediate, DeliveryModeDaily, DeliveryModeWeekly, DeliveryModeDisabled:
		return true
	}
	return false
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
	ChannelBoth  Channel = "both"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelInApp || c == ChannelBoth
}

// Emails reports whether the channel sends email. Every notification row is
// listed in-app regardless of channel.
func (c Channel) Emails() bool {
	return c == ChannelEmail || c == ChannelBoth
}

type NotificationPreference struct {
	ID              string
	UserID          string
	EventType       string
	Mode            DeliveryMode
	Channel         Channel
	QuietHoursStart string
	QuietHoursEnd   string
	Timezone        string
	DigestHour      *int
	DigestWeekday   *time.Weekday
	UpdatedAt       time.Time
}

type Notification struct {
	ID            string
	UserID        string
	TenantID      string
	EventID       string
	EventType     string
	Title         string
	Body          string
	Channel       Channel
	Mode          DeliveryMode
	CreatedAt     time.Time
	DeliverAfter  *time.Time
	DeliveredAt   *time.Time
	ReadAt        *time.Time
	DigestBatchID string
	LastError     string
}

// IngestResult is the outcome of one inbound webhook. Duplicate is set when
// the provider event was already stored.
type IngestResult struct {
	Event     Event
	Duplicate bool
}

type DigestPeriod string

const (
	DigestPeriodDaily  DigestPeriod = "daily"
	DigestPeriodWeekly DigestPeriod = "weekly"
)

func (p DigestPeriod) Mode() DeliveryMode {
	if p == DigestPeriodWeekly {
		return DeliveryModeWeekly
	}
	return DeliveryModeDaily
}

func (p DigestPeriod) Length() time.Duration {
	if p == DigestPeriodWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

type DigestBatch struct {
	ID                string
	UserID            string
	Period            DigestPeriod
	WindowStart       time.Time
	WindowEnd         time.Time
	NotificationCount int
	SentAt            *time.Time
	CreatedAt         time.Time
}

// Recipient is a user who should be notified about an event.
type Recipient struct {
	UserID string
	Email  string
	Name   string
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) Normalize(defaultLimit, maxLimit int) Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type DeliveryAttemptFilter struct {
	EventID    string
	EndpointID string
	TenantID   string
	Status     AttemptStatus
	Page       Page
}

type DeliveryAttemptPage struct {
	Items []DeliveryAttempt
	Total int
}

type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       Page
}

type NotificationPage struct {
	Items []Notification
	Total int
}
