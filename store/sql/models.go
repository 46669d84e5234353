package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:eventhooks_events,alias:ev"`

	ID         string    `bun:"id,pk"`
	Type       string    `bun:"type,notnull"`
	TenantID   string    `bun:"tenant_id,notnull"`
	Payload    string    `bun:"payload,type:jsonb,notnull"`
	OccurredAt time.Time `bun:"occurred_at,notnull"`
	Source     string    `bun:"source,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type endpointRecord struct {
	bun.BaseModel `bun:"table:eventhooks_webhook_endpoints,alias:we"`

	ID                  string     `bun:"id,pk"`
	TenantID            string     `bun:"tenant_id,notnull"`
	URL                 string     `bun:"url,notnull"`
	Secret              string     `bun:"secret,notnull"`
	EventTypes          []string   `bun:"event_types,type:jsonb,notnull"`
	IsActive            bool       `bun:"is_active,notnull"`
	MaxInFlight         int        `bun:"max_in_flight,notnull"`
	ConsecutiveFailures int        `bun:"consecutive_failures,notnull"`
	DisabledUntil       *time.Time `bun:"disabled_until,nullzero"`
	Version             int64      `bun:"version,notnull"`
	Description         string     `bun:"description,notnull"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryAttemptRecord struct {
	bun.BaseModel `bun:"table:eventhooks_delivery_attempts,alias:da"`

	ID            string     `bun:"id,pk"`
	EventID       string     `bun:"event_id,notnull"`
	EndpointID    string     `bun:"endpoint_id,notnull"`
	TenantID      string     `bun:"tenant_id,notnull"`
	AttemptNumber int        `bun:"attempt_number,notnull"`
	ChainStart    int        `bun:"chain_start,notnull"`
	Status        string     `bun:"status,notnull"`
	HTTPStatus    int        `bun:"http_status,notnull"`
	Error         string     `bun:"error,notnull"`
	ErrorCode     string     `bun:"error_code,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	AttemptedAt   *time.Time `bun:"attempted_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type preferenceRecord struct {
	bun.BaseModel `bun:"table:eventhooks_notification_preferences,alias:np"`

	ID              string    `bun:"id,pk"`
	UserID          string    `bun:"user_id,notnull"`
	EventType       string    `bun:"event_type,notnull"`
	DeliveryMode    string    `bun:"delivery_mode,notnull"`
	Channel         string    `bun:"channel,notnull"`
	QuietHoursStart string    `bun:"quiet_hours_start,notnull"`
	QuietHoursEnd   string    `bun:"quiet_hours_end,notnull"`
	Timezone        string    `bun:"timezone,notnull"`
	DigestHour      *int      `bun:"digest_hour"`
	DigestWeekday   *int      `bun:"digest_weekday"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type notificationRecord struct {
	bun.BaseModel `bun:"table:eventhooks_notifications,alias:nt"`

	ID            string     `bun:"id,pk"`
	UserID        string     `bun:"user_id,notnull"`
	TenantID      string     `bun:"tenant_id,notnull"`
	EventID       string     `bun:"event_id,notnull"`
	EventType     string     `bun:"event_type,notnull"`
	Title         string     `bun:"title,notnull"`
	Body          string     `bun:"body,notnull"`
	Channel       string     `bun:"channel,notnull"`
	DeliveryMode  string     `bun:"delivery_mode,notnull"`
	DeliverAfter  *time.Time `bun:"deliver_after,nullzero"`
	DeliveredAt   *time.Time `bun:"delivered_at,nullzero"`
	ReadAt        *time.Time `bun:"read_at,nullzero"`
	DigestBatchID *string    `bun:"digest_batch_id"`
	LastError     string     `bun:"last_error,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type digestBatchRecord struct {
	bun.BaseModel `bun:"table:eventhooks_digest_batches,alias:db"`

	ID                string     `bun:"id,pk"`
	UserID            string     `bun:"user_id,notnull"`
	Period            string     `bun:"period,notnull"`
	WindowStart       time.Time  `bun:"window_start,notnull"`
	WindowEnd         time.Time  `bun:"window_end,notnull"`
	NotificationCount int        `bun:"notification_count,notnull"`
	SentAt            *time.Time `bun:"sent_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
