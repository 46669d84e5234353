package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// AppendResult reports whether an event row was created. Attempts is empty
// when the event already existed.
type AppendResult struct {
	Event    Event
	Created  bool
	Attempts []DeliveryAttempt
}

type EventStore interface {
	// Append persists the event and its first delivery attempts in one
	// transaction. A duplicate event id inserts nothing and returns the
	// stored event with Created=false.
	Append(ctx context.Context, event Event, attempts []DeliveryAttempt) (AppendResult, error)
	Get(ctx context.Context, id string) (Event, error)
}

type EndpointStore interface {
	Create(ctx context.Context, endpoint WebhookEndpoint) (WebhookEndpoint, error)
	Update(ctx context.Context, endpoint WebhookEndpoint) (WebhookEndpoint, error)
	Get(ctx context.Context, id string) (WebhookEndpoint, error)
	ListByTenant(ctx context.Context, tenantID string) ([]WebhookEndpoint, error)
	ListActive(ctx context.Context) ([]WebhookEndpoint, error)
	// CompareAndSwapHealth writes the circuit breaker columns only when the
	// stored version still equals expectedVersion.
	CompareAndSwapHealth(
		ctx context.Context,
		id string,
		expectedVersion int64,
		consecutiveFailures int,
		disabledUntil *time.Time,
	) (bool, error)
}

type DeliveryAttemptStore interface {
	Create(ctx context.Context, attempts []DeliveryAttempt) ([]DeliveryAttempt, error)
	Get(ctx context.Context, id string) (DeliveryAttempt, error)
	// Resolve writes a terminal outcome onto a pending attempt and, when next
	// is set, inserts the follow-up attempt in the same transaction. It
	// returns ErrAttemptNotPending if the attempt already left pending.
	Resolve(ctx context.Context, id string, outcome AttemptOutcome, next *DeliveryAttempt) (*DeliveryAttempt, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]DeliveryAttempt, error)
	List(ctx context.Context, filter DeliveryAttemptFilter) (DeliveryAttemptPage, error)
}

type PreferenceStore interface {
	Get(ctx context.Context, userID string, eventType string) (NotificationPreference, bool, error)
	Upsert(ctx context.Context, pref NotificationPreference) (NotificationPreference, error)
	ListByUser(ctx context.Context, userID string) ([]NotificationPreference, error)
}

type NotificationStore interface {
	// Create inserts the notification unless one already exists for the
	// same user and event, in which case the stored row is returned.
	Create(ctx context.Context, notification Notification) (Notification, bool, error)
	Get(ctx context.Context, id string) (Notification, error)
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error
	Defer(ctx context.Context, id string, deliverAfter time.Time, lastError string) error
	MarkRead(ctx context.Context, userID string, id string, readAt time.Time) error
	CountUnread(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, filter NotificationFilter) (NotificationPage, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	ListDigestUsers(ctx context.Context, mode DeliveryMode) ([]string, error)
	ListDigestCandidates(ctx context.Context, userID string, mode DeliveryMode, before time.Time) ([]Notification, error)
}

type DigestStore interface {
	// FindOrOpen returns the batch for (user, period, windowEnd), creating
	// it when missing.
	FindOrOpen(ctx context.Context, userID string, period DigestPeriod, windowStart, windowEnd time.Time) (DigestBatch, error)
	LastSent(ctx context.Context, userID string, period DigestPeriod) (*DigestBatch, error)
	// Close tags the notifications with the batch id and stamps sent_at in
	// one transaction. Notifications already tagged are left untouched.
	Close(ctx context.Context, batchID string, notificationIDs []string, sentAt time.Time) error
}

var ErrLockHeld = errors.New("core: lock already held")

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type RecipientResolver interface {
	Recipients(ctx context.Context, event Event) ([]Recipient, error)
}

type RecipientDirectory interface {
	Lookup(ctx context.Context, userID string) (Recipient, error)
}

type Message struct {
	To            Recipient
	Subject       string
	Text          string
	HTML          string
	Notifications []Notification
}

type NotificationSender interface {
	Channel() Channel
	Send(ctx context.Context, msg Message) error
}

// SecretCipher seals endpoint signing secrets before they are stored.
// Decrypt must pass through values that were never sealed.
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
