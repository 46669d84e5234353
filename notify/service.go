package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

// Stores groups the persistence the notification service depends on.
type Stores struct {
	Notifications core.NotificationStore
	Preferences   core.PreferenceStore
}

// NotifyResult counts what happened to each recipient of one event.
type NotifyResult struct {
	Created    int
	Sent       int
	Deferred   int
	Queued     int
	Suppressed int
	Duplicate  int
	Failed     int
}

type Option func(*Service)

func WithRecipients(resolver core.RecipientResolver) Option {
	return func(s *Service) {
		s.recipients = resolver
	}
}

func WithDirectory(directory core.RecipientDirectory) Option {
	return func(s *Service) {
		s.directory = directory
	}
}

func WithSender(sender core.NotificationSender) Option {
	return func(s *Service) {
		if sender != nil {
			s.pending = append(s.pending, sender)
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	cfg           core.NotificationsConfig
	notifications core.NotificationStore
	preferences   core.PreferenceStore
	resolver      *Resolver
	recipients    core.RecipientResolver
	directory     core.RecipientDirectory
	senders       *SenderRegistry
	pending       []core.NotificationSender
	logger        core.Logger
	metrics       core.MetricsRecorder
	obs           core.Observer
	now           func() time.Time
}

func NewService(
	notifications core.NotificationsConfig,
	digest core.DigestConfig,
	stores Stores,
	opts ...Option,
) (*Service, error) {
	if stores.Notifications == nil || stores.Preferences == nil {
		return nil, fmt.Errorf("notify: notification and preference stores are required")
	}
	resolver, err := NewResolver(stores.Preferences, notifications, digest)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:           notifications,
		notifications: stores.Notifications,
		preferences:   stores.Preferences,
		resolver:      resolver,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.senders, err = NewSenderRegistry(s.pending...)
	if err != nil {
		return nil, err
	}
	s.pending = nil
	s.obs = core.NewObserver("eventhooks", s.logger, s.metrics)
	if s.cfg.RetryDelay <= 0 {
		s.cfg.RetryDelay = 5 * time.Minute
	}
	if s.cfg.DueBatchSize <= 0 {
		s.cfg.DueBatchSize = 200
	}
	return s, nil
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

func (s *Service) Senders() *SenderRegistry {
	return s.senders
}

func (s *Service) Resolve(ctx context.Context, userID string, eventType string) (Resolution, error) {
	return s.resolver.Resolve(ctx, userID, eventType)
}

func (s *Service) ResolveDigest(ctx context.Context, userID string, mode core.DeliveryMode) (Resolution, error) {
	return s.resolver.ResolveDigest(ctx, userID, mode)
}

// SenderFor returns the sender and effective channel for a recipient.
func (s *Service) SenderFor(channel core.Channel, to core.Recipient) (core.NotificationSender, core.Channel) {
	return s.senders.For(channel, to)
}

// Notify creates one notification per recipient of the event. Immediate
// notifications are sent now unless the recipient is in quiet hours; digest
// modes only create the row; disabled mode keeps an already delivered
// in-app row. A recipient that already has a notification for the event is
// skipped.
func (s *Service) Notify(ctx context.Context, event core.Event) (result NotifyResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"tenant_id":  event.TenantID,
	}
	defer func() {
		fields["created"] = result.Created
		fields["sent"] = result.Sent
		fields["deferred"] = result.Deferred
		s.obs.Observe(ctx, startedAt, "notify.event", err, fields)
	}()

	if s.recipients == nil {
		return result, nil
	}
	recipients, err := s.recipients.Recipients(ctx, event)
	if err != nil {
		return result, err
	}
	title, body := Compose(event)

	var failures []error
	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if strings.TrimSpace(recipient.UserID) == "" {
			continue
		}
		if err := s.notifyRecipient(ctx, event, recipient, title, body, &result); err != nil {
			result.Failed++
			failures = append(failures, fmt.Errorf("recipient %s: %w", recipient.UserID, err))
		}
	}
	return result, errors.Join(failures...)
}

func (s *Service) notifyRecipient(
	ctx context.Context,
	event core.Event,
	recipient core.Recipient,
	title string,
	body string,
	result *NotifyResult,
) error {
	resolution, err := s.resolver.Resolve(ctx, recipient.UserID, event.Type)
	if err != nil {
		return err
	}
	now := s.now()
	notification := core.Notification{
		UserID:    recipient.UserID,
		TenantID:  event.TenantID,
		EventID:   event.ID,
		EventType: event.Type,
		Title:     title,
		Body:      body,
		Channel:   resolution.Channel,
		Mode:      resolution.Mode,
		CreatedAt: now,
	}

	quiet := false
	switch resolution.Mode {
	case core.DeliveryModeDisabled:
		notification.Channel = core.ChannelInApp
		notification.DeliveredAt = &now
	case core.DeliveryModeImmediate:
		// deliver_after doubles as a lease: if the process dies before the
		// send below is recorded, the due sweep picks the row up later.
		next := now.Add(s.cfg.RetryDelay)
		if resolution.QuietAt(now) {
			quiet = true
			next = resolution.NextAllowed(now)
		}
		notification.DeliverAfter = &next
	}

	stored, created, err := s.notifications.Create(ctx, notification)
	if err != nil {
		return err
	}
	if !created {
		result.Duplicate++
		return nil
	}
	result.Created++

	switch {
	case resolution.Mode == core.DeliveryModeDisabled:
		result.Suppressed++
	case resolution.Mode != core.DeliveryModeImmediate:
		result.Queued++
	case quiet:
		result.Deferred++
		s.obs.Debug(ctx, "notification deferred past quiet hours", map[string]any{
			"notification_id": stored.ID,
			"user_id":         stored.UserID,
			"deliver_after":   stored.DeliverAfter,
		})
	default:
		if s.deliver(ctx, stored, recipient) {
			result.Sent++
		} else {
			result.Deferred++
		}
	}
	return nil
}

// DeliverDue sends immediate notifications whose deliver_after has passed.
// Notifications that land in quiet hours again are pushed to the next
// allowed minute.
func (s *Service) DeliverDue(ctx context.Context, now time.Time) (delivered int, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		fields["delivered"] = delivered
		s.obs.Observe(ctx, startedAt, "notify.deliver_due", err, fields)
	}()

	due, err := s.notifications.ListDue(ctx, now, s.cfg.DueBatchSize)
	if err != nil {
		return 0, err
	}
	fields["due"] = len(due)
	for _, notification := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		resolution, err := s.resolver.Resolve(ctx, notification.UserID, notification.EventType)
		if err != nil {
			return delivered, err
		}
		if resolution.QuietAt(now) {
			if err := s.notifications.Defer(ctx, notification.ID, resolution.NextAllowed(now), notification.LastError); err != nil {
				return delivered, err
			}
			continue
		}
		if s.deliver(ctx, notification, s.lookup(ctx, notification.UserID)) {
			delivered++
		}
	}
	return delivered, nil
}

// deliver sends one notification and records the outcome. A failed send is
// deferred by the retry delay; the notification is never dropped.
func (s *Service) deliver(ctx context.Context, notification core.Notification, to core.Recipient) bool {
	sender, channel := s.senders.For(notification.Channel, to)
	msg := core.Message{
		To:            to,
		Subject:       notification.Title,
		Text:          notification.Body,
		HTML:          renderNotificationHTML(notification),
		Notifications: []core.Notification{notification},
	}
	fields := map[string]any{
		"notification_id": notification.ID,
		"user_id":         notification.UserID,
		"channel":         string(channel),
	}

	if err := sender.Send(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		retryAt := s.now().Add(s.cfg.RetryDelay)
		fields["error"] = err.Error()
		fields["retry_at"] = retryAt
		s.obs.Warn(ctx, "notification send failed", fields)
		s.obs.Count(ctx, "notify.send_failed", 1, map[string]string{"channel": string(channel)})
		if deferErr := s.notifications.Defer(ctx, notification.ID, retryAt, err.Error()); deferErr != nil {
			fields["defer_error"] = deferErr.Error()
			s.obs.Error(ctx, "notification defer failed", fields)
		}
		return false
	}
	if err := s.notifications.MarkDelivered(ctx, notification.ID, s.now()); err != nil {
		fields["error"] = err.Error()
		s.obs.Error(ctx, "notification mark delivered failed", fields)
		return false
	}
	s.obs.Count(ctx, "notify.sent", 1, map[string]string{"channel": string(channel)})
	return true
}

func (s *Service) lookup(ctx context.Context, userID string) core.Recipient {
	if s.directory != nil {
		recipient, err := s.directory.Lookup(ctx, userID)
		if err == nil {
			return recipient
		}
		s.obs.Warn(ctx, "recipient lookup failed", map[string]any{"user_id": userID, "error": err.Error()})
	}
	return core.Recipient{UserID: userID}
}

// Lookup resolves a recipient through the configured directory, falling
// back to a bare user id.
func (s *Service) Lookup(ctx context.Context, userID string) core.Recipient {
	return s.lookup(ctx, userID)
}

func (s *Service) ListNotifications(ctx context.Context, filter core.NotificationFilter) (core.NotificationPage, error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	if filter.UserID == "" {
		return core.NotificationPage{}, core.BadInputError("user_id is required")
	}
	return s.notifications.List(ctx, filter)
}

func (s *Service) MarkRead(ctx context.Context, userID string, notificationID string) error {
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return core.BadInputError("user_id and notification_id are required")
	}
	if err := s.notifications.MarkRead(ctx, userID, notificationID, s.now()); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.NotFoundError("notification", notificationID)
		}
		return err
	}
	return nil
}

func (s *Service) CountUnread(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, core.BadInputError("user_id is required")
	}
	return s.notifications.CountUnread(ctx, userID)
}

func (s *Service) SetPreference(ctx context.Context, pref core.NotificationPreference) (core.NotificationPreference, error) {
	pref, err := ValidatePreference(pref)
	if err != nil {
		return core.NotificationPreference{}, err
	}
	pref.UpdatedAt = s.now()
	return s.preferences.Upsert(ctx, pref)
}

func (s *Service) ListPreferences(ctx context.Context, userID string) ([]core.NotificationPreference, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, core.BadInputError("user_id is required")
	}
	return s.preferences.ListByUser(ctx, userID)
}

var notificationTemplate = template.Must(template.New("notification").Parse(
	`<html><body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">` +
		`<h2 style="color: #111;">{{.Title}}</h2>` +
		`<p style="color: #444;">{{.Body}}</p>` +
		`</body></html>`,
))

func renderNotificationHTML(notification core.Notification) string {
	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, notification); err != nil {
		return ""
	}
	return buf.String()
}
