package eventhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/digest"
	"github.com/goliatone/go-eventhooks/inbound"
	"github.com/goliatone/go-eventhooks/notify"
	"github.com/goliatone/go-eventhooks/transport"
	"github.com/goliatone/go-eventhooks/webhooks"
)

type Option func(*engineOptions)

type engineOptions struct {
	logger     core.Logger
	metrics    core.MetricsRecorder
	now        func() time.Time
	transport  transport.Adapter
	locker     core.Locker
	senders    []core.NotificationSender
	recipients core.RecipientResolver
	directory  core.RecipientDirectory
	enqueuer   core.JobEnqueuer
	dequeuer   core.JobDequeuer
	jobHook    core.JobWorkerHook
	providers  []inbound.Provider
}

func WithLogger(logger core.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *engineOptions) {
		o.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		o.now = now
	}
}

// WithTransport replaces the HTTP adapter used for outbound deliveries.
func WithTransport(adapter transport.Adapter) Option {
	return func(o *engineOptions) {
		o.transport = adapter
	}
}

// WithLocker sets the digest coordinator lock. Multi-instance deployments
// need a shared one such as store/redis.Locker.
func WithLocker(locker core.Locker) Option {
	return func(o *engineOptions) {
		o.locker = locker
	}
}

func WithSender(sender core.NotificationSender) Option {
	return func(o *engineOptions) {
		if sender != nil {
			o.senders = append(o.senders, sender)
		}
	}
}

// WithRecipients decides which users are notified about an event. Without
// one, events only produce webhook deliveries.
func WithRecipients(resolver core.RecipientResolver) Option {
	return func(o *engineOptions) {
		o.recipients = resolver
	}
}

func WithDirectory(directory core.RecipientDirectory) Option {
	return func(o *engineOptions) {
		o.directory = directory
	}
}

// WithDigestJobs moves per-user digest work onto a job queue. A nil
// dequeuer only enqueues; another process consumes.
func WithDigestJobs(enqueuer core.JobEnqueuer, dequeuer core.JobDequeuer, hook core.JobWorkerHook) Option {
	return func(o *engineOptions) {
		o.enqueuer = enqueuer
		o.dequeuer = dequeuer
		o.jobHook = hook
	}
}

func WithInboundProvider(provider inbound.Provider) Option {
	return func(o *engineOptions) {
		o.providers = append(o.providers, provider)
	}
}

type IngestResult = core.IngestResult

// Engine owns the dispatcher, normalizer, notifier and digest scheduler.
type Engine struct {
	cfg        core.Config
	stores     Stores
	dispatcher *webhooks.Dispatcher
	normalizer *inbound.Normalizer
	notifier   *notify.Service
	scheduler  *digest.Scheduler
	dequeuer   core.JobDequeuer
	jobHook    core.JobWorkerHook
	obs        core.Observer
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg core.Config, stores Stores, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := stores.validate(); err != nil {
		return nil, err
	}
	options := engineOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.now == nil {
		options.now = func() time.Time { return time.Now().UTC() }
	}

	dispatcherOpts := []webhooks.Option{
		webhooks.WithLogger(options.logger),
		webhooks.WithMetrics(options.metrics),
		webhooks.WithClock(options.now),
	}
	if options.transport != nil {
		dispatcherOpts = append(dispatcherOpts, webhooks.WithTransport(options.transport))
	}
	dispatcher, err := webhooks.NewDispatcher(cfg.Dispatcher, webhooks.Stores{
		Events:    stores.Events,
		Endpoints: stores.Endpoints,
		Attempts:  stores.Attempts,
	}, dispatcherOpts...)
	if err != nil {
		return nil, err
	}

	normalizerOpts := []inbound.Option{
		inbound.WithLogger(options.logger),
		inbound.WithMetrics(options.metrics),
		inbound.WithClock(options.now),
	}
	for _, provider := range options.providers {
		normalizerOpts = append(normalizerOpts, inbound.WithProvider(provider))
	}
	normalizer, err := inbound.NewFromConfig(cfg.Inbound, normalizerOpts...)
	if err != nil {
		return nil, err
	}

	notifyOpts := []notify.Option{
		notify.WithRecipients(options.recipients),
		notify.WithDirectory(options.directory),
		notify.WithLogger(options.logger),
		notify.WithMetrics(options.metrics),
		notify.WithClock(options.now),
	}
	if strings.TrimSpace(cfg.Notifications.Email.Host) != "" && !hasChannel(options.senders, core.ChannelEmail) {
		smtpSender, err := notify.NewSMTPSender(cfg.Notifications.Email)
		if err != nil {
			return nil, err
		}
		notifyOpts = append(notifyOpts, notify.WithSender(smtpSender))
	}
	for _, sender := range options.senders {
		notifyOpts = append(notifyOpts, notify.WithSender(sender))
	}
	notifier, err := notify.NewService(cfg.Notifications, cfg.Digest, notify.Stores{
		Notifications: stores.Notifications,
		Preferences:   stores.Preferences,
	}, notifyOpts...)
	if err != nil {
		return nil, err
	}

	schedulerOpts := []digest.Option{
		digest.WithLogger(options.logger),
		digest.WithMetrics(options.metrics),
		digest.WithClock(options.now),
	}
	if options.locker != nil {
		schedulerOpts = append(schedulerOpts, digest.WithLocker(options.locker))
	}
	if options.enqueuer != nil {
		schedulerOpts = append(schedulerOpts, digest.WithJobEnqueuer(options.enqueuer))
	}
	scheduler, err := digest.NewScheduler(cfg.Digest, digest.Stores{
		Notifications: stores.Notifications,
		Digests:       stores.Digests,
	}, notifier, schedulerOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		stores:     stores,
		dispatcher: dispatcher,
		normalizer: normalizer,
		notifier:   notifier,
		scheduler:  scheduler,
		dequeuer:   options.dequeuer,
		jobHook:    options.jobHook,
		obs:        core.NewObserver("eventhooks", options.logger, options.metrics),
		now:        options.now,
	}, nil
}

func hasChannel(senders []core.NotificationSender, channel core.Channel) bool {
	for _, sender := range senders {
		if sender.Channel() == channel {
			return true
		}
	}
	return false
}

func (e *Engine) Config() core.Config { return e.cfg }

func (e *Engine) Dispatcher() *webhooks.Dispatcher { return e.dispatcher }

func (e *Engine) Normalizer() *inbound.Normalizer { return e.normalizer }

func (e *Engine) Notifier() *notify.Service { return e.notifier }

func (e *Engine) Scheduler() *digest.Scheduler { return e.scheduler }

// Raise persists a new internal event, queues its webhook deliveries and
// resolves its notifications. Once the event is stored Raise succeeds;
// delivery and notification failures are logged, never returned.
func (e *Engine) Raise(ctx context.Context, eventType string, tenantID string, payload any) (core.Event, error) {
	eventType = strings.TrimSpace(eventType)
	tenantID = strings.TrimSpace(tenantID)
	if eventType == "" {
		return core.Event{}, core.BadInputError("event type is required")
	}
	if tenantID == "" {
		return core.Event{}, core.BadInputError("event tenant_id is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return core.Event{}, err
	}
	now := e.now().UTC()
	event := core.Event{
		ID:         core.NewEventID(now),
		Type:       eventType,
		TenantID:   tenantID,
		Payload:    raw,
		OccurredAt: now,
		Source:     core.SourceInternal,
	}
	stored, _, err := e.publish(ctx, event)
	return stored, err
}

// Ingest verifies and maps an inbound provider webhook and runs the result
// through the same pipeline as Raise. A redelivered provider event maps to
// the stored event and is reported as a duplicate.
func (e *Engine) Ingest(ctx context.Context, provider string, body []byte, headers map[string]string) (IngestResult, error) {
	event, err := e.normalizer.Ingest(ctx, provider, body, headers)
	if err != nil {
		return IngestResult{}, err
	}
	stored, duplicate, err := e.publish(ctx, event)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Event: stored, Duplicate: duplicate}, nil
}

func (e *Engine) publish(ctx context.Context, event core.Event) (core.Event, bool, error) {
	dispatched, err := e.dispatcher.Dispatch(ctx, event)
	if err != nil {
		return core.Event{}, false, err
	}
	// notifications run to completion once the event is stored. Notify skips
	// recipients that already have a row, so a redelivered event fills in
	// notifications a failed first pass left out.
	notifyCtx := context.WithoutCancel(ctx)
	if _, err := e.notifier.Notify(notifyCtx, dispatched.Event); err != nil {
		e.obs.Warn(notifyCtx, "event notification failed", map[string]any{
			"event_id":   dispatched.Event.ID,
			"event_type": dispatched.Event.Type,
			"tenant_id":  dispatched.Event.TenantID,
			"duplicate":  dispatched.Duplicate,
			"error":      err.Error(),
		})
	}
	return dispatched.Event, dispatched.Duplicate, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch typed := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(typed) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(typed) {
			return nil, core.BadInputError("event payload is not valid json")
		}
		return typed, nil
	case []byte:
		return encodePayload(json.RawMessage(typed))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, core.BadInputError(fmt.Sprintf("event payload could not be encoded: %v", err))
	}
	return raw, nil
}

// Start launches the delivery workers and recovery sweep, the digest
// scheduler and, when configured, the digest job consumer. It returns once
// everything is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := e.dispatcher.Start(runCtx); err != nil {
		cancel()
		return err
	}
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.obs.Error(runCtx, "digest scheduler stopped", map[string]any{"error": err.Error()})
		}
	}()
	if e.dequeuer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.scheduler.ConsumeJobs(runCtx, e.dequeuer, e.jobHook); err != nil {
				e.obs.Error(runCtx, "digest job consumer stopped", map[string]any{"error": err.Error()})
			}
		}()
	}
	e.obs.Info(runCtx, "eventhooks engine started", map[string]any{
		"service":          e.cfg.ServiceName,
		"digest_disabled":  e.cfg.Digest.Disabled,
		"inbound_provider": strings.Join(e.normalizer.Providers(), ","),
	})
	return nil
}

// Stop cancels background work and waits for it. Attempts in flight stay
// pending and are picked up by the next recovery sweep.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.dispatcher.Stop()
	e.wg.Wait()
}
