package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/ratelimit"
	"github.com/goliatone/go-eventhooks/transport"
)

const refireScanLimit = 500

// Stores groups the persistence the dispatcher depends on.
type Stores struct {
	Events    core.EventStore
	Endpoints core.EndpointStore
	Attempts  core.DeliveryAttemptStore
}

type DispatchResult struct {
	Event     core.Event
	Attempts  []core.DeliveryAttempt
	Duplicate bool
	Enqueued  int
}

type TestResult struct {
	StatusCode int
	Latency    time.Duration
	Success    bool
	Error      string
}

// QueueStat is a point-in-time view of one endpoint queue.
type QueueStat struct {
	EndpointID  string
	Depth       int
	MaxInFlight int
}

// Throttle holds deliveries to endpoints that answered with rate limit
// signals. AfterDelivery returns the wait the endpoint asked for.
type Throttle interface {
	BeforeDelivery(ctx context.Context, endpointID string) error
	AfterDelivery(ctx context.Context, endpointID string, statusCode int, headers map[string]string) (time.Duration, error)
}

type Option func(*Dispatcher)

func WithTransport(adapter transport.Adapter) Option {
	return func(d *Dispatcher) {
		if adapter != nil {
			d.transport = adapter
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithThrottle(throttle Throttle) Option {
	return func(d *Dispatcher) {
		if throttle != nil {
			d.throttle = throttle
		}
	}
}

func WithBackoff(backoff Backoff) Option {
	return func(d *Dispatcher) {
		d.backoff = backoff
	}
}

type Dispatcher struct {
	cfg       core.DispatcherConfig
	events    core.EventStore
	endpoints core.EndpointStore
	attempts  core.DeliveryAttemptStore
	transport transport.Adapter
	backoff   Backoff
	health    healthTracker
	throttle  Throttle
	logger    core.Logger
	metrics   core.MetricsRecorder
	obs       core.Observer
	now       func() time.Time

	mu      sync.Mutex
	workers map[string]*endpointWorker
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(cfg core.DispatcherConfig, stores Stores, opts ...Option) (*Dispatcher, error) {
	if stores.Events == nil || stores.Endpoints == nil || stores.Attempts == nil {
		return nil, fmt.Errorf("webhooks: event, endpoint and attempt stores are required")
	}
	d := &Dispatcher{
		cfg:       cfg,
		events:    stores.Events,
		endpoints: stores.Endpoints,
		attempts:  stores.Attempts,
		backoff:   BackoffFromConfig(cfg),
		now:       func() time.Time { return time.Now().UTC() },
		workers:   make(map[string]*endpointWorker),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.transport == nil {
		adapter := transport.NewRESTAdapter(&http.Client{})
		if cfg.MaxResponseBodyBytes > 0 {
			adapter.MaxResponseBodyBytes = cfg.MaxResponseBodyBytes
		}
		d.transport = adapter
	}
	if d.throttle == nil {
		policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
		policy.Now = d.now
		d.throttle = policy
	}
	d.obs = core.NewObserver("eventhooks", d.logger, d.metrics)
	d.health = healthTracker{
		endpoints: d.endpoints,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.DisableCooldown,
		now:       d.now,
	}
	return d, nil
}

// Dispatch persists the event with one pending attempt per subscribed
// endpoint and queues the attempts. It does no network I/O. A duplicate
// event id returns the stored event with Duplicate set.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.Event) (result DispatchResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"tenant_id":  event.TenantID,
	}
	defer func() {
		fields["attempts"] = len(result.Attempts)
		fields["duplicate"] = result.Duplicate
		fields["enqueued"] = result.Enqueued
		d.obs.Observe(ctx, startedAt, "webhooks.dispatch", err, fields)
	}()

	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return DispatchResult{}, core.BadInputError("event id and type are required")
	}
	if strings.TrimSpace(event.TenantID) == "" {
		return DispatchResult{}, core.BadInputError("event tenant_id is required")
	}

	endpoints, err := d.subscribers(ctx, event)
	if err != nil {
		return DispatchResult{}, err
	}
	now := d.now()
	attempts := make([]core.DeliveryAttempt, 0, len(endpoints))
	for _, endpoint := range endpoints {
		attempts = append(attempts, core.DeliveryAttempt{
			EventID:       event.ID,
			EndpointID:    endpoint.ID,
			TenantID:      event.TenantID,
			AttemptNumber: 1,
			ChainStart:    1,
			Status:        core.AttemptStatusPending,
			CreatedAt:     now,
		})
	}

	appended, err := d.events.Append(ctx, event, attempts)
	if err != nil {
		return DispatchResult{}, err
	}
	result.Event = appended.Event
	if !appended.Created {
		result.Duplicate = true
		return result, nil
	}
	result.Attempts = appended.Attempts
	result.Enqueued = d.enqueueAll(ctx, endpoints, result.Attempts)
	return result, nil
}

// Refire opens a fresh attempt chain for every endpoint currently
// subscribed to a stored event. The event id is unchanged.
func (d *Dispatcher) Refire(ctx context.Context, eventID string) (result DispatchResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{"event_id": eventID}
	defer func() {
		fields["attempts"] = len(result.Attempts)
		d.obs.Observe(ctx, startedAt, "webhooks.refire", err, fields)
	}()

	event, err := d.events.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return DispatchResult{}, core.NotFoundError("event", eventID)
		}
		return DispatchResult{}, err
	}
	fields["tenant_id"] = event.TenantID
	endpoints, err := d.subscribers(ctx, event)
	if err != nil {
		return DispatchResult{}, err
	}

	now := d.now()
	attempts := make([]core.DeliveryAttempt, 0, len(endpoints))
	for _, endpoint := range endpoints {
		highest, err := d.highestAttemptNumber(ctx, event.ID, endpoint.ID)
		if err != nil {
			return DispatchResult{}, err
		}
		number := highest + 1
		attempts = append(attempts, core.DeliveryAttempt{
			EventID:       event.ID,
			EndpointID:    endpoint.ID,
			TenantID:      event.TenantID,
			AttemptNumber: number,
			ChainStart:    number,
			Status:        core.AttemptStatusPending,
			CreatedAt:     now,
		})
	}
	created, err := d.attempts.Create(ctx, attempts)
	if err != nil {
		return DispatchResult{}, err
	}
	result.Event = event
	result.Attempts = created
	result.Enqueued = d.enqueueAll(ctx, endpoints, created)
	return result, nil
}

// Test sends a signed webhook.test ping and waits for the response. The
// ping is not recorded as a delivery attempt and does not touch the
// endpoint health counters.
func (d *Dispatcher) Test(ctx context.Context, endpoint core.WebhookEndpoint) (TestResult, error) {
	if strings.TrimSpace(endpoint.URL) == "" {
		return TestResult{}, core.BadInputError("endpoint url is required")
	}
	now := d.now()
	payload, err := json.Marshal(map[string]any{
		"endpoint_id": endpoint.ID,
		"message":     "webhook test",
	})
	if err != nil {
		return TestResult{}, err
	}
	event := core.Event{
		ID:         core.NewEventID(now),
		Type:       core.EventTypeWebhookTest,
		TenantID:   endpoint.TenantID,
		Payload:    payload,
		OccurredAt: now,
		Source:     core.SourceInternal,
	}
	body, err := CanonicalBody(event)
	if err != nil {
		return TestResult{}, err
	}

	startedAt := time.Now()
	res, sendErr := d.transport.Do(ctx, d.request(endpoint, event, body, 0))
	result := TestResult{
		StatusCode: res.StatusCode,
		Latency:    res.Duration,
		Success:    sendErr == nil && res.Success(),
	}
	if result.Latency <= 0 {
		result.Latency = time.Since(startedAt)
	}
	switch {
	case sendErr != nil:
		result.Error = sendErr.Error()
	case !res.Success():
		result.Error = transport.StatusError(res).Error()
	}
	d.obs.Info(ctx, "webhook test ping sent", map[string]any{
		"endpoint_id": endpoint.ID,
		"tenant_id":   endpoint.TenantID,
		"status_code": result.StatusCode,
		"success":     result.Success,
		"latency_ms":  result.Latency.Milliseconds(),
	})
	return result, nil
}

// Start launches the endpoint workers, runs one recovery sweep and then
// keeps sweeping every recovery interval until ctx is cancelled or Stop
// is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.runCtx != nil {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.runCtx = runCtx
	d.cancel = cancel
	for _, worker := range d.workers {
		d.spawnLocked(worker)
	}
	d.mu.Unlock()

	if _, err := d.Recover(runCtx); err != nil {
		d.obs.Warn(runCtx, "initial delivery recovery sweep failed", map[string]any{"error": err.Error()})
	}
	d.wg.Add(1)
	go d.recoveryLoop(runCtx)
	return nil
}

// Stop cancels the workers and waits for them. In-flight requests end
// within the request timeout; their attempts stay pending.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.runCtx = nil
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

// Reconfigure applies an edited endpoint's concurrency cap to its queue, if
// one exists.
func (d *Dispatcher) Reconfigure(endpoint core.WebhookEndpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	worker, ok := d.workers[endpoint.ID]
	if !ok {
		return
	}
	worker.setLimit(d.cfg.MaxInFlightFor(endpoint))
	if d.runCtx != nil {
		d.spawnLocked(worker)
	}
}

func (d *Dispatcher) QueueStats() []QueueStat {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := make([]QueueStat, 0, len(d.workers))
	for id, worker := range d.workers {
		stats = append(stats, QueueStat{
			EndpointID:  id,
			Depth:       worker.queue.len(),
			MaxInFlight: worker.inFlightLimit(),
		})
	}
	return stats
}

func (d *Dispatcher) subscribers(ctx context.Context, event core.Event) ([]core.WebhookEndpoint, error) {
	endpoints, err := d.endpoints.ListByTenant(ctx, event.TenantID)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.Active && endpoint.Subscribes(event.Type) {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

func (d *Dispatcher) highestAttemptNumber(ctx context.Context, eventID string, endpointID string) (int, error) {
	page, err := d.attempts.List(ctx, core.DeliveryAttemptFilter{
		EventID:    eventID,
		EndpointID: endpointID,
		Page:       core.Page{Limit: refireScanLimit},
	})
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, attempt := range page.Items {
		if attempt.AttemptNumber > highest {
			highest = attempt.AttemptNumber
		}
	}
	return highest, nil
}

func (d *Dispatcher) enqueueAll(ctx context.Context, endpoints []core.WebhookEndpoint, attempts []core.DeliveryAttempt) int {
	byID := make(map[string]core.WebhookEndpoint, len(endpoints))
	for _, endpoint := range endpoints {
		byID[endpoint.ID] = endpoint
	}
	enqueued := 0
	for _, attempt := range attempts {
		endpoint, ok := byID[attempt.EndpointID]
		if !ok {
			continue
		}
		if d.enqueue(ctx, endpoint, attempt) {
			enqueued++
		}
	}
	return enqueued
}

// enqueue hands the attempt to its endpoint queue. A full queue leaves the
// attempt pending for the recovery sweep.
func (d *Dispatcher) enqueue(ctx context.Context, endpoint core.WebhookEndpoint, attempt core.DeliveryAttempt) bool {
	worker := d.worker(endpoint)
	if worker.queue.push(attempt) {
		return true
	}
	if worker.queue.tracks(attempt.ID) {
		return false
	}
	tags := map[string]string{"endpoint_id": endpoint.ID, "tenant_id": endpoint.TenantID}
	d.obs.Count(ctx, "webhooks.queue_full", 1, tags)
	d.obs.Warn(ctx, "endpoint queue full; attempt left for recovery", map[string]any{
		"endpoint_id": endpoint.ID,
		"attempt_id":  attempt.ID,
		"event_id":    attempt.EventID,
	})
	return false
}

func (d *Dispatcher) worker(endpoint core.WebhookEndpoint) *endpointWorker {
	d.mu.Lock()
	defer d.mu.Unlock()
	worker, ok := d.workers[endpoint.ID]
	if !ok {
		worker = newEndpointWorker(endpoint.ID, 1, d.cfg.QueueCapacity)
		d.workers[endpoint.ID] = worker
	}
	worker.setLimit(d.cfg.MaxInFlightFor(endpoint))
	if d.runCtx != nil {
		d.spawnLocked(worker)
	}
	return worker
}

func (d *Dispatcher) spawnLocked(worker *endpointWorker) {
	for range worker.grow() {
		d.wg.Add(1)
		go d.runWorker(d.runCtx, worker)
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, worker *endpointWorker) {
	defer d.wg.Done()
	retired := false
	defer func() {
		if !retired {
			worker.exited()
		}
	}()

	for {
		if worker.retire() {
			retired = true
			worker.queue.notify()
			return
		}
		attempt, ok := worker.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-worker.queue.signal:
			}
			continue
		}
		d.handle(ctx, worker, attempt)
		if ctx.Err() != nil {
			return
		}
	}
}

// handle waits for the attempt to become due, delivers it and, on a
// scheduled retry, puts the retry back at the head of the queue.
func (d *Dispatcher) handle(ctx context.Context, worker *endpointWorker, attempt core.DeliveryAttempt) {
	if !d.waitUntilDue(ctx, attempt) || !d.waitForThrottle(ctx, attempt.EndpointID) {
		worker.queue.release(attempt.ID)
		return
	}
	next, err := d.deliver(ctx, attempt)
	worker.queue.release(attempt.ID)
	if err != nil && ctx.Err() == nil {
		d.obs.Error(ctx, "webhook delivery could not be recorded", map[string]any{
			"attempt_id":  attempt.ID,
			"event_id":    attempt.EventID,
			"endpoint_id": attempt.EndpointID,
			"error":       err.Error(),
		})
	}
	if next != nil && ctx.Err() == nil {
		worker.queue.pushFront(*next)
	}
}

func (d *Dispatcher) waitUntilDue(ctx context.Context, attempt core.DeliveryAttempt) bool {
	if attempt.NextAttemptAt == nil {
		return ctx.Err() == nil
	}
	wait := attempt.NextAttemptAt.Sub(d.now())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// waitForThrottle blocks the endpoint worker while the receiver asked us to
// back off. Throttle store errors are logged and do not hold delivery.
func (d *Dispatcher) waitForThrottle(ctx context.Context, endpointID string) bool {
	for {
		err := d.throttle.BeforeDelivery(ctx, endpointID)
		if err == nil {
			return ctx.Err() == nil
		}
		var throttled ratelimit.ThrottledError
		if !errors.As(err, &throttled) {
			d.obs.Warn(ctx, "endpoint throttle check failed", map[string]any{
				"endpoint_id": endpointID,
				"error":       err.Error(),
			})
			return ctx.Err() == nil
		}
		d.obs.Count(ctx, "webhooks.attempt.throttled", 1, map[string]string{"endpoint_id": endpointID})
		timer := time.NewTimer(throttled.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// deliver performs one attempt and records its outcome. It returns the
// scheduled retry, if any. When ctx is cancelled mid-request nothing is
// written and the attempt stays pending.
func (d *Dispatcher) deliver(ctx context.Context, attempt core.DeliveryAttempt) (*core.DeliveryAttempt, error) {
	endpoint, err := d.endpoints.Get(ctx, attempt.EndpointID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, d.abandon(ctx, attempt, core.EndpointInactiveError(attempt.EndpointID))
		}
		return nil, err
	}
	if !endpoint.Active {
		return nil, d.abandon(ctx, attempt, core.EndpointInactiveError(endpoint.ID))
	}
	if endpoint.DisabledAt(d.now()) {
		d.obs.Count(ctx, "webhooks.attempt.short_circuit", 1, map[string]string{"endpoint_id": endpoint.ID})
		return d.fail(ctx, attempt, core.EndpointDisabledError(endpoint.ID), 0, *endpoint.DisabledUntil)
	}

	event, err := d.events.Get(ctx, attempt.EventID)
	if err != nil {
		return nil, err
	}
	body, err := CanonicalBody(event)
	if err != nil {
		return nil, d.abandon(ctx, attempt, core.UnsupportedPayloadError(event.Source, err.Error()))
	}

	startedAt := time.Now()
	res, sendErr := d.transport.Do(ctx, d.request(endpoint, event, body, attempt.AttemptNumber))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tags := map[string]string{"endpoint_id": endpoint.ID, "tenant_id": endpoint.TenantID}
	d.obs.Histogram(ctx, "webhooks.attempt.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	var throttleDelay time.Duration
	if sendErr == nil {
		throttleDelay, err = d.throttle.AfterDelivery(ctx, endpoint.ID, res.StatusCode, res.Headers)
		if err != nil {
			d.obs.Warn(ctx, "endpoint throttle update failed", map[string]any{
				"endpoint_id": endpoint.ID,
				"error":       err.Error(),
			})
		}
	}

	if sendErr == nil && res.Success() {
		d.obs.Count(ctx, "webhooks.attempt.success", 1, tags)
		_, err := d.resolve(ctx, attempt, core.AttemptOutcome{
			Status:      core.AttemptStatusSuccess,
			HTTPStatus:  res.StatusCode,
			AttemptedAt: d.now(),
		}, nil)
		if err != nil {
			return nil, err
		}
		if err := d.health.recordSuccess(ctx, endpoint.ID); err != nil {
			d.obs.Warn(ctx, "endpoint health reset failed", map[string]any{
				"endpoint_id": endpoint.ID,
				"error":       err.Error(),
			})
		}
		return nil, nil
	}

	d.obs.Count(ctx, "webhooks.attempt.failure", 1, tags)
	failure := deliveryFailure(endpoint.ID, res, sendErr)
	var notBefore time.Time
	disabledUntil, disabledNow, err := d.health.recordFailure(ctx, endpoint.ID)
	if err != nil {
		d.obs.Warn(ctx, "endpoint failure counter update failed", map[string]any{
			"endpoint_id": endpoint.ID,
			"error":       err.Error(),
		})
	}
	if disabledUntil != nil {
		notBefore = *disabledUntil
	}
	if throttleDelay > 0 {
		if until := d.now().Add(throttleDelay); until.After(notBefore) {
			notBefore = until
		}
	}
	if disabledNow {
		d.obs.Count(ctx, "webhooks.endpoint.disabled", 1, tags)
		d.obs.Warn(ctx, "endpoint disabled after consecutive failures", map[string]any{
			"endpoint_id":    endpoint.ID,
			"tenant_id":      endpoint.TenantID,
			"disabled_until": notBefore,
		})
	}
	return d.fail(ctx, attempt, failure, res.StatusCode, notBefore)
}

func (d *Dispatcher) request(endpoint core.WebhookEndpoint, event core.Event, body []byte, attemptNumber int) transport.Request {
	headers := deliveryHeaders(event, attemptNumber, Sign(endpoint.Secret, body))
	if agent := strings.TrimSpace(d.cfg.UserAgent); agent != "" {
		headers["User-Agent"] = agent
	}
	return transport.Request{
		Method:               http.MethodPost,
		URL:                  endpoint.URL,
		Headers:              headers,
		Body:                 body,
		Timeout:              d.cfg.RequestTimeout,
		MaxResponseBodyBytes: d.cfg.MaxResponseBodyBytes,
	}
}

func deliveryFailure(endpointID string, res transport.Response, sendErr error) *goerrors.Error {
	if sendErr != nil {
		if core.IsKind(sendErr, core.ErrorDeliveryTimeout) {
			return core.DeliveryTimeoutError(endpointID, sendErr)
		}
		return core.DeliveryHTTPError(endpointID, 0, sendErr)
	}
	return core.DeliveryHTTPError(endpointID, res.StatusCode, transport.StatusError(res))
}

// fail records a failed attempt and schedules the next one of the chain,
// or abandons the chain once it reached max attempts.
func (d *Dispatcher) fail(
	ctx context.Context,
	attempt core.DeliveryAttempt,
	failure *goerrors.Error,
	httpStatus int,
	notBefore time.Time,
) (*core.DeliveryAttempt, error) {
	now := d.now()
	position := attempt.ChainPosition()
	outcome := core.AttemptOutcome{
		Status:      core.AttemptStatusFailed,
		HTTPStatus:  httpStatus,
		Error:       failure.Error(),
		ErrorCode:   failure.TextCode,
		AttemptedAt: now,
	}

	maxAttempts := d.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if position >= maxAttempts {
		exhausted := core.RetryExhaustedError(attempt.EndpointID, position)
		outcome.Status = core.AttemptStatusAbandoned
		outcome.ErrorCode = exhausted.TextCode
		outcome.Error = exhausted.Error() + ": " + failure.Error()
		d.obs.Warn(ctx, "webhook delivery abandoned", map[string]any{
			"attempt_id":  attempt.ID,
			"event_id":    attempt.EventID,
			"endpoint_id": attempt.EndpointID,
			"attempt":     attempt.AttemptNumber,
			"error_code":  failure.TextCode,
		})
		_, err := d.resolve(ctx, attempt, outcome, nil)
		return nil, err
	}

	nextAt := now.Add(d.backoff.Delay(position))
	if notBefore.After(nextAt) {
		nextAt = notBefore
	}
	return d.resolve(ctx, attempt, outcome, &core.DeliveryAttempt{
		EventID:       attempt.EventID,
		EndpointID:    attempt.EndpointID,
		TenantID:      attempt.TenantID,
		AttemptNumber: attempt.AttemptNumber + 1,
		ChainStart:    attempt.ChainStart,
		Status:        core.AttemptStatusPending,
		NextAttemptAt: &nextAt,
		CreatedAt:     now,
	})
}

func (d *Dispatcher) abandon(ctx context.Context, attempt core.DeliveryAttempt, reason *goerrors.Error) error {
	_, err := d.resolve(ctx, attempt, core.AttemptOutcome{
		Status:      core.AttemptStatusAbandoned,
		Error:       reason.Error(),
		ErrorCode:   reason.TextCode,
		AttemptedAt: d.now(),
	}, nil)
	return err
}

// resolve treats an attempt already resolved elsewhere as done.
func (d *Dispatcher) resolve(
	ctx context.Context,
	attempt core.DeliveryAttempt,
	outcome core.AttemptOutcome,
	next *core.DeliveryAttempt,
) (*core.DeliveryAttempt, error) {
	scheduled, err := d.attempts.Resolve(ctx, attempt.ID, outcome, next)
	if errors.Is(err, core.ErrAttemptNotPending) {
		d.obs.Debug(ctx, "delivery attempt already resolved", map[string]any{
			"attempt_id": attempt.ID,
			"event_id":   attempt.EventID,
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return scheduled, nil
}
