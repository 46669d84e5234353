package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/notify"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	CoordinatorLockKey = "eventhooks:digest:coordinator"

	JobIDDigestUser = "eventhooks.digest.user"
)

// Stores groups the persistence the scheduler depends on.
type Stores struct {
	Notifications core.NotificationStore
	Digests       core.DigestStore
}

// Notifier is the part of the notification service the scheduler uses.
type Notifier interface {
	DeliverDue(ctx context.Context, now time.Time) (int, error)
	ResolveDigest(ctx context.Context, userID string, mode core.DeliveryMode) (notify.Resolution, error)
	Lookup(ctx context.Context, userID string) core.Recipient
	SenderFor(channel core.Channel, to core.Recipient) (core.NotificationSender, core.Channel)
}

// UserJob is one user's digest for one window.
type UserJob struct {
	UserID  string
	Period  core.DigestPeriod
	Window  Window
	Channel core.Channel
}

type TickResult struct {
	Skipped      bool
	DueDelivered int
	Jobs         int
	Sent         int
	Empty        int
	Failed       int
}

type Option func(*Scheduler)

func WithLocker(locker core.Locker) Option {
	return func(s *Scheduler) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithJobEnqueuer hands per-user work to a job queue instead of the
// in-process worker pool.
func WithJobEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(s *Scheduler) {
		s.enqueuer = enqueuer
	}
}

func WithRenderer(renderer *Renderer) Option {
	return func(s *Scheduler) {
		if renderer != nil {
			s.renderer = renderer
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

type Scheduler struct {
	cfg           core.DigestConfig
	notifications core.NotificationStore
	digests       core.DigestStore
	notifier      Notifier
	locker        core.Locker
	enqueuer      core.JobEnqueuer
	renderer      *Renderer
	logger        core.Logger
	metrics       core.MetricsRecorder
	obs           core.Observer
	now           func() time.Time
}

func NewScheduler(cfg core.DigestConfig, stores Stores, notifier Notifier, opts ...Option) (*Scheduler, error) {
	if stores.Notifications == nil || stores.Digests == nil {
		return nil, fmt.Errorf("digest: notification and digest stores are required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("digest: notifier is required")
	}
	s := &Scheduler{
		cfg:           cfg,
		notifications: stores.Notifications,
		digests:       stores.Digests,
		notifier:      notifier,
		locker:        core.NewMemoryLocker(),
		renderer:      NewRenderer(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.cfg.TickInterval <= 0 || s.cfg.TickInterval > time.Minute {
		s.cfg.TickInterval = time.Minute
	}
	if s.cfg.Workers <= 0 {
		s.cfg.Workers = 1
	}
	if s.cfg.LockTTL <= 0 {
		s.cfg.LockTTL = 5 * time.Minute
	}
	s.obs = core.NewObserver("eventhooks", s.logger, s.metrics)
	return s, nil
}

// Run ticks every TickInterval until ctx is cancelled. A tick that is still
// running when the next one fires is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Disabled {
		<-ctx.Done()
		return nil
	}
	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	schedule := "@every " + s.cfg.TickInterval.String()
	if _, err := runner.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Tick(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.obs.Error(ctx, "digest tick failed", map[string]any{"error": err.Error()})
		}
	}); err != nil {
		return fmt.Errorf("digest: schedule %q: %w", schedule, err)
	}

	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
	return nil
}

// Tick runs one coordinator pass: deliver due deferred notifications, then
// build and send every daily and weekly digest whose boundary has passed.
// Only the holder of the coordinator lock does any work.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (result TickResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{"tick_at": now}
	defer func() {
		fields["jobs"] = result.Jobs
		fields["sent"] = result.Sent
		fields["skipped"] = result.Skipped
		s.obs.Observe(ctx, startedAt, "digest.tick", err, fields)
	}()

	handle, err := s.locker.Acquire(ctx, CoordinatorLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, core.ErrLockHeld) {
			result.Skipped = true
			return result, nil
		}
		return result, err
	}
	defer func() {
		if unlockErr := handle.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			s.obs.Warn(ctx, "digest coordinator unlock failed", map[string]any{"error": unlockErr.Error()})
		}
	}()

	delivered, dueErr := s.notifier.DeliverDue(ctx, now)
	result.DueDelivered = delivered
	if dueErr != nil && ctx.Err() == nil {
		s.obs.Warn(ctx, "deliver due notifications failed", map[string]any{"error": dueErr.Error()})
	}

	jobs, err := s.plan(ctx, now)
	if err != nil {
		return result, err
	}
	result.Jobs = len(jobs)
	if len(jobs) == 0 {
		return result, nil
	}

	if s.enqueuer != nil {
		return result, s.enqueue(ctx, jobs)
	}
	sent, empty, failed, err := s.fanOut(ctx, jobs, now)
	result.Sent, result.Empty, result.Failed = sent, empty, failed
	return result, err
}

// plan lists the users of each period whose current boundary has no sent
// batch yet.
func (s *Scheduler) plan(ctx context.Context, now time.Time) ([]UserJob, error) {
	jobs := []UserJob{}
	for _, period := range []core.DigestPeriod{core.DigestPeriodDaily, core.DigestPeriodWeekly} {
		users, err := s.notifications.ListDigestUsers(ctx, period.Mode())
		if err != nil {
			return nil, err
		}
		for _, userID := range users {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			job, due, err := s.planUser(ctx, userID, period, now)
			if err != nil {
				s.obs.Warn(ctx, "digest planning failed", map[string]any{
					"user_id": userID,
					"period":  string(period),
					"error":   err.Error(),
				})
				continue
			}
			if due {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, nil
}

func (s *Scheduler) planUser(ctx context.Context, userID string, period core.DigestPeriod, now time.Time) (UserJob, bool, error) {
	resolution, err := s.notifier.ResolveDigest(ctx, userID, period.Mode())
	if err != nil {
		return UserJob{}, false, err
	}
	boundary := LastBoundary(now, period, Schedule{
		Location: resolution.Location,
		Hour:     resolution.DigestHour,
		Weekday:  resolution.DigestWeekday,
	})
	last, err := s.digests.LastSent(ctx, userID, period)
	if err != nil {
		return UserJob{}, false, err
	}
	if !Due(boundary, last) {
		return UserJob{}, false, nil
	}
	return UserJob{
		UserID:  userID,
		Period:  period,
		Window:  WindowFor(boundary, period, last),
		Channel: resolution.Channel,
	}, true, nil
}

func (s *Scheduler) fanOut(ctx context.Context, jobs []UserJob, now time.Time) (sent, empty, failed int, err error) {
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Workers)
	for _, job := range jobs {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			delivered, processErr := s.ProcessUser(groupCtx, job, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case processErr != nil:
				failed++
			case delivered:
				sent++
			default:
				empty++
			}
			// failed users are retried on the next tick
			if processErr != nil && errors.Is(processErr, context.Canceled) {
				return processErr
			}
			return nil
		})
	}
	err = group.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return sent, empty, failed, err
}

// ProcessUser builds and sends one user's digest. It is safe to run again for
// the same job: the batch is unique per (user, period, window end), already
// tagged notifications are skipped and a sent batch is left alone. It returns
// false when there was nothing to send.
func (s *Scheduler) ProcessUser(ctx context.Context, job UserJob, now time.Time) (delivered bool, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"user_id":      job.UserID,
		"period":       string(job.Period),
		"window_start": job.Window.Start,
		"window_end":   job.Window.End,
	}
	defer func() {
		fields["delivered"] = delivered
		s.obs.Observe(ctx, startedAt, "digest.user", err, fields)
	}()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	candidates, err := s.notifications.ListDigestCandidates(ctx, job.UserID, job.Period.Mode(), job.Window.End)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	batch, err := s.digests.FindOrOpen(ctx, job.UserID, job.Period, job.Window.Start, job.Window.End)
	if err != nil {
		return false, err
	}
	fields["batch_id"] = batch.ID
	if batch.SentAt != nil {
		return false, nil
	}

	recipient := s.notifier.Lookup(ctx, job.UserID)
	msg, err := s.renderer.Render(recipient, job.Period, job.Window, candidates)
	if err != nil {
		return false, err
	}
	sender, channel := s.notifier.SenderFor(job.Channel, recipient)
	fields["channel"] = string(channel)
	fields["notifications"] = len(candidates)

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := sender.Send(ctx, msg); err != nil {
		return false, fmt.Errorf("digest: send %s digest to %s: %w", job.Period, job.UserID, err)
	}

	ids := make([]string, 0, len(candidates))
	for _, notification := range candidates {
		ids = append(ids, notification.ID)
	}
	if err := s.digests.Close(context.WithoutCancel(ctx), batch.ID, ids, now); err != nil {
		return false, err
	}
	s.obs.Count(ctx, "digest.sent", 1, map[string]string{"period": string(job.Period), "channel": string(channel)})
	return true, nil
}

func (s *Scheduler) enqueue(ctx context.Context, jobs []UserJob) error {
	var failures []error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enqueuer.Enqueue(ctx, JobMessage(job)); err != nil {
			failures = append(failures, fmt.Errorf("enqueue digest for %s: %w", job.UserID, err))
		}
	}
	return errors.Join(failures...)
}

// JobMessage encodes a user job for the job queue. The idempotency key is the
// batch identity so duplicate enqueues collapse.
func JobMessage(job UserJob) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDDigestUser,
		ScriptPath: JobIDDigestUser,
		Parameters: map[string]any{
			"user_id":      job.UserID,
			"period":       string(job.Period),
			"channel":      string(job.Channel),
			"window_start": job.Window.Start.UTC().Format(time.RFC3339),
			"window_end":   job.Window.End.UTC().Format(time.RFC3339),
		},
		IdempotencyKey: strings.Join([]string{
			JobIDDigestUser,
			job.UserID,
			string(job.Period),
			job.Window.End.UTC().Format(time.RFC3339),
		}, "|"),
		DedupPolicy: "drop",
	}
}

// ParseJobMessage decodes a message built by JobMessage.
func ParseJobMessage(msg *core.JobExecutionMessage) (UserJob, error) {
	if msg == nil || msg.JobID != JobIDDigestUser {
		return UserJob{}, core.BadInputError("digest: unexpected job message")
	}
	text := func(key string) string {
		value, _ := msg.Parameters[key].(string)
		return strings.TrimSpace(value)
	}
	job := UserJob{
		UserID:  text("user_id"),
		Period:  core.DigestPeriod(text("period")),
		Channel: core.Channel(text("channel")),
	}
	if job.UserID == "" {
		return UserJob{}, core.BadInputError("digest: job user_id is required")
	}
	if job.Period != core.DigestPeriodDaily && job.Period != core.DigestPeriodWeekly {
		return UserJob{}, core.BadInputError(fmt.Sprintf("digest: job period %q is invalid", job.Period))
	}
	start, err := time.Parse(time.RFC3339, text("window_start"))
	if err != nil {
		return UserJob{}, core.BadInputError("digest: job window_start is invalid")
	}
	end, err := time.Parse(time.RFC3339, text("window_end"))
	if err != nil {
		return UserJob{}, core.BadInputError("digest: job window_end is invalid")
	}
	job.Window = Window{Start: start.UTC(), End: end.UTC()}
	return job, nil
}
