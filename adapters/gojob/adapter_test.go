package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/digest"
)

func TestQueueCarriesDigestJobThroughGoJob(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	q, err := NewQueue(backend, backend, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	userJob := digest.UserJob{
		UserID:  "user_1",
		Period:  core.DigestPeriodDaily,
		Channel: core.ChannelEmail,
		Window: digest.Window{
			Start: time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		},
	}
	if err := q.Enqueue(ctx, digest.JobMessage(userJob)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := backend.queued[0]; got.JobID != digest.JobIDDigestUser || got.DedupPolicy != job.DeduplicationPolicy("drop") {
		t.Fatalf("unexpected go-job message %+v", got)
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	parsed, err := digest.ParseJobMessage(delivery.Message())
	if err != nil {
		t.Fatalf("parse dequeued job: %v", err)
	}
	if parsed.UserID != "user_1" || parsed.Period != core.DigestPeriodDaily || !parsed.Window.End.Equal(userJob.Window.End) {
		t.Fatalf("unexpected parsed job %+v", parsed)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if backend.acked != 1 {
		t.Fatalf("expected underlying ack, got %d", backend.acked)
	}
}

func TestQueueDequeueEmpty(t *testing.T) {
	q, err := NewQueue(nil, &memoryBackend{}, RetryPolicy{})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	delivery, err := q.Dequeue(context.Background())
	if err != nil || delivery != nil {
		t.Fatalf("expected empty dequeue, got %v %v", delivery, err)
	}
	if err := q.Enqueue(context.Background(), &core.JobExecutionMessage{JobID: "x"}); err == nil {
		t.Fatalf("expected consume-only queue to reject enqueue")
	}
	if _, err := NewQueue(nil, nil, RetryPolicy{}); err == nil {
		t.Fatalf("expected error without enqueuer and dequeuer")
	}
}

func TestRetryPolicyApply(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}
	cases := []struct {
		name       string
		opts       core.JobNackOptions
		attempt    int
		requeue    bool
		deadLetter bool
		delay      time.Duration
	}{
		{"delay clamped", core.JobNackOptions{Delay: time.Minute, Requeue: true}, 1, true, false, 10 * time.Second},
		{"plain nack requeues", core.JobNackOptions{}, 1, true, false, 0},
		{"max attempts dead letters", core.JobNackOptions{Requeue: true}, 3, false, true, 0},
		{"explicit dead letter wins", core.JobNackOptions{Requeue: true, DeadLetter: true}, 1, false, true, 0},
		{"negative delay", core.JobNackOptions{Delay: -time.Second, Requeue: true}, 2, true, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Apply(tc.opts, tc.attempt)
			if got.Requeue != tc.requeue || got.DeadLetter != tc.deadLetter || got.Delay != tc.delay {
				t.Fatalf("unexpected nack %+v", got)
			}
		})
	}

	dropping := RetryPolicy{MaxAttempts: 1}
	if got := dropping.Apply(core.JobNackOptions{Requeue: true}, 1); got.Requeue || got.DeadLetter {
		t.Fatalf("expected drop without dead letter, got %+v", got)
	}
}

func TestDeliveryNackCountsAttemptsPerJob(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	q, _ := NewQueue(backend, backend, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true})
	msg := &core.JobExecutionMessage{JobID: digest.JobIDDigestUser, IdempotencyKey: "user_1|daily"}

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, msg); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		delivery, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if err := delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Reason: "smtp down"}); err != nil {
			t.Fatalf("nack: %v", err)
		}
	}
	if len(backend.nacks) != 2 {
		t.Fatalf("expected two nacks, got %d", len(backend.nacks))
	}
	if !backend.nacks[0].Requeue || backend.nacks[1].Requeue || !backend.nacks[1].DeadLetter {
		t.Fatalf("expected requeue then dead letter, got %+v", backend.nacks)
	}
}

func TestDeliveryNackPrefersQueueAttempt(t *testing.T) {
	ctx := context.Background()
	inner := &countedDelivery{attempt: 5, msg: &job.ExecutionMessage{JobID: digest.JobIDDigestUser}}
	q, _ := NewQueue(nil, &fixedDequeuer{delivery: inner}, RetryPolicy{MaxAttempts: 5, DeadLetterOnMax: true})
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, core.JobNackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if !inner.nack.DeadLetter {
		t.Fatalf("expected dead letter from delivery attempt count, got %+v", inner.nack)
	}
}

func TestObservingHookCountsOutcomes(t *testing.T) {
	metrics := &recordingMetrics{}
	hook := NewObservingHook(nil, metrics)
	event := core.JobWorkerEvent{
		Message: &core.JobExecutionMessage{
			JobID:      digest.JobIDDigestUser,
			Parameters: map[string]any{"user_id": "user_1", "period": "weekly"},
		},
		Attempt:   1,
		StartedAt: time.Now(),
	}
	hook.OnStart(context.Background(), event)
	hook.OnSuccess(context.Background(), event)
	event.Err = errors.New("boom")
	hook.OnFailure(context.Background(), event)
	hook.OnRetry(context.Background(), event)

	if metrics.counters["eventhooks.digest.job.total"] != 2 {
		t.Fatalf("expected two digest.job totals, got %v", metrics.counters)
	}
	if metrics.counters["eventhooks.digest.job.retry"] != 1 {
		t.Fatalf("expected one retry count, got %v", metrics.counters)
	}
	if metrics.lastTags["period"] != "weekly" {
		t.Fatalf("expected period tag, got %v", metrics.lastTags)
	}
}

type memoryBackend struct {
	queued []*job.ExecutionMessage
	acked  int
	nacks  []queue.NackOptions
}

func (b *memoryBackend) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	b.queued = append(b.queued, msg)
	return nil
}

func (b *memoryBackend) Dequeue(context.Context) (queue.Delivery, error) {
	if len(b.queued) == 0 {
		return nil, nil
	}
	msg := b.queued[0]
	b.queued = b.queued[1:]
	return &memoryDelivery{backend: b, msg: msg}, nil
}

type memoryDelivery struct {
	backend *memoryBackend
	msg     *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *memoryDelivery) Ack(context.Context) error {
	d.backend.acked++
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.backend.nacks = append(d.backend.nacks, opts)
	return nil
}

type fixedDequeuer struct {
	delivery queue.Delivery
}

func (d *fixedDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return d.delivery, nil
}

type countedDelivery struct {
	attempt int
	msg     *job.ExecutionMessage
	nack    queue.NackOptions
}

func (d *countedDelivery) Attempt() int { return d.attempt }

func (d *countedDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *countedDelivery) Ack(context.Context) error { return nil }

func (d *countedDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.nack = opts
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	lastTags map[string]string
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
	m.lastTags = tags
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}
