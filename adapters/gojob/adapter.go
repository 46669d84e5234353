// Package gojob carries digest jobs over a go-job queue and reports their
// outcomes through the eventhooks observer.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-eventhooks/core"
)

// RetryPolicy bounds how often a failed digest job goes back on the queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		MaxDelay:        time.Hour,
		DeadLetterOnMax: true,
	}
}

// Apply clamps a nack for the given 1-based attempt. A nack that neither
// requeues nor dead-letters is turned into a requeue.
func (p RetryPolicy) Apply(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
		return out
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
		if !out.DeadLetter {
			out.Reason = strings.TrimSpace(out.Reason + " (dropped after max attempts)")
		}
		return out
	}
	out.Requeue = true
	return out
}

// attemptCounter is implemented by deliveries that carry their own attempt
// number, such as store/redis.JobQueue.
type attemptCounter interface {
	Attempt() int
}

// Queue implements core.JobEnqueuer and core.JobDequeuer on top of a go-job
// queue. Either side may be nil when a process only produces or consumes.
type Queue struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
	policy   RetryPolicy

	mu       sync.Mutex
	attempts map[string]int
}

func NewQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy RetryPolicy) (*Queue, error) {
	if enqueuer == nil && dequeuer == nil {
		return nil, core.BadInputError("gojob: an enqueuer or a dequeuer is required")
	}
	return &Queue{
		enqueuer: enqueuer,
		dequeuer: dequeuer,
		policy:   policy,
		attempts: map[string]int{},
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return core.BadInputError("gojob: job message with a job id is required")
	}
	return q.enqueuer.Enqueue(ctx, toJobMessage(msg))
}

// Dequeue returns (nil, nil) when the underlying queue had nothing ready.
func (q *Queue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	inner, err := q.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if inner == nil {
		return nil, nil
	}
	return &delivery{queue: q, inner: inner, msg: fromJobMessage(inner.Message())}, nil
}

func (q *Queue) nextAttempt(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[key]++
	return q.attempts[key]
}

func (q *Queue) forget(key string) {
	q.mu.Lock()
	delete(q.attempts, key)
	q.mu.Unlock()
}

type delivery struct {
	queue *Queue
	inner queue.Delivery
	msg   *core.JobExecutionMessage
}

func (d *delivery) Message() *core.JobExecutionMessage {
	return d.msg
}

func (d *delivery) Ack(ctx context.Context) error {
	d.queue.forget(d.key())
	return d.inner.Ack(ctx)
}

func (d *delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	var attempt int
	if counter, ok := d.inner.(attemptCounter); ok {
		attempt = counter.Attempt()
	} else {
		attempt = d.queue.nextAttempt(d.key())
	}
	applied := d.queue.policy.Apply(opts, attempt)
	if !applied.Requeue {
		d.queue.forget(d.key())
	}
	return d.inner.Nack(ctx, queue.NackOptions{
		Delay:      applied.Delay,
		Requeue:    applied.Requeue,
		DeadLetter: applied.DeadLetter,
		Reason:     applied.Reason,
	})
}

func (d *delivery) key() string {
	if d.msg == nil {
		return ""
	}
	if d.msg.IdempotencyKey != "" {
		return d.msg.IdempotencyKey
	}
	return d.msg.JobID
}

func toJobMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromJobMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func cloneParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*Queue)(nil)
	_ core.JobDequeuer = (*Queue)(nil)
	_ core.JobDelivery = (*delivery)(nil)
)
