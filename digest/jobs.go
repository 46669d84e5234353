package digest

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

// HandleJob processes one queued user digest.
func (s *Scheduler) HandleJob(ctx context.Context, msg *core.JobExecutionMessage) error {
	job, err := ParseJobMessage(msg)
	if err != nil {
		return err
	}
	_, err = s.ProcessUser(ctx, job, s.now())
	return err
}

// ConsumeJobs pulls digest jobs until ctx is cancelled. Failed jobs are
// requeued after one tick interval; malformed ones are dead-lettered.
func (s *Scheduler) ConsumeJobs(ctx context.Context, dequeuer core.JobDequeuer, hook core.JobWorkerHook) error {
	if dequeuer == nil {
		return core.BadInputError("digest: job dequeuer is required")
	}
	attempts := map[string]int{}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.obs.Warn(ctx, "digest job dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		msg := delivery.Message()
		key := ""
		if msg != nil {
			key = msg.IdempotencyKey
		}
		attempts[key]++
		event := core.JobWorkerEvent{Message: msg, Attempt: attempts[key], StartedAt: time.Now()}
		if hook != nil {
			hook.OnStart(ctx, event)
		}

		err = s.HandleJob(ctx, msg)
		event.Duration = time.Since(event.StartedAt)
		event.Err = err
		switch {
		case err == nil:
			delete(attempts, key)
			if hook != nil {
				hook.OnSuccess(ctx, event)
			}
			if ackErr := delivery.Ack(ctx); ackErr != nil {
				s.obs.Warn(ctx, "digest job ack failed", map[string]any{"error": ackErr.Error()})
			}
		case core.IsKind(err, core.ErrorBadInput):
			delete(attempts, key)
			if hook != nil {
				hook.OnFailure(ctx, event)
			}
			_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			_ = delivery.Nack(context.WithoutCancel(ctx), core.JobNackOptions{Requeue: true, Reason: "shutdown"})
			return nil
		default:
			event.Delay = s.cfg.TickInterval
			if hook != nil {
				hook.OnRetry(ctx, event)
			}
			_ = delivery.Nack(ctx, core.JobNackOptions{Delay: s.cfg.TickInterval, Requeue: true, Reason: err.Error()})
		}
	}
}
