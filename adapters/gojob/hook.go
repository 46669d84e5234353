package gojob

import (
	"context"

	"github.com/goliatone/go-eventhooks/core"
)

// ObservingHook logs digest job outcomes and counts them as
// digest.job.* metrics tagged with the digest period.
type ObservingHook struct {
	obs core.Observer
}

func NewObservingHook(logger core.Logger, metrics core.MetricsRecorder) *ObservingHook {
	return &ObservingHook{obs: core.NewObserver("eventhooks", logger, metrics)}
}

func (h *ObservingHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.obs.Debug(ctx, "digest job started", jobFields(event))
}

func (h *ObservingHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.obs.Observe(ctx, event.StartedAt, "digest.job", nil, jobFields(event))
}

func (h *ObservingHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.obs.Observe(ctx, event.StartedAt, "digest.job", event.Err, jobFields(event))
}

func (h *ObservingHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	fields := jobFields(event)
	fields["delay_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.obs.Warn(ctx, "digest job will be retried", fields)
	h.obs.Count(ctx, "digest.job.retry", 1, map[string]string{"period": stringParam(event.Message, "period")})
}

func jobFields(event core.JobWorkerEvent) map[string]any {
	fields := map[string]any{"attempt": event.Attempt}
	if event.Message == nil {
		return fields
	}
	fields["job_id"] = event.Message.JobID
	fields["idempotency_key"] = event.Message.IdempotencyKey
	if userID := stringParam(event.Message, "user_id"); userID != "" {
		fields["user_id"] = userID
	}
	if period := stringParam(event.Message, "period"); period != "" {
		fields["period"] = period
	}
	return fields
}

func stringParam(msg *core.JobExecutionMessage, key string) string {
	if msg == nil {
		return ""
	}
	value, _ := msg.Parameters[key].(string)
	return value
}

var _ core.JobWorkerHook = (*ObservingHook)(nil)
