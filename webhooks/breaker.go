package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

const maxHealthCASRetries = 5

// healthTracker maintains the per-endpoint circuit breaker columns with
// optimistic concurrency so several workers (or nodes) can report
// outcomes for the same endpoint.
type healthTracker struct {
	endpoints core.EndpointStore
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// recordSuccess clears the failure counter and any disable window.
func (h healthTracker) recordSuccess(ctx context.Context, endpointID string) error {
	for range maxHealthCASRetries {
		endpoint, err := h.endpoints.Get(ctx, endpointID)
		if err != nil {
			return err
		}
		if endpoint.ConsecutiveFailures == 0 && endpoint.DisabledUntil == nil {
			return nil
		}
		swapped, err := h.endpoints.CompareAndSwapHealth(ctx, endpoint.ID, endpoint.Version, 0, nil)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("webhooks: reset health for endpoint %s: %w", endpointID, core.ErrVersionConflict)
}

// recordFailure increments the failure counter. Crossing the threshold
// opens a disable window of cooldown length; the counter is kept so the
// first failure after the window closes disables the endpoint again. It
// returns the stored disable deadline and whether this call set it.
func (h healthTracker) recordFailure(ctx context.Context, endpointID string) (*time.Time, bool, error) {
	threshold := h.threshold
	if threshold < 1 {
		threshold = 1
	}
	for range maxHealthCASRetries {
		endpoint, err := h.endpoints.Get(ctx, endpointID)
		if err != nil {
			return nil, false, err
		}
		now := h.now()
		failures := endpoint.ConsecutiveFailures + 1
		disabledUntil := endpoint.DisabledUntil
		disabled := false
		if failures >= threshold && !endpoint.DisabledAt(now) {
			until := now.Add(h.cooldown)
			disabledUntil = &until
			disabled = true
		}
		swapped, err := h.endpoints.CompareAndSwapHealth(ctx, endpoint.ID, endpoint.Version, failures, disabledUntil)
		if err != nil {
			return nil, false, err
		}
		if swapped {
			return disabledUntil, disabled, nil
		}
	}
	return nil, false, fmt.Errorf("webhooks: record failure for endpoint %s: %w", endpointID, core.ErrVersionConflict)
}
