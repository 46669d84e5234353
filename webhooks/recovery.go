package webhooks

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := d.cfg.RecoveryInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Recover(ctx); err != nil && ctx.Err() == nil {
				d.obs.Warn(ctx, "delivery recovery sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Recover re-queues pending attempts older than the stale threshold that
// no worker holds. Within an endpoint, retries go first so a chain keeps
// its head-of-line position after a restart; the rest follow creation
// order. It returns the number of attempts queued.
func (d *Dispatcher) Recover(ctx context.Context) (queued int, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		fields["queued"] = queued
		d.obs.Observe(ctx, startedAt, "webhooks.recover", err, fields)
	}()

	staleAfter := d.cfg.RecoveryStaleAfter
	if staleAfter < 0 {
		staleAfter = 0
	}
	pending, err := d.attempts.ListPending(ctx, d.now().Add(-staleAfter), d.cfg.RecoveryBatchSize)
	if err != nil {
		return 0, err
	}
	fields["pending"] = len(pending)

	order := make([]string, 0)
	grouped := make(map[string][]core.DeliveryAttempt)
	for _, attempt := range pending {
		if _, ok := grouped[attempt.EndpointID]; !ok {
			order = append(order, attempt.EndpointID)
		}
		grouped[attempt.EndpointID] = append(grouped[attempt.EndpointID], attempt)
	}

	for _, endpointID := range order {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		attempts := grouped[endpointID]
		endpoint, err := d.endpoints.Get(ctx, endpointID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return queued, err
		}
		if err != nil || !endpoint.Active {
			for _, attempt := range attempts {
				if err := d.abandon(ctx, attempt, core.EndpointInactiveError(endpointID)); err != nil {
					return queued, err
				}
			}
			continue
		}

		sort.SliceStable(attempts, func(i, j int) bool {
			return attempts[i].ChainPosition() > 1 && attempts[j].ChainPosition() == 1
		})
		for _, attempt := range attempts {
			if d.enqueue(ctx, endpoint, attempt) {
				queued++
			}
		}
	}
	return queued, nil
}
