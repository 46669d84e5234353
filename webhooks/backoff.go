package webhooks

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

// Backoff computes the delay before retrying after the k-th failed attempt
// of a chain: Base * Factor^(k-1), capped at Max, then spread by ±Jitter and
// clamped to Max again.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64
	Rand   func() float64
}

func BackoffFromConfig(cfg core.DispatcherConfig) Backoff {
	return Backoff{
		Base:   cfg.BackoffBase,
		Factor: cfg.BackoffFactor,
		Max:    cfg.BackoffMax,
		Jitter: cfg.BackoffJitter,
	}
}

func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = time.Hour
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(base) * math.Pow(factor, float64(attempt-1))
	if delay > float64(maximum) || math.IsInf(delay, 1) {
		delay = float64(maximum)
	}
	if b.Jitter > 0 {
		random := b.Rand
		if random == nil {
			random = rand.Float64
		}
		delay += delay * b.Jitter * (2*random() - 1)
	}
	if delay > float64(maximum) {
		delay = float64(maximum)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
