package engine

import (
	"context"
	"math"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
)

// backoff is capped exponential: min(initial * 2^(attempt-1), max), where
// attempt is the 1-indexed attempt that just failed.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

func newBackoff(config domain.RetryConfig) backoff {
	return backoff{initial: config.InitialBackoff, max: config.MaxBackoff}
}

func (b backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.initial) * math.Pow(2, float64(attempt-1)))
	if b.max > 0 && (d > b.max || d < 0) {
		return b.max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
