package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// DefaultRetryInterval is the pause between upstream connection attempts.
const DefaultRetryInterval = time.Second

// ErrAttemptsExhausted is returned once MaxAttempts failures have occurred.
var ErrAttemptsExhausted = errors.New("relay: retry attempts exhausted")

// RetryPolicy paces repeated attempts at an operation. The zero value retries
// every second, without jitter, until the context is cancelled.
type RetryPolicy struct {
	// Interval between attempts. Zero means DefaultRetryInterval.
	Interval time.Duration
	// Jitter spreads each wait uniformly over Interval*(1±Jitter). 0..1.
	Jitter float64
	// MaxAttempts stops after that many failures. Zero never gives up.
	MaxAttempts int
	// Sleep waits d or until ctx is done. Tests inject a fast clock here.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0,1) for jitter.
	Rand func() float64
}

// Do runs op until it succeeds. onRetry, when set, observes each failure
// together with the wait that follows it.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}
		wait := p.Delay()
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Delay returns the next wait, jitter applied.
func (p RetryPolicy) Delay() time.Duration {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	jitter := min(max(p.Jitter, 0), 1)
	if jitter == 0 {
		return interval
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	spread := (r()*2 - 1) * jitter * float64(interval)
	return max(time.Duration(float64(interval)+spread), 0)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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
