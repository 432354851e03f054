package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy is an explicit, inspectable retry policy: a bounded attempt count
// with exponentially growing delays and optional jitter. It deliberately
// stays a plain value so tests can assert on the configured shape.
type Policy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64 // fraction of the delay randomized, 0..1
}

// Default mirrors the usual three-attempt exponential policy.
func Default() Policy {
	return Policy{MaxAttempts: 3, MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Factor: 2.0}
}

// Delay computes the wait before the given retry. Attempt is 1-based; the
// delay before retrying attempt n is MinDelay * Factor^(n-1), capped at
// MaxDelay, with up to Jitter fraction of random spread.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.MinDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread/2 + rand.Float64()*spread
	}
	return time.Duration(d)
}

// Do runs op up to MaxAttempts times, sleeping between attempts. It stops
// early when op succeeds, when retryable reports the error as permanent, or
// when the context is canceled. The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
