// Package ratelimit provides the process-wide gate in front of the
// planning-database client (spec.md §4.6): a hard ceiling enforced
// across the entire process, not per-channel.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate with an outstanding-request
// counter so the token budget is visible to metrics (§9 design notes:
// "an arena+index style registry of outstanding requests in the
// limiter makes the token budget visible to metrics").
type Limiter struct {
	rl          *rate.Limiter
	outstanding int64
	issued      int64
}

// New constructs a Limiter allowing ratePerSec steady-state requests
// per second with a burst of 1: the planning-db ceiling in spec.md §4.6
// (P4) is a hard per-second cap, not a bucket to front-load, so the
// bucket never accumulates more than a single token regardless of
// ratePerSec.
func New(ratePerSec float64) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), 1)}
}

// Wait suspends the caller until a token is available or ctx is
// cancelled. Callers that arrive while the bucket is empty suspend
// here, exactly as spec.md §4.6 requires.
func (l *Limiter) Wait(ctx context.Context) error {
	atomic.AddInt64(&l.outstanding, 1)
	defer atomic.AddInt64(&l.outstanding, -1)
	if err := l.rl.Wait(ctx); err != nil {
		return err
	}
	atomic.AddInt64(&l.issued, 1)
	return nil
}

// Outstanding returns the number of callers currently suspended
// waiting for a token, for metrics.
func (l *Limiter) Outstanding() int64 {
	return atomic.LoadInt64(&l.outstanding)
}

// Issued returns the cumulative number of tokens granted, for metrics.
func (l *Limiter) Issued() int64 {
	return atomic.LoadInt64(&l.issued)
}

// Available reports the current token budget sitting in the bucket,
// for the rate_limiter_tokens_available gauge.
func (l *Limiter) Available() float64 {
	return l.rl.Tokens()
}
