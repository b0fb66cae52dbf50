// Package backoff provides the retry-timing policy used by the playback
// engine: exponentially growing delays after failures, bounded by a
// maximum, with a cooldown that forgives old failures after sustained
// success.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Options configures an ExponentialBackoff policy.
type Options struct {
	// BaseDelay is the wait after the first failure. The wait is measured
	// from the completion time of the previous attempt.
	BaseDelay time.Duration
	// Jitter is the maximum random delay added to each wait.
	Jitter time.Duration
	// MaxDelay caps the exponential wait (jitter excluded).
	MaxDelay time.Duration
	// Cooldown resets the accumulated backoff once attempts have been
	// nothing but successful for this long.
	Cooldown time.Duration
	// MaxAttempts bounds the number of attempts since the last successful
	// one. 0 means unlimited.
	MaxAttempts int
}

// ErrAttemptsExhausted is returned by BeginAttempt once MaxAttempts
// consecutive attempts have failed.
var ErrAttemptsExhausted = errors.New("backoff: attempts exhausted")

// ExponentialBackoff tracks how long a caller should wait between
// sequential attempts at one operation. It is not safe for concurrent use;
// each retry loop owns its own instance.
//
// The expected loop is: BeginAttempt, run the operation, EndAttempt. For
// long-running streams EndAttempt(true) may additionally be called every
// time the stream shows signs of life, so that the final classification of
// the attempt does not erase the progress already made.
type ExponentialBackoff struct {
	opts Options

	// current is min(2^n * BaseDelay, MaxDelay) for n consecutive failures.
	current         time.Duration
	successfulSince time.Time
	lastCompletion  time.Time
	attemptCount    int
	attemptPending  bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// New creates a policy with the given options.
func New(opts Options) *ExponentialBackoff {
	return &ExponentialBackoff{
		opts:  opts,
		now:   time.Now,
		sleep: sleepContext,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset discards all accumulated state.
func (b *ExponentialBackoff) Reset() {
	b.current = 0
	b.successfulSince = time.Time{}
	b.lastCompletion = time.Time{}
	b.attemptCount = 0
	b.attemptPending = false
}

// NextDelay reports how long BeginAttempt would wait if called now,
// ignoring jitter. Useful for logging before committing to the wait.
func (b *ExponentialBackoff) NextDelay() time.Duration {
	if b.current == 0 {
		return 0
	}
	if !b.lastCompletion.IsZero() {
		if elapsed := b.now().Sub(b.lastCompletion); elapsed < b.current {
			return b.current - elapsed
		}
		return 0
	}
	return b.current
}

// BeginAttempt registers the start of a new attempt, sleeping first if the
// failure history requires it. The sleep is a suspend point: it returns
// early with ctx.Err() if ctx is cancelled. Returns ErrAttemptsExhausted
// once MaxAttempts consecutive attempts have failed.
//
// A forgotten EndAttempt from the previous attempt is treated as a failure.
func (b *ExponentialBackoff) BeginAttempt(ctx context.Context) error {
	if b.attemptPending {
		b.EndAttempt(false)
	}

	if b.opts.MaxAttempts > 0 && b.attemptCount >= b.opts.MaxAttempts {
		return ErrAttemptsExhausted
	}

	b.attemptPending = true
	if b.opts.MaxAttempts > 0 {
		b.attemptCount++
	}

	if b.current == 0 {
		return nil
	}

	wait := b.current
	if b.opts.Jitter > 0 {
		wait += time.Duration(b.rng.Int63n(int64(b.opts.Jitter) + 1))
	}

	// Time already spent since the last completion counts toward the wait.
	if !b.lastCompletion.IsZero() {
		elapsed := b.now().Sub(b.lastCompletion)
		if elapsed >= wait {
			return nil
		}
		wait -= elapsed
	}

	return b.sleep(ctx, wait)
}

// EndAttempt reports the outcome of the attempt in flight. Calling it with
// success=true resets the consecutive-failure count; with success=false it
// doubles the next wait up to MaxDelay. It may be called more than once per
// attempt (see the type comment).
func (b *ExponentialBackoff) EndAttempt(success bool) {
	now := b.now()
	b.attemptPending = false
	b.lastCompletion = now

	if !b.successfulSince.IsZero() && now.Sub(b.successfulSince) > b.opts.Cooldown {
		b.current = 0
	}

	if success {
		b.attemptCount = 0
		if b.successfulSince.IsZero() {
			b.successfulSince = now
		}
		return
	}

	if b.current == 0 {
		b.current = b.opts.BaseDelay
	} else {
		b.current = min(2*b.current, b.opts.MaxDelay)
	}
	b.successfulSince = time.Time{}
}
