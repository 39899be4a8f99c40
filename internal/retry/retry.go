// Package retry provides the backoff strategy shared by every caller that
// talks to the messaging provider.
package retry

import (
	"context"
	"time"
)

const (
	// DefaultInitialDelay is the first backoff delay.
	DefaultInitialDelay = 2 * time.Second
	// DefaultMultiplier grows the delay after every retry.
	DefaultMultiplier = 2
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper. Non-positive durations return immediately.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Policy retries an operation with exponential backoff while its error is classified as retryable.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   int
	MaxRetries   int
	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration
	// Retryable classifies errors. A nil Retryable retries nothing.
	Retryable func(error) bool
	// Sleep performs the pause between attempts. Nil uses Sleep.
	Sleep Sleeper
	// OnRetry, when set, is called before each pause.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewPolicy returns a Policy with the default 2s doubling backoff and 3 retries.
func NewPolicy(retryable func(error) bool) *Policy {
	return &Policy{
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxRetries:   DefaultMaxRetries,
		Retryable:    retryable,
	}
}

// Backoff returns the delay before retry n (0-based): InitialDelay * Multiplier^n.
func (p *Policy) Backoff(n int) time.Duration {
	delay := p.InitialDelay
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < n; i++ {
		delay *= time.Duration(mult)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the retries are used up.
// The last error is returned unchanged so callers can classify it.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
