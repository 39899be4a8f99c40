package reconcile

import (
	"context"
	"time"

	"github.com/tidic84/InstaAi/internal/retry"
)

// DefaultPageDelay is the pause between two page fetches of one thread.
const DefaultPageDelay = time.Second

// Pacer spaces out consecutive provider calls.
type Pacer interface {
	Pause(ctx context.Context) error
}

// FixedPacer pauses for a constant Delay.
type FixedPacer struct {
	Delay time.Duration
	Sleep retry.Sleeper
}

// NewFixedPacer creates a FixedPacer using retry.Sleep.
func NewFixedPacer(delay time.Duration) *FixedPacer {
	return &FixedPacer{Delay: delay, Sleep: retry.Sleep}
}

// Pause blocks for Delay or until ctx is done.
func (p *FixedPacer) Pause(ctx context.Context) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	return sleep(ctx, p.Delay)
}
