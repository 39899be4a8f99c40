package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

// recordingSleeper records the requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestBackoff_Doubles(t *testing.T) {
	p := NewPolicy(isTransient)

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestBackoff_RespectsMaxDelay(t *testing.T) {
	p := NewPolicy(isTransient)
	p.MaxDelay = 5 * time.Second

	if got := p.Backoff(10); got != 5*time.Second {
		t.Errorf("Backoff(10) = %v, want 5s", got)
	}
}

func TestDo_SucceedsAfterTwoTransientFailures(t *testing.T) {
	rec := &recordingSleeper{}
	p := NewPolicy(isTransient)
	p.Sleep = rec.Sleep

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(rec.delays) != 2 || rec.delays[0] != 2*time.Second || rec.delays[1] != 4*time.Second {
		t.Errorf("delays = %v, want [2s 4s]", rec.delays)
	}
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	rec := &recordingSleeper{}
	p := NewPolicy(isTransient)
	p.Sleep = rec.Sleep

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("Do() error = %v, want errTransient", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 attempt + 3 retries)", calls)
	}
	if len(rec.delays) != 3 {
		t.Errorf("delays = %v, want 3 pauses", rec.delays)
	}
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	rec := &recordingSleeper{}
	p := NewPolicy(isTransient)
	p.Sleep = rec.Sleep

	permanent := errors.New("bad credentials")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Errorf("calls = %d, delays = %v, want a single attempt", calls, rec.delays)
	}
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	p := NewPolicy(isTransient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func(ctx context.Context) error { return errTransient })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestSleep_NonPositiveReturnsImmediately(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) error = %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Sleep(0) should not block")
	}
}
