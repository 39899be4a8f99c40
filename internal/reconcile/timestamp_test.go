package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/tidic84/InstaAi/internal/provider"
)

func TestNormalizeTimestamp(t *testing.T) {
	seconds := time.Unix(1_700_000_000, 0).UTC()

	tests := []struct {
		name   string
		raw    provider.RawTimestamp
		want   time.Time
		wantOK bool
	}{
		{"seconds", provider.TimestampOf(1_700_000_000), seconds, true},
		{"milliseconds", provider.TimestampOf(1_700_000_000_000), seconds, true},
		{"milliseconds with remainder", provider.TimestampOf(1_700_000_000_250), seconds.Add(250 * time.Millisecond), true},
		{"threshold is still seconds", provider.TimestampOf(9_999_999_999), time.Unix(9_999_999_999, 0).UTC(), true},
		{"just above threshold is milliseconds", provider.TimestampOf(10_000_000_000), time.UnixMilli(10_000_000_000).UTC(), true},
		{"missing", provider.RawTimestamp{}, time.Time{}, false},
		{"zero", provider.TimestampOf(0), time.Time{}, false},
		{"negative", provider.TimestampOf(-1), time.Time{}, false},
		{"last millisecond of 9999", provider.TimestampOf(253_402_300_799_999), time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC), true},
		{"after 9999", provider.TimestampOf(253_402_300_800_000), time.Time{}, false},
		{"far future", provider.TimestampOf(9_000_000_000_000_000_000), time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeTimestamp(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NormalizeTimestamp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFixedPacer_UsesDelay(t *testing.T) {
	var got time.Duration
	p := &FixedPacer{Delay: 1500 * time.Millisecond, Sleep: func(_ context.Context, d time.Duration) error {
		got = d
		return nil
	}}
	if err := p.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != 1500*time.Millisecond {
		t.Errorf("slept %v, want 1.5s", got)
	}
}
