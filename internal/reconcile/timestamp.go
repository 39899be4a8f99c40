package reconcile

import (
	"time"

	"github.com/tidic84/InstaAi/internal/provider"
)

// millisecondThreshold separates second and millisecond timestamps.
// 9,999,999,999 seconds is in the year 2286.
const millisecondThreshold = 9_999_999_999

// maxMillis is 9999-12-31T23:59:59.999Z. Later instants do not fit a timestamptz column.
const maxMillis = 253_402_300_799_999

// NormalizeTimestamp converts a provider timestamp to an instant.
// Values above millisecondThreshold are milliseconds, others seconds.
// Missing, non-positive and post-9999 values are invalid.
func NormalizeTimestamp(raw provider.RawTimestamp) (time.Time, bool) {
	if !raw.Valid || raw.Value <= 0 {
		return time.Time{}, false
	}
	if raw.Value > maxMillis {
		return time.Time{}, false
	}
	if raw.Value > millisecondThreshold {
		return time.UnixMilli(raw.Value).UTC(), true
	}
	return time.Unix(raw.Value, 0).UTC(), true
}
