package punch

import (
	"hash/fnv"
	"time"

	"punchclock/internal/calendar"
)

// Jitter returns a deterministic offset in [-max, +max] whole minutes for kind
// on day. The same (kind, day, max) always yields the same offset.
func Jitter(kind EventKind, day calendar.Date, max time.Duration) time.Duration {
	span := int64(max / time.Minute)
	if span <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(kind.String()))
	_, _ = h.Write([]byte{'@'})
	_, _ = h.Write([]byte(day.String()))
	off := int64(h.Sum64()%uint64(2*span+1)) - span
	return time.Duration(off) * time.Minute
}
