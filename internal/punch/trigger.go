package punch

import (
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/config"
)

// Trigger is the static schedule of one EventKind. Immutable once built.
type Trigger struct {
	Kind EventKind
	// At is the nominal local time.
	At config.Clock
	// Days is a cron day-of-week field, e.g. "mon-fri" or "sat".
	Days string
	// Tolerance is the ± window around At in which a scheduled fire may act.
	Tolerance time.Duration
	// Cutoff is the latest local time a reconciliation catch-up may act.
	Cutoff config.Clock
}

// Nominal returns the nominal instant of t on date in loc.
func (t Trigger) Nominal(date calendar.Date, loc *time.Location) time.Time {
	return t.At.On(date.In(loc))
}

// CutoffOn returns the catch-up cutoff instant of t on date in loc.
func (t Trigger) CutoffOn(date calendar.Date, loc *time.Location) time.Time {
	return t.Cutoff.On(date.In(loc))
}

// InWindow reports whether now lies within nominal ± tolerance.
func (t Trigger) InWindow(date calendar.Date, now time.Time) bool {
	nominal := t.Nominal(date, now.Location())
	d := now.Sub(nominal)
	if d < 0 {
		d = -d
	}
	return d <= t.Tolerance
}

// DriftMinutes is the signed whole-minute offset of at from the nominal time on date.
func (t Trigger) DriftMinutes(date calendar.Date, at time.Time) int {
	return int(at.Sub(t.Nominal(date, at.Location())).Round(time.Minute) / time.Minute)
}
