// Package report summarizes the ledger for operators: recent days, suspicious
// intervals and disagreements between the ledger and the external system.
package report

import (
	"context"
	"fmt"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/punch"
)

// SuspiciousInterval is the shortest plausible gap between a clock-in and its
// clock-out.
const SuspiciousInterval = 60 * time.Minute

type DayRow struct {
	Date    calendar.Date
	Class   punch.DayClass
	Working bool
	Holiday string
	Entries ledger.Day
	// Worked is clock-out minus clock-in when both are recorded.
	Worked     time.Duration
	Suspicious bool
}

// Days returns one row per date for the n days ending at today, newest first.
func Days(ctx context.Context, led ledger.Ledger, cal *calendar.Calendar, today calendar.Date, n int) ([]DayRow, error) {
	if n <= 0 {
		n = 1
	}
	rows := make([]DayRow, 0, n)
	for i := 0; i < n; i++ {
		d := today.AddDays(-i)
		entries, err := led.Day(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d, err)
		}
		row := DayRow{
			Date:    d,
			Class:   punch.ClassOf(d.Weekday()),
			Working: cal.IsWorkingDay(d),
			Entries: entries,
		}
		row.Holiday, _ = cal.Holiday(d)
		row.Worked, row.Suspicious = Interval(entries, row.Class)
		rows = append(rows, row)
	}
	return rows, nil
}

// Interval returns the clock-out minus clock-in span of a day and whether it is
// shorter than SuspiciousInterval. Days missing either entry report (0, false).
func Interval(day ledger.Day, class punch.DayClass) (time.Duration, bool) {
	kinds := punch.KindsFor(class)
	if len(kinds) != 2 {
		return 0, false
	}
	in, out := day[kinds[0]], day[kinds[1]]
	if !in.Completed || !out.Completed {
		return 0, false
	}
	worked := out.At().Sub(in.At())
	return worked, worked < SuspiciousInterval
}

// Finding is one disagreement between the ledger and a probe answer.
type Finding struct {
	Expected executor.State
	Observed executor.State
	Detail   string
}

// Expected is the state the external system should report given the ledger.
// A day with no schedule (Sunday) expects a clock-in to be available.
func Expected(day ledger.Day, class punch.DayClass) executor.State {
	kinds := punch.KindsFor(class)
	if len(kinds) != 2 {
		return executor.ClockInAvailable
	}
	if day[kinds[0]].Completed && !day[kinds[1]].Completed {
		return executor.ClockOutAvailable
	}
	return executor.ClockInAvailable
}

// CompareProbe reports whether observed agrees with the ledger. It never
// suggests a correction; backfill is the reconciliation sweep's decision.
func CompareProbe(day ledger.Day, class punch.DayClass, observed executor.State) (Finding, bool) {
	want := Expected(day, class)
	f := Finding{Expected: want, Observed: observed}
	switch {
	case observed == executor.Unknown:
		f.Detail = "external state unknown"
		return f, false
	case observed == want:
		return f, true
	case want == executor.ClockInAvailable:
		f.Detail = "ledger has no open clock-in but the external system shows one (manual clock-in?)"
	default:
		f.Detail = "ledger has an open clock-in but the external system shows none (manual clock-out?)"
	}
	return f, false
}
