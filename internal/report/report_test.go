package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/punch"
	logx "punchclock/pkg/logx"
)

var cot = time.FixedZone("COT", -5*3600)

func entryAt(t time.Time) ledger.Entry {
	return ledger.Entry{Completed: true, CompletionEpoch: t.Unix(), CompletionTime: t.Format(time.RFC3339)}
}

func TestInterval(t *testing.T) {
	in := time.Date(2026, 10, 21, 7, 0, 0, 0, cot)
	cases := []struct {
		name       string
		day        ledger.Day
		class      punch.DayClass
		worked     time.Duration
		suspicious bool
	}{
		{"full day", ledger.Day{punch.WeekdayClockIn: entryAt(in), punch.WeekdayClockOut: entryAt(in.Add(10 * time.Hour))}, punch.Weekday, 10 * time.Hour, false},
		{"short", ledger.Day{punch.WeekdayClockIn: entryAt(in), punch.WeekdayClockOut: entryAt(in.Add(59 * time.Minute))}, punch.Weekday, 59 * time.Minute, true},
		{"exactly an hour", ledger.Day{punch.WeekdayClockIn: entryAt(in), punch.WeekdayClockOut: entryAt(in.Add(time.Hour))}, punch.Weekday, time.Hour, false},
		{"only in", ledger.Day{punch.WeekdayClockIn: entryAt(in)}, punch.Weekday, 0, false},
		{"sunday", ledger.Day{}, punch.NoClass, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			worked, sus := Interval(tc.day, tc.class)
			if worked != tc.worked || sus != tc.suspicious {
				t.Fatalf("Interval=%v,%v want %v,%v", worked, sus, tc.worked, tc.suspicious)
			}
		})
	}
}

func TestCompareProbe(t *testing.T) {
	in := entryAt(time.Date(2026, 10, 21, 7, 0, 0, 0, cot))
	cases := []struct {
		name     string
		day      ledger.Day
		observed executor.State
		ok       bool
	}{
		{"nothing yet, in available", ledger.Day{}, executor.ClockInAvailable, true},
		{"nothing yet, out available", ledger.Day{}, executor.ClockOutAvailable, false},
		{"clocked in, out available", ledger.Day{punch.WeekdayClockIn: in}, executor.ClockOutAvailable, true},
		{"clocked in, in available", ledger.Day{punch.WeekdayClockIn: in}, executor.ClockInAvailable, false},
		{"complete, in available", ledger.Day{punch.WeekdayClockIn: in, punch.WeekdayClockOut: in}, executor.ClockInAvailable, true},
		{"unknown", ledger.Day{}, executor.Unknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := CompareProbe(tc.day, punch.Weekday, tc.observed)
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v (%+v)", ok, tc.ok, f)
			}
			if !ok && f.Detail == "" {
				t.Fatalf("missing detail")
			}
		})
	}
}

func TestDays(t *testing.T) {
	led, err := ledger.Open(ledger.Config{Path: filepath.Join(t.TempDir(), "ledger.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer led.Close()
	ctx := context.Background()

	wed := calendar.Date{Year: 2026, Month: time.October, Day: 21}
	in := time.Date(2026, 10, 21, 7, 0, 0, 0, cot)
	for _, c := range []ledger.Completion{
		{Date: wed, Kind: punch.WeekdayClockIn, At: in, Source: ledger.SourceScheduled},
		{Date: wed, Kind: punch.WeekdayClockOut, At: in.Add(30 * time.Minute), Source: ledger.SourceManual},
	} {
		if err := led.RecordCompletion(ctx, c); err != nil {
			t.Fatalf("RecordCompletion: %v", err)
		}
	}

	cal := calendar.New(calendar.Options{Rules: calendar.Colombia, RestDay: time.Sunday})
	rows, err := Days(ctx, led, cal, wed, 3)
	if err != nil {
		t.Fatalf("Days: %v", err)
	}
	if len(rows) != 3 || rows[0].Date != wed || rows[2].Date != wed.AddDays(-2) {
		t.Fatalf("rows=%+v", rows)
	}
	if !rows[0].Suspicious || rows[0].Worked != 30*time.Minute {
		t.Fatalf("today=%+v", rows[0])
	}
	if len(rows[1].Entries) != 0 || !rows[1].Working {
		t.Fatalf("tuesday=%+v", rows[1])
	}
}
