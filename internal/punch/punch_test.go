package punch

import (
	"testing"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/config"
	"punchclock/internal/executor"
)

func TestKindProperties(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind  EventKind
		name  string
		dir   executor.Direction
		class DayClass
		pair  EventKind
	}{
		{WeekdayClockIn, "weekday_clock_in", executor.ClockIn, Weekday, WeekdayClockOut},
		{WeekdayClockOut, "weekday_clock_out", executor.ClockOut, Weekday, WeekdayClockIn},
		{SaturdayClockIn, "saturday_clock_in", executor.ClockIn, Saturday, SaturdayClockOut},
		{SaturdayClockOut, "saturday_clock_out", executor.ClockOut, Saturday, SaturdayClockIn},
	}
	for _, tt := range tests {
		if tt.kind.String() != tt.name || tt.kind.Direction() != tt.dir || tt.kind.Class() != tt.class || tt.kind.Pair() != tt.pair {
			t.Fatalf("%s: dir=%s class=%s pair=%s", tt.kind, tt.kind.Direction(), tt.kind.Class(), tt.kind.Pair())
		}
		parsed, err := ParseEventKind(tt.name)
		if err != nil || parsed != tt.kind {
			t.Fatalf("ParseEventKind(%q) = %v, %v", tt.name, parsed, err)
		}
		if k, ok := KindFor(tt.class, tt.dir); !ok || k != tt.kind {
			t.Fatalf("KindFor(%s,%s) = %v", tt.class, tt.dir, k)
		}
	}
	if _, ok := KindFor(NoClass, executor.ClockIn); ok {
		t.Fatal("Sunday has no kinds")
	}
}

func TestClassOf(t *testing.T) {
	t.Parallel()
	if ClassOf(time.Wednesday) != Weekday || ClassOf(time.Saturday) != Saturday || ClassOf(time.Sunday) != NoClass {
		t.Fatal("unexpected day classes")
	}
	if got := KindsFor(Saturday); len(got) != 2 || got[0] != SaturdayClockIn || got[1] != SaturdayClockOut {
		t.Fatalf("KindsFor(Saturday) = %v", got)
	}
}

func TestTriggerWindowAndDrift(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("COT", -5*3600)
	day, _ := calendar.ParseDate("2026-10-21")
	tr := Trigger{Kind: WeekdayClockIn, At: config.Clock{Hour: 7}, Tolerance: 15 * time.Minute}

	tests := []struct {
		at    time.Time
		in    bool
		drift int
	}{
		{time.Date(2026, 10, 21, 7, 0, 0, 0, loc), true, 0},
		{time.Date(2026, 10, 21, 6, 45, 0, 0, loc), true, -15},
		{time.Date(2026, 10, 21, 7, 15, 0, 0, loc), true, 15},
		{time.Date(2026, 10, 21, 7, 15, 1, 0, loc), false, 15},
		{time.Date(2026, 10, 21, 9, 0, 0, 0, loc), false, 120},
	}
	for _, tt := range tests {
		if got := tr.InWindow(day, tt.at); got != tt.in {
			t.Fatalf("InWindow(%s) = %v", tt.at.Format("15:04:05"), got)
		}
		if got := tr.DriftMinutes(day, tt.at); got != tt.drift {
			t.Fatalf("DriftMinutes(%s) = %d, want %d", tt.at.Format("15:04:05"), got, tt.drift)
		}
	}
}

func TestJitterDeterministicAndBounded(t *testing.T) {
	t.Parallel()
	day, _ := calendar.ParseDate("2026-10-21")
	if Jitter(WeekdayClockIn, day, 0) != 0 {
		t.Fatal("zero max must yield zero jitter")
	}
	max := 7 * time.Minute
	first := Jitter(WeekdayClockIn, day, max)
	for i := 0; i < 5; i++ {
		if Jitter(WeekdayClockIn, day, max) != first {
			t.Fatal("jitter must be deterministic")
		}
	}
	seen := map[time.Duration]bool{}
	for i := 0; i < 60; i++ {
		j := Jitter(WeekdayClockOut, day.AddDays(i), max)
		if j < -max || j > max || j%time.Minute != 0 {
			t.Fatalf("jitter %v out of range", j)
		}
		seen[j] = true
	}
	if len(seen) < 5 {
		t.Fatalf("jitter barely varies across days: %v", seen)
	}
}
