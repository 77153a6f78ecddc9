package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// DailySpec builds a 5-field cron spec firing at hour:minute on days.
func DailySpec(hour, minute int, days string) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}
	d := strings.TrimSpace(days)
	if d == "" {
		d = "*"
	}
	if strings.ContainsAny(d, " \t") {
		return "", fmt.Errorf("invalid day-of-week field %q", days)
	}
	spec := fmt.Sprintf("%d %d * * %s", minute, hour, d)
	if err := ValidateSpec(spec); err != nil {
		return "", err
	}
	return spec, nil
}

// ValidateSpec checks a cron spec with the scheduler's parser.
func ValidateSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("schedule required")
	}
	if strings.HasPrefix(strings.TrimSpace(spec), "@every") {
		// Interval triggers drift with process start; the engine only uses wall-clock specs.
		return fmt.Errorf("interval schedules are not supported: %q", spec)
	}
	if _, err := newParser().Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// NextRuns returns the next n fire times of spec after from.
func NextRuns(spec string, from time.Time, n int) ([]time.Time, error) {
	sched, err := newParser().Parse(spec)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// MatchesDay reports whether the day-of-week field days includes wd.
func MatchesDay(days string, wd time.Weekday) (bool, error) {
	spec, err := DailySpec(12, 0, days)
	if err != nil {
		return false, err
	}
	// 2026-10-18 is a Sunday; walk one week at noon UTC.
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(wd))
	next, err := NextRuns(spec, base, 1)
	if err != nil || len(next) == 0 {
		return false, err
	}
	return next[0].Weekday() == wd && next[0].Sub(base) < 24*time.Hour, nil
}

func (s *Service) previewLocked(spec string, n int) string {
	runs, err := NextRuns(spec, time.Now().In(s.loc), n)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(runs))
	for _, t := range runs {
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
