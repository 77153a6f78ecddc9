// Package punch names the recurring clock events and their static schedule.
package punch

import (
	"fmt"
	"strings"
	"time"

	"punchclock/internal/executor"
)

// DayClass groups working days that share a schedule.
type DayClass int

const (
	NoClass DayClass = iota
	Weekday
	Saturday
)

func (c DayClass) String() string {
	switch c {
	case Weekday:
		return "weekday"
	case Saturday:
		return "saturday"
	default:
		return "none"
	}
}

// ClassOf derives the day class from the weekday. Sunday has none.
func ClassOf(wd time.Weekday) DayClass {
	switch wd {
	case time.Saturday:
		return Saturday
	case time.Sunday:
		return NoClass
	default:
		return Weekday
	}
}

// EventKind is one of the four recurring logical events.
type EventKind int

const (
	WeekdayClockIn EventKind = iota + 1
	WeekdayClockOut
	SaturdayClockIn
	SaturdayClockOut
)

// Kinds lists every EventKind in schedule order.
var Kinds = []EventKind{WeekdayClockIn, WeekdayClockOut, SaturdayClockIn, SaturdayClockOut}

var kindNames = map[EventKind]string{
	WeekdayClockIn:   "weekday_clock_in",
	WeekdayClockOut:  "weekday_clock_out",
	SaturdayClockIn:  "saturday_clock_in",
	SaturdayClockOut: "saturday_clock_out",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k EventKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseEventKind parses the snake_case kind name.
func ParseEventKind(s string) (EventKind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == v {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MarshalText lets EventKind key JSON maps by name.
func (k EventKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid event kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	v, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k EventKind) Direction() executor.Direction {
	switch k {
	case WeekdayClockIn, SaturdayClockIn:
		return executor.ClockIn
	case WeekdayClockOut, SaturdayClockOut:
		return executor.ClockOut
	default:
		return executor.None
	}
}

func (k EventKind) Class() DayClass {
	switch k {
	case WeekdayClockIn, WeekdayClockOut:
		return Weekday
	case SaturdayClockIn, SaturdayClockOut:
		return Saturday
	default:
		return NoClass
	}
}

func (k EventKind) IsClockOut() bool { return k.Direction() == executor.ClockOut }

// Pair returns the ClockIn a ClockOut depends on (and vice versa).
func (k EventKind) Pair() EventKind {
	switch k {
	case WeekdayClockIn:
		return WeekdayClockOut
	case WeekdayClockOut:
		return WeekdayClockIn
	case SaturdayClockIn:
		return SaturdayClockOut
	case SaturdayClockOut:
		return SaturdayClockIn
	default:
		return 0
	}
}

// KindFor maps (day class, direction) to an EventKind.
func KindFor(class DayClass, dir executor.Direction) (EventKind, bool) {
	for _, k := range Kinds {
		if k.Class() == class && k.Direction() == dir {
			return k, true
		}
	}
	return 0, false
}

// KindsFor returns the ClockIn and ClockOut kinds of a day class, in that order.
func KindsFor(class DayClass) []EventKind {
	in, ok := KindFor(class, executor.ClockIn)
	if !ok {
		return nil
	}
	return []EventKind{in, in.Pair()}
}
