// Package executor defines the contract with the component that performs and
// probes the real-world clock action, plus a command-backed implementation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Direction is a clock action direction.
type Direction int

const (
	None Direction = iota
	ClockIn
	ClockOut
)

func (d Direction) String() string {
	switch d {
	case ClockIn:
		return "in"
	case ClockOut:
		return "out"
	default:
		return "none"
	}
}

// ParseDirection accepts in/out/none (and entrada/salida as printed by the action scripts).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "clock_in", "entrada":
		return ClockIn, nil
	case "out", "clock_out", "salida":
		return ClockOut, nil
	case "", "none", "-":
		return None, nil
	default:
		return None, fmt.Errorf("invalid direction %q", s)
	}
}

// State is what the external system currently permits.
type State int

const (
	Unknown State = iota
	ClockInAvailable
	ClockOutAvailable
)

func (s State) String() string {
	switch s {
	case ClockInAvailable:
		return "clock_in_available"
	case ClockOutAvailable:
		return "clock_out_available"
	default:
		return "unknown"
	}
}

// ParseState accepts the probe answers printed by an action command.
func ParseState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "clock_in_available", "entrada":
		return ClockInAvailable
	case "out", "clock_out_available", "salida":
		return ClockOutAvailable
	default:
		return Unknown
	}
}

// Executor performs and probes the external action.
//
// ProbeState never mutates. PerformAction returns the direction actually performed;
// when expected is not None and does not match what is available it returns None
// without side effects. Any error means the action did not happen.
type Executor interface {
	ProbeState(ctx context.Context) (State, error)
	PerformAction(ctx context.Context, expected Direction) (Direction, error)
}

var (
	// ErrUnavailable is returned when no executor command is configured.
	ErrUnavailable = errors.New("executor: not configured")
	// ErrTimeout wraps a command killed by its deadline.
	ErrTimeout = errors.New("executor: timeout")
)
