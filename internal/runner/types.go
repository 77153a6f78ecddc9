// Package runner wraps every trigger callback with the validation gates
// (idempotency, cooldown, calendar, ordering, time window) before invoking the
// action executor, and records successful completions in the ledger.
package runner

import (
	"errors"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/punch"
)

// ErrStorage wraps ledger read/write failures. A run that returns it made no
// decision about the event.
var ErrStorage = errors.New("runner: storage failure")

const DefaultCooldown = 5 * time.Minute

// Mode tells the runner why it is being invoked.
type Mode int

const (
	// Scheduled is a trigger fire at (nominal + jitter); every gate applies.
	Scheduled Mode = iota
	// CatchUp comes from the reconciliation sweep and skips the time-window gate.
	CatchUp
	// Manual is an operator request; gates as CatchUp.
	Manual
)

func (m Mode) String() string {
	switch m {
	case CatchUp:
		return "catchup"
	case Manual:
		return "manual"
	default:
		return "scheduled"
	}
}

func (m Mode) source() ledger.Source {
	switch m {
	case CatchUp:
		return ledger.SourceCatchUp
	case Manual:
		return ledger.SourceManual
	default:
		return ledger.SourceScheduled
	}
}

// Result classifies an Outcome.
type Result int

const (
	Rejected Result = iota
	Performed
	Failed
)

func (r Result) String() string {
	switch r {
	case Performed:
		return "performed"
	case Failed:
		return "failed"
	default:
		return "rejected"
	}
}

// Reason is a stable identifier for why a run did not record a completion.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonAlreadyDone    Reason = "already_completed"
	ReasonCooldown       Reason = "cooldown"
	ReasonNonWorkingDay  Reason = "non_working_day"
	ReasonWrongDayClass  Reason = "wrong_day_class"
	ReasonMissingClockIn Reason = "missing_clock_in"
	ReasonOutsideWindow  Reason = "outside_window"
	ReasonExecutorFailed Reason = "executor_failed"
	ReasonNotPerformed   Reason = "not_performed"
	ReasonMismatch       Reason = "direction_mismatch"
	ReasonStorage        Reason = "storage_failure"
)

// Outcome describes one runner invocation.
type Outcome struct {
	RunID  string
	Date   calendar.Date
	Kind   punch.EventKind
	Mode   Mode
	Result Result
	Reason Reason

	// Set when the executor was called.
	Performed executor.Direction
	At        time.Time
	Drift     int
}

// Calendar is the working-day oracle the calendar gate consults.
type Calendar interface {
	IsWorkingDay(d calendar.Date) bool
}
