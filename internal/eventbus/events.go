package eventbus

import (
	"fmt"
	"strings"
	"time"
)

// Event types published by the engine.
const (
	// TypeCompleted is published after a completion is recorded in the ledger.
	TypeCompleted = "punch.completed"
	// TypeRejected is published when a validation gate turns a run into a no-op.
	TypeRejected = "punch.rejected"
	// TypeEscalation asks for operator attention. The notifier forwards these.
	TypeEscalation = "punch.escalation"
)

// Severity orders escalations.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarn:
		return "warn"
	default:
		return "info"
	}
}

// ParseSeverity accepts "info", "warn"/"warning" and "critical". Empty means info.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "critical", "crit":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// Completed is the Data of TypeCompleted.
type Completed struct {
	RunID  string    `json:"run_id,omitempty"`
	Date   string    `json:"date"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Drift  int       `json:"drift_minutes"`
	Source string    `json:"source"`
}

// Rejected is the Data of TypeRejected.
type Rejected struct {
	RunID  string `json:"run_id,omitempty"`
	Date   string `json:"date"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Escalation is the Data of TypeEscalation.
type Escalation struct {
	Severity Severity `json:"severity"`
	RunID    string   `json:"run_id,omitempty"`
	Date     string   `json:"date,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	// Reason is a short stable identifier, e.g. "executor_failed".
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}
