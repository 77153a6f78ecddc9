package systemd

import (
	"errors"
	"time"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// Status is the service manager's view of one unit.
type Status struct {
	Unit        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	Description string
	MainPID     int
	// Since is the last state change.
	Since time.Time
}

// Running reports whether the unit is active and running.
func (s *Status) Running() bool {
	return s != nil && s.Active == "active" && s.SubState == "running"
}
