package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"punchclock/internal/eventbus"
	logx "punchclock/pkg/logx"
)

var (
	// ErrOverlapSkip is returned by Run when the trigger is already running.
	ErrOverlapSkip    = errors.New("scheduler: trigger already running")
	ErrUnknownTrigger = errors.New("scheduler: unknown trigger")
	ErrDuplicate      = errors.New("scheduler: trigger already registered")
)

// Job is a trigger callback.
type Job func(ctx context.Context) error

// Config controls the scheduler.
type Config struct {
	// Location evaluates cron specs. Nil means time.Local.
	Location *time.Location
	// HistorySize bounds the in-memory run history (default 100).
	HistorySize int
}

// Event types published on the bus.
const (
	EventStarted  = "trigger.started"
	EventFinished = "trigger.finished"
	EventSkipped  = "trigger.skipped"
	EventPanicked = "trigger.panicked"
)

// RunEvent is the bus payload for trigger lifecycle events.
type RunEvent struct {
	RunID    string        `json:"run_id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// runState enforces single-flight per trigger.
type runState struct {
	mu       sync.Mutex
	inflight bool
	lastRun  time.Time
	lastErr  string
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release(at time.Time, err error) {
	s.mu.Lock()
	s.inflight = false
	s.lastRun = at
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
}

func (s *runState) snapshot() (running bool, lastRun time.Time, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.lastRun, s.lastErr
}

type trigger struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	state   *runState
}

// Service owns the cron loop and the registered triggers.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser   cron.Parser
	c        *cron.Cron
	triggers []*trigger
	byName   map[string]*trigger

	// base is the parent context of every run; cancelled by Stop after draining.
	base   context.Context
	cancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

// HistoryItem records one finished (or skipped) run.
type HistoryItem struct {
	RunID    string
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}

// TriggerInfo describes a registered trigger.
type TriggerInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Running bool
	LastRun time.Time
	LastErr string
}

type Snapshot struct {
	Timezone string
	Triggers []TriggerInfo
	History  []HistoryItem
}
