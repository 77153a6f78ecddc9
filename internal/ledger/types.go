package ledger

import (
	"context"
	"errors"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/punch"
)

var (
	// ErrCorrupt means the persisted ledger exists but cannot be decoded.
	// Callers must not treat it as "nothing completed".
	ErrCorrupt = errors.New("ledger: corrupt store")
	ErrClosed  = errors.New("ledger: closed")
)

// DefaultRetentionDays bounds how many dates are kept.
const DefaultRetentionDays = 30

// Config configures the ledger.
//
// Driver values:
//   - "file": a single human-readable JSON document, replaced atomically on write
//   - "sqlite": embedded SQLite database (WAL)
type Config struct {
	Driver        string
	Path          string
	RetentionDays int
	BusyTimeout   time.Duration // sqlite only; 0 means default
}

// Source tells how a completion got recorded.
type Source string

const (
	SourceScheduled Source = "scheduled"
	SourceCatchUp   Source = "catchup"
	SourceBackfill  Source = "backfill"
	SourceManual    Source = "manual"
)

// Entry is the persisted record of one completed event.
type Entry struct {
	Completed       bool   `json:"completed"`
	CompletionTime  string `json:"completion_time"`
	CompletionEpoch int64  `json:"completion_epoch"`
	DriftMinutes    int    `json:"drift_minutes"`
	Source          Source `json:"source,omitempty"`
}

// At returns the completion instant.
func (e Entry) At() time.Time { return time.Unix(e.CompletionEpoch, 0) }

// Day maps kinds to entries for one date.
type Day map[punch.EventKind]Entry

// Completion is what RecordCompletion persists.
type Completion struct {
	Date         calendar.Date
	Kind         punch.EventKind
	At           time.Time
	DriftMinutes int
	Source       Source
}

func (c Completion) entry() Entry {
	return Entry{
		Completed:       true,
		CompletionTime:  c.At.Format(time.RFC3339),
		CompletionEpoch: c.At.Unix(),
		DriftMinutes:    c.DriftMinutes,
		Source:          c.Source,
	}
}

// Ledger is the date-indexed record of completed events.
//
// Every method is safe for concurrent use; writes are serialized and crash-safe.
type Ledger interface {
	IsCompleted(ctx context.Context, date calendar.Date, kind punch.EventKind) (bool, error)
	// RecordCompletion stores one completion and prunes dates beyond retention.
	// Recording a kind twice for a date keeps the first entry.
	RecordCompletion(ctx context.Context, c Completion) error
	// TimeSinceLastCompletion returns now minus the latest completion on date across
	// all kinds. ok is false when date has no completion.
	TimeSinceLastCompletion(ctx context.Context, date calendar.Date, now time.Time) (d time.Duration, ok bool, err error)
	Day(ctx context.Context, date calendar.Date) (Day, error)
	// Dates lists stored dates, newest first.
	Dates(ctx context.Context) ([]calendar.Date, error)
	// ClearDay removes every entry of date and returns how many were removed.
	ClearDay(ctx context.Context, date calendar.Date) (int, error)
	Close() error
}

func sinceLatest(day Day, now time.Time) (time.Duration, bool) {
	var latest int64
	found := false
	for _, e := range day {
		if !e.Completed {
			continue
		}
		if !found || e.CompletionEpoch > latest {
			latest = e.CompletionEpoch
			found = true
		}
	}
	if !found {
		return 0, false
	}
	d := now.Sub(time.Unix(latest, 0))
	if d < 0 {
		d = 0
	}
	return d, true
}

// retentionCutoff is the oldest date kept when writing newest.
func retentionCutoff(newest calendar.Date, days int) calendar.Date {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return newest.AddDays(-(days - 1))
}
