// Package lock keeps a single engine process per host.
//
// The lock is a small JSON record (pid, host, creation time) next to the ledger,
// guarded by an OS advisory lock on "<path>.flock". The advisory lock is released
// by the kernel when the owner dies; the record is what operators and the CLI read.
package lock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	logx "punchclock/pkg/logx"
)

// ErrHeld means a live process owns the lock.
var ErrHeld = errors.New("lock: held by another live process")

const DefaultStaleAfter = 24 * time.Hour

// Record is the persisted owner identity.
type Record struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HeldError carries the current owner.
type HeldError struct {
	Path  string
	Owner Record
}

func (e *HeldError) Error() string {
	if e.Owner.PID == 0 {
		return fmt.Sprintf("lock %s is held by another process", e.Path)
	}
	return fmt.Sprintf("lock %s is held by pid %d (since %s)", e.Path, e.Owner.PID, e.Owner.CreatedAt.Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error { return ErrHeld }

type Options struct {
	Path string
	// StaleAfter is how old a record must be for Inspect to call it stale when
	// neither the advisory lock nor the owner's liveness can be determined.
	StaleAfter time.Duration

	// Now and Alive are overridable for tests.
	Now   func() time.Time
	Alive func(pid int) (alive, known bool)
}

func (o *Options) defaults() {
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Alive == nil {
		o.Alive = processAlive
	}
}

// Lock is an acquired instance lock.
type Lock struct {
	path   string
	fl     *flock.Flock
	record Record
	log    logx.Logger

	once sync.Once
}

// Acquire takes the lock or returns a *HeldError (errors.Is(err, ErrHeld)).
func Acquire(opts Options, log logx.Logger) (*Lock, error) {
	opts.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("lock.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fl := flock.New(path + ".flock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	if !ok {
		owner, _, _ := ReadRecord(path)
		return nil, &HeldError{Path: path, Owner: owner}
	}

	self := os.Getpid()
	prev, exists, err := ReadRecord(path)
	switch {
	case err != nil:
		log.Warn("lock record unreadable; replacing", logx.String("path", path), logx.Err(err))
	case exists && prev.PID != self:
		// The advisory lock is ours, so the recorded owner is gone. A live pid
		// here belongs to an unrelated process that reused it.
		alive, known := opts.Alive(prev.PID)
		log.Warn("stale lock replaced",
			logx.String("path", path),
			logx.Int("stale_pid", prev.PID),
			logx.Time("stale_since", prev.CreatedAt),
			logx.Bool("pid_reused", known && alive),
		)
	}

	host, _ := os.Hostname()
	rec := Record{PID: self, Host: host, CreatedAt: opts.Now()}
	if err := writeRecord(path, rec); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	log.Info("instance lock acquired", logx.String("path", path), logx.Int("pid", self))
	return &Lock{path: path, fl: fl, record: rec, log: log}, nil
}

// isStale judges a record by pid liveness and age. It is only used when the
// advisory lock state cannot be read.
func isStale(prev Record, opts Options) bool {
	alive, known := opts.Alive(prev.PID)
	if known {
		return !alive
	}
	return opts.Now().Sub(prev.CreatedAt) > opts.StaleAfter
}

func (l *Lock) Record() Record { return l.record }

func (l *Lock) Path() string { return l.path }

// Release removes the record (when still ours) and drops the advisory lock.
// Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	var err error
	l.once.Do(func() {
		if cur, ok, rerr := ReadRecord(l.path); rerr == nil && ok && cur.PID == l.record.PID {
			if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = rmErr
			}
		}
		if uerr := l.fl.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
		l.log.Info("instance lock released", logx.String("path", l.path))
	})
	return err
}

// ReadRecord reads the lock record. exists is false when no record is present.
func ReadRecord(path string) (rec Record, exists bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if err := json.Unmarshal(bytes.TrimSpace(b), &rec); err != nil {
		return Record{}, true, fmt.Errorf("lock: decode %s: %w", path, err)
	}
	return rec, true, nil
}

func writeRecord(path string, rec Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(append(b, '\n')))
}

// Status describes the lock as seen from outside the engine.
type Status struct {
	Path   string
	Exists bool
	Record Record
	// Held is true when a process currently holds the advisory lock.
	Held  bool
	Alive bool
	Known bool
	Stale bool
}

// Inspect reports the lock state without taking it.
func Inspect(opts Options) (Status, error) {
	opts.defaults()
	st := Status{Path: opts.Path}
	rec, exists, err := ReadRecord(opts.Path)
	if err != nil {
		return st, err
	}
	st.Exists, st.Record = exists, rec

	fl := flock.New(opts.Path + ".flock")
	ok, ferr := fl.TryRLock()
	if ferr == nil {
		st.Held = !ok
		if ok {
			_ = fl.Unlock()
		}
	}
	if exists {
		st.Alive, st.Known = opts.Alive(rec.PID)
		if ferr == nil {
			st.Stale = !st.Held
		} else {
			st.Stale = isStale(rec, opts)
		}
	}
	return st, nil
}

// ClearStale removes a stale record. It refuses while a process holds the lock.
func ClearStale(opts Options) (bool, error) {
	st, err := Inspect(opts)
	if err != nil {
		return false, err
	}
	if !st.Exists {
		return false, nil
	}
	if !st.Stale {
		return false, &HeldError{Path: opts.Path, Owner: st.Record}
	}
	if err := os.Remove(opts.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}
