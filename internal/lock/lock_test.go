package lock

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	logx "punchclock/pkg/logx"
)

func writeTestRecord(t *testing.T, path string, rec Record) {
	t.Helper()
	b, _ := json.Marshal(rec)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "punchclock.lock")
	l, err := Acquire(Options{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rec, ok, err := ReadRecord(path)
	if err != nil || !ok || rec.PID != os.Getpid() {
		t.Fatalf("record = %+v ok=%v err=%v", rec, ok, err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok, _ := ReadRecord(path); ok {
		t.Fatal("record should be removed on release")
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "punchclock.lock")
	first, err := Acquire(Options{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(Options{Path: path}, logx.Nop())
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire err = %v, want ErrHeld", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.Owner.PID != os.Getpid() {
		t.Fatalf("HeldError owner = %+v", held)
	}

	st, err := Inspect(Options{Path: path})
	if err != nil || !st.Held || st.Stale {
		t.Fatalf("Inspect = %+v, %v", st, err)
	}
}

func TestReusedPIDWithoutAdvisoryLockIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "punchclock.lock")
	// The parent process is alive but never took the advisory lock.
	writeTestRecord(t, path, Record{PID: os.Getppid(), CreatedAt: time.Now().Add(-48 * time.Hour)})

	st, err := Inspect(Options{Path: path})
	if err != nil || st.Held || !st.Stale || !st.Alive {
		t.Fatalf("Inspect = %+v, %v", st, err)
	}
	l, err := Acquire(Options{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Acquire over reused pid: %v", err)
	}
	if l.Record().PID != os.Getpid() {
		t.Fatalf("record pid = %d", l.Record().PID)
	}
	_ = l.Release()
}

func TestStaleRecordIsReplaced(t *testing.T) {
	now := time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		age   time.Duration
		alive bool
		known bool
	}{
		{name: "dead owner", age: time.Minute, alive: false, known: true},
		{name: "unknown and old", age: 25 * time.Hour, known: false},
		{name: "unknown and recent", age: time.Hour, known: false},
		{name: "pid alive", age: 72 * time.Hour, alive: true, known: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "punchclock.lock")
			writeTestRecord(t, path, Record{PID: 999999, CreatedAt: now.Add(-tt.age)})
			opts := Options{
				Path:  path,
				Now:   func() time.Time { return now },
				Alive: func(int) (bool, bool) { return tt.alive, tt.known },
			}
			l, err := Acquire(opts, logx.Nop())
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			defer l.Release()
			if l.Record().PID != os.Getpid() {
				t.Fatalf("record pid = %d", l.Record().PID)
			}
		})
	}
}

func TestTerminatedProcessLockIsStale(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	cmd := exec.Command(exe, "-test.run=^$")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot spawn child: %v", err)
	}
	deadPID := cmd.Process.Pid

	path := filepath.Join(t.TempDir(), "punchclock.lock")
	writeTestRecord(t, path, Record{PID: deadPID, CreatedAt: time.Now()})

	l, err := Acquire(Options{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Acquire over terminated owner: %v", err)
	}
	_ = l.Release()
}

func TestClearStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "punchclock.lock")
	owner, err := Acquire(Options{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := ClearStale(Options{Path: path}); !errors.Is(err, ErrHeld) {
		t.Fatalf("ClearStale while held err = %v", err)
	}
	_ = owner.Release()

	// An old record whose pid now belongs to a live, unrelated process.
	writeTestRecord(t, path, Record{PID: 1234, CreatedAt: time.Now().Add(-48 * time.Hour)})
	removed, err := ClearStale(Options{Path: path, Alive: func(int) (bool, bool) { return true, true }})
	if err != nil || !removed {
		t.Fatalf("ClearStale = %v, %v", removed, err)
	}
	if _, ok, _ := ReadRecord(path); ok {
		t.Fatal("record still present")
	}
}
