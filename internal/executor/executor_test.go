package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	logx "punchclock/pkg/logx"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	path := filepath.Join(t.TempDir(), "action.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseDirectionAndState(t *testing.T) {
	t.Parallel()
	dirs := map[string]Direction{"in": ClockIn, "Entrada": ClockIn, "out": ClockOut, "salida": ClockOut, "none": None, "": None}
	for in, want := range dirs {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Fatalf("ParseDirection(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
	states := map[string]State{"in": ClockInAvailable, "clock_out_available": ClockOutAvailable, "unknown": Unknown, "garbage": Unknown}
	for in, want := range states {
		if got := ParseState(in); got != want {
			t.Fatalf("ParseState(%q) = %v", in, got)
		}
	}
}

func TestCommandProbeAndPerform(t *testing.T) {
	script := writeScript(t, `
case "$1" in
  probe) echo "checking..."; echo "$PROBE_ANSWER" ;;
  perform) echo "$2 done" ;;
  *) echo "bad args" >&2; exit 2 ;;
esac
`)
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("PROBE_ANSWER=salida\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := NewCommand(CommandConfig{Command: script, EnvFile: envFile, Timeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	st, err := c.ProbeState(context.Background())
	if err != nil || st != ClockOutAvailable {
		t.Fatalf("ProbeState = %v, %v", st, err)
	}
	d, err := c.PerformAction(context.Background(), ClockIn)
	if err != nil || d != ClockIn {
		t.Fatalf("PerformAction = %v, %v", d, err)
	}
}

func TestCommandFailures(t *testing.T) {
	t.Run("exit status", func(t *testing.T) {
		c, _ := NewCommand(CommandConfig{Command: writeScript(t, "echo boom >&2; exit 3\n")}, logx.Nop())
		if _, err := c.PerformAction(context.Background(), ClockIn); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("timeout", func(t *testing.T) {
		c, _ := NewCommand(CommandConfig{Command: writeScript(t, "exec sleep 5\n"), Timeout: 100 * time.Millisecond}, logx.Nop())
		_, err := c.PerformAction(context.Background(), ClockIn)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	})
	t.Run("bad answer", func(t *testing.T) {
		c, _ := NewCommand(CommandConfig{Command: writeScript(t, "echo maybe\n")}, logx.Nop())
		if d, err := c.PerformAction(context.Background(), ClockIn); err == nil || d != None {
			t.Fatalf("PerformAction = %v, %v", d, err)
		}
	})
	t.Run("not configured", func(t *testing.T) {
		if _, err := NewCommand(CommandConfig{}, logx.Nop()); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestCommandMinInterval(t *testing.T) {
	c, _ := NewCommand(CommandConfig{Command: writeScript(t, "echo in\n"), MinInterval: 300 * time.Millisecond}, logx.Nop())
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := c.ProbeState(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if took := time.Since(start); took < 250*time.Millisecond {
		t.Fatalf("two calls took %s; min interval not enforced", took)
	}
}

type countingExecutor struct {
	mu     sync.Mutex
	probes int
	state  State
}

func (c *countingExecutor) ProbeState(context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes++
	return c.state, nil
}

func (c *countingExecutor) PerformAction(_ context.Context, d Direction) (Direction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d == ClockIn {
		c.state = ClockOutAvailable
	}
	return d, nil
}

func TestCachedProbe(t *testing.T) {
	inner := &countingExecutor{state: ClockInAvailable}
	c := NewCached(inner, time.Minute)
	now := time.Date(2026, 10, 21, 7, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if st, _ := c.ProbeState(context.Background()); st != ClockInAvailable {
			t.Fatalf("state = %v", st)
		}
	}
	if inner.probes != 1 {
		t.Fatalf("probes = %d, want 1", inner.probes)
	}

	if _, err := c.PerformAction(context.Background(), ClockIn); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.ProbeState(context.Background()); st != ClockOutAvailable || inner.probes != 2 {
		t.Fatalf("after perform: state = %v, probes = %d", st, inner.probes)
	}

	now = now.Add(2 * time.Minute)
	c.ProbeState(context.Background())
	if inner.probes != 3 {
		t.Fatalf("expired entry not refreshed: probes = %d", inner.probes)
	}
}

func TestCachedDoesNotCacheUnknown(t *testing.T) {
	inner := &countingExecutor{state: Unknown}
	c := NewCached(inner, time.Minute)
	c.ProbeState(context.Background())
	c.ProbeState(context.Background())
	if inner.probes != 2 {
		t.Fatalf("probes = %d, want 2", inner.probes)
	}
}
