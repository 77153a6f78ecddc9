package systemd

import (
	"context"
	"testing"
	"time"
)

func TestDisabledNotifierIsNoOp(t *testing.T) {
	var n Notifier
	n.Ready()
	n.Stopping()
	if n.WatchdogInterval() != 0 {
		t.Fatal("disabled notifier must not report a watchdog interval")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog did not return for a disabled notifier")
	}
}

func TestWatchdogIntervalFromEnv(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "4000000")
	t.Setenv("WATCHDOG_PID", "")
	n := Notifier{Enabled: true}
	if got := n.WatchdogInterval(); got != 2*time.Second {
		t.Fatalf("interval = %s, want 2s", got)
	}
}

func TestStatusRunning(t *testing.T) {
	var nilStatus *Status
	if nilStatus.Running() {
		t.Fatal("nil status is not running")
	}
	if !(&Status{Active: "active", SubState: "running"}).Running() {
		t.Fatal("active/running must report running")
	}
}
