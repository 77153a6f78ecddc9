package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"punchclock/internal/eventbus"
	kit "punchclock/internal/transport"
	logx "punchclock/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testConfig() Config {
	return Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, DedupWindow: time.Minute}
}

func TestEscalationsAreForwarded(t *testing.T) {
	bus := eventbus.New()
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	esc := eventbus.Escalation{Severity: eventbus.SeverityCritical, Kind: "weekday_clock_in", Date: "2026-10-21", Reason: "missed_past_cutoff"}
	eventbus.Publish(bus, eventbus.TypeEscalation, esc)
	waitFor(t, func() bool { return len(snd.Sent()) == 1 })

	got := snd.Sent()[0]
	if !strings.Contains(got, "missed past cutoff") || !strings.Contains(got, "weekday_clock_in") {
		t.Fatalf("text = %q", got)
	}
	if !strings.HasPrefix(got, "🚨 ") {
		t.Fatalf("critical escalation without mark: %q", got)
	}
}

func TestDedupSuppressesRepeats(t *testing.T) {
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	n := kit.Notification{Channel: "fake", Priority: 7, Text: "probe unknown"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	waitFor(t, func() bool { return len(snd.Sent()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if len(snd.Sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(snd.Sent()))
	}
}

func TestRetryThenSucceed(t *testing.T) {
	snd := &fakeSender{fails: 2}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), kit.Notification{Channel: "fake", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(snd.Sent()) == 1 })
}

func TestBelowMinSeverityIgnored(t *testing.T) {
	bus := eventbus.New()
	snd := &fakeSender{}
	cfg := testConfig()
	cfg.MinSeverity = eventbus.SeverityCritical
	s := New(cfg, snd, logx.Nop(), bus)
	s.Start(context.Background())

	eventbus.Publish(bus, eventbus.TypeEscalation, eventbus.Escalation{Severity: eventbus.SeverityWarn, Reason: "probe_unknown"})
	eventbus.Publish(bus, eventbus.TypeEscalation, eventbus.Escalation{Severity: eventbus.SeverityCritical, Reason: "storage_failure"})
	waitFor(t, func() bool { return len(snd.Sent()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if sent := snd.Sent(); len(sent) != 1 || !strings.Contains(sent[0], "storage failure") {
		t.Fatalf("sent = %q", sent)
	}
}

func TestDisabledAndStopped(t *testing.T) {
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}

	s = New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}

func TestEscalationRepeatsAreGroupedByProblem(t *testing.T) {
	bus := eventbus.New()
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())

	// The sweep re-raises the same miss with a new run id and detail.
	for i, run := range []string{"r1", "r2", "r3"} {
		eventbus.Publish(bus, eventbus.TypeEscalation, eventbus.Escalation{
			Severity: eventbus.SeverityWarn, Reason: "missed_window", Kind: "weekday_clock_in",
			Date: "2026-10-21", RunID: run, Detail: strings.Repeat("x", i+1),
		})
	}
	eventbus.Publish(bus, eventbus.TypeEscalation, eventbus.Escalation{
		Severity: eventbus.SeverityWarn, Reason: "missed_window", Kind: "weekday_clock_out", Date: "2026-10-21",
	})
	waitFor(t, func() bool { return len(snd.Sent()) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if n := len(snd.Sent()); n != 2 {
		t.Fatalf("sent = %d, want 2", n)
	}
}

func TestDedupWindowAndLimit(t *testing.T) {
	d := newDedup()
	now := time.Date(2026, 10, 21, 7, 0, 0, 0, time.UTC)
	if !d.first("a", now, time.Minute, 2) || d.first("a", now.Add(30*time.Second), time.Minute, 2) {
		t.Fatal("repeat inside window not suppressed")
	}
	if !d.first("a", now.Add(time.Minute), time.Minute, 2) {
		t.Fatal("repeat after window suppressed")
	}
	now = now.Add(2 * time.Minute)
	d.first("b", now, time.Hour, 2)
	d.first("c", now.Add(time.Second), time.Hour, 2)
	d.first("e", now.Add(2*time.Second), time.Hour, 2)
	if len(d.until) != 2 {
		t.Fatalf("entries = %d, want 2", len(d.until))
	}
	if _, ok := d.until["b"]; ok {
		t.Fatal("soonest-expiring entry not evicted")
	}
}

func TestStopAndRestart(t *testing.T) {
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "again"}); err != nil {
		t.Fatalf("Notify after restart: %v", err)
	}
	waitFor(t, func() bool { return len(snd.Sent()) == 1 })
}
