package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/config"
	"punchclock/internal/eventbus"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/punch"
	"punchclock/internal/runner"
	logx "punchclock/pkg/logx"
)

var cot = time.FixedZone("COT", -5*3600)

type fakeExecutor struct {
	mu       sync.Mutex
	state    executor.State
	probeErr error
	probes   int
	performs int
}

func (f *fakeExecutor) ProbeState(context.Context) (executor.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.state, f.probeErr
}

func (f *fakeExecutor) PerformAction(_ context.Context, d executor.Direction) (executor.Direction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.performs++
	return d, nil
}

func triggers() map[punch.EventKind]punch.Trigger {
	mk := func(k punch.EventKind, at, cutoff int) punch.Trigger {
		return punch.Trigger{Kind: k, At: config.Clock{Hour: at}, Tolerance: 15 * time.Minute, Cutoff: config.Clock{Hour: cutoff}}
	}
	return map[punch.EventKind]punch.Trigger{
		punch.WeekdayClockIn:   mk(punch.WeekdayClockIn, 7, 12),
		punch.WeekdayClockOut:  mk(punch.WeekdayClockOut, 17, 23),
		punch.SaturdayClockIn:  mk(punch.SaturdayClockIn, 7, 12),
		punch.SaturdayClockOut: mk(punch.SaturdayClockOut, 13, 23),
	}
}

type harness struct {
	sweep *Sweep
	exec  *fakeExecutor
	led   ledger.Ledger
	bus   eventbus.Bus
	now   time.Time
}

func newHarness(t *testing.T, now time.Time, state executor.State) *harness {
	t.Helper()
	led, err := ledger.Open(ledger.Config{Path: filepath.Join(t.TempDir(), "ledger.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = led.Close() })

	h := &harness{exec: &fakeExecutor{state: state}, led: led, bus: eventbus.New(), now: now}
	cal := calendar.New(calendar.Options{Rules: calendar.Colombia, RestDay: time.Sunday})
	r, err := runner.New(runner.Options{
		Ledger:   led,
		Calendar: cal,
		Executor: h.exec,
		Location: cot,
		Bus:      h.bus,
		Now:      func() time.Time { return h.now },
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	h.sweep, err = New(Options{
		Runner:   r,
		Ledger:   led,
		Calendar: cal,
		Executor: h.exec,
		Triggers: triggers(),
		Bus:      h.bus,
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) record(t *testing.T, k punch.EventKind, at time.Time) {
	t.Helper()
	err := h.led.RecordCompletion(context.Background(), ledger.Completion{Date: calendar.DateOf(at), Kind: k, At: at, Source: ledger.SourceScheduled})
	if err != nil {
		t.Fatal(err)
	}
}

func (h *harness) sweepOnce(t *testing.T) Report {
	t.Helper()
	rep, err := h.sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	return rep
}

func actions(rep Report) []Action {
	out := make([]Action, 0, len(rep.Items))
	for _, it := range rep.Items {
		out = append(out, it.Action)
	}
	return out
}

func wed(hour, minute int) time.Time { return time.Date(2026, 10, 21, hour, minute, 0, 0, cot) }

func TestLateStartCatchesUpClockIn(t *testing.T) {
	h := newHarness(t, wed(9, 0), executor.ClockInAvailable)
	rep := h.sweepOnce(t)

	got := actions(rep)
	if len(got) != 2 || got[0] != ActionCatchUp || got[1] != ActionNotDue {
		t.Fatalf("actions = %v", got)
	}
	if out := rep.Items[0].Outcome; out == nil || out.Result != runner.Performed || out.Drift != 120 {
		t.Fatalf("outcome = %+v", rep.Items[0].Outcome)
	}
	if h.exec.performs != 1 || h.exec.probes != 0 {
		t.Fatalf("performs = %d, probes = %d", h.exec.performs, h.exec.probes)
	}

	// The next hourly sweep must not act again.
	h.now = wed(9, 30)
	rep = h.sweepOnce(t)
	if got := actions(rep); got[0] != ActionNone || got[1] != ActionNotDue {
		t.Fatalf("second sweep actions = %v", got)
	}
	if h.exec.performs != 1 {
		t.Fatalf("performs = %d after second sweep", h.exec.performs)
	}
}

func TestPastCutoffDecisions(t *testing.T) {
	tests := []struct {
		name     string
		state    executor.State
		probeErr error
		action   Action
		reason   string
		recorded bool
	}{
		{"external clock-in happened", executor.ClockOutAvailable, nil, ActionBackfill, "", true},
		{"nothing happened", executor.ClockInAvailable, nil, ActionSkip, "missed_past_cutoff", false},
		{"unknown", executor.Unknown, nil, ActionSkip, "probe_unknown", false},
		{"probe error", executor.Unknown, executor.ErrTimeout, ActionSkip, "probe_unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, wed(13, 0), tt.state)
			h.exec.probeErr = tt.probeErr
			events, unsub := h.bus.Subscribe(8)
			defer unsub()

			rep := h.sweepOnce(t)
			if rep.Items[0].Action != tt.action {
				t.Fatalf("action = %s (%s)", rep.Items[0].Action, rep.Items[0].Detail)
			}
			if h.exec.performs != 0 {
				t.Fatalf("executor performed %d actions past cutoff", h.exec.performs)
			}
			day, err := h.led.Day(context.Background(), rep.Date)
			if err != nil {
				t.Fatal(err)
			}
			e, ok := day[punch.WeekdayClockIn]
			if ok != tt.recorded {
				t.Fatalf("recorded = %v, want %v", ok, tt.recorded)
			}
			if ok && e.Source != ledger.SourceBackfill {
				t.Fatalf("source = %s", e.Source)
			}
			if tt.reason == "" {
				return
			}
			select {
			case ev := <-events:
				if esc, _ := ev.Data.(eventbus.Escalation); esc.Reason != tt.reason {
					t.Fatalf("escalation = %+v", ev.Data)
				}
			case <-time.After(time.Second):
				t.Fatal("no escalation")
			}
		})
	}
}

func TestPastCutoffClockOutBackfill(t *testing.T) {
	h := newHarness(t, wed(23, 30), executor.ClockInAvailable)
	h.record(t, punch.WeekdayClockIn, wed(7, 2))

	rep := h.sweepOnce(t)
	if got := actions(rep); got[0] != ActionNone || got[1] != ActionBackfill {
		t.Fatalf("actions = %v", got)
	}
	if h.exec.probes != 1 || h.exec.performs != 0 {
		t.Fatalf("probes = %d, performs = %d", h.exec.probes, h.exec.performs)
	}
}

func TestClockOutPastCutoffWithoutClockInIsSkipped(t *testing.T) {
	h := newHarness(t, wed(23, 30), executor.ClockInAvailable)
	rep := h.sweepOnce(t)
	got := actions(rep)
	if got[0] != ActionSkip || got[1] != ActionSkip {
		t.Fatalf("actions = %v", got)
	}
	if rep.Items[1].Detail != "paired clock-in missing" {
		t.Fatalf("detail = %q", rep.Items[1].Detail)
	}
	if h.exec.probes != 1 {
		t.Fatalf("probes = %d, want one probe per sweep", h.exec.probes)
	}
}

func TestCompleteDayIsANoOp(t *testing.T) {
	h := newHarness(t, wed(18, 30), executor.Unknown)
	h.record(t, punch.WeekdayClockIn, wed(7, 0))
	h.record(t, punch.WeekdayClockOut, wed(17, 1))

	if rep := h.sweepOnce(t); len(rep.Items) != 0 {
		t.Fatalf("items = %+v", rep.Items)
	}
	if h.exec.probes != 0 || h.exec.performs != 0 {
		t.Fatalf("executor touched: probes = %d, performs = %d", h.exec.probes, h.exec.performs)
	}
}

func TestNonWorkingDays(t *testing.T) {
	for _, at := range []time.Time{
		time.Date(2026, 12, 8, 9, 0, 0, 0, cot),  // holiday
		time.Date(2026, 10, 25, 9, 0, 0, 0, cot), // Sunday
	} {
		h := newHarness(t, at, executor.ClockInAvailable)
		if rep := h.sweepOnce(t); len(rep.Items) != 0 {
			t.Fatalf("%s: items = %+v", at.Format("2006-01-02"), rep.Items)
		}
		if h.exec.performs != 0 {
			t.Fatalf("%s: performs = %d", at.Format("2006-01-02"), h.exec.performs)
		}
	}
}

func TestSaturdayUsesSaturdayKinds(t *testing.T) {
	h := newHarness(t, time.Date(2026, 10, 24, 8, 0, 0, 0, cot), executor.ClockInAvailable)
	rep := h.sweepOnce(t)
	if len(rep.Items) != 2 || rep.Items[0].Kind != punch.SaturdayClockIn || rep.Items[0].Action != ActionCatchUp {
		t.Fatalf("items = %+v", rep.Items)
	}
}
