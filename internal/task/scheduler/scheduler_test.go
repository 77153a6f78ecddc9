package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"punchclock/internal/eventbus"
	logx "punchclock/pkg/logx"
)

func TestDailySpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		hour, minute int
		days         string
		want         string
		wantErr      bool
	}{
		{hour: 7, minute: 0, days: "mon-fri", want: "0 7 * * mon-fri"},
		{hour: 13, minute: 30, days: "sat", want: "30 13 * * sat"},
		{hour: 17, minute: 5, days: "", want: "5 17 * * *"},
		{hour: 24, minute: 0, days: "sat", wantErr: true},
		{hour: 7, minute: 0, days: "someday", wantErr: true},
		{hour: 7, minute: 0, days: "mon fri", wantErr: true},
	}
	for _, tt := range tests {
		got, err := DailySpec(tt.hour, tt.minute, tt.days)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("DailySpec(%d,%d,%q) expected error", tt.hour, tt.minute, tt.days)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("DailySpec(%d,%d,%q) = %q, %v; want %q", tt.hour, tt.minute, tt.days, got, err, tt.want)
		}
	}
}

func TestValidateSpecRejectsIntervals(t *testing.T) {
	t.Parallel()
	if err := ValidateSpec("@every 1h"); err == nil {
		t.Fatal("expected @every to be rejected")
	}
	for _, ok := range []string{"30 * * * *", "@hourly", "0 30 * * * *"} {
		if err := ValidateSpec(ok); err != nil {
			t.Fatalf("ValidateSpec(%q): %v", ok, err)
		}
	}
}

func TestMatchesDay(t *testing.T) {
	t.Parallel()
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		got, err := MatchesDay("mon-fri", wd)
		if err != nil {
			t.Fatal(err)
		}
		want := wd != time.Saturday && wd != time.Sunday
		if got != want {
			t.Fatalf("MatchesDay(mon-fri, %s) = %v", wd, got)
		}
	}
	if ok, _ := MatchesDay("sat", time.Saturday); !ok {
		t.Fatal("sat should match Saturday")
	}
}

func TestNextRunsInLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("COT", -5*3600)
	from := time.Date(2026, 10, 16, 18, 0, 0, 0, loc) // Friday evening
	runs, err := NextRuns("0 7 * * mon-fri", from, 2)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].Format("2006-01-02 15:04") != "2026-10-19 07:00" || runs[1].Day() != 20 {
		t.Fatalf("runs = %v", runs)
	}
}

func TestRunIsSingleFlight(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	err := s.Add("slow", "0 7 * * *", 0, func(ctx context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), "slow") }()
	<-entered

	if err := s.Run(context.Background(), "slow"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("overlapping Run err = %v, want ErrOverlapSkip", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	snap := s.Snapshot()
	if len(snap.History) != 2 || !snap.History[0].Skipped {
		t.Fatalf("history = %+v", snap.History)
	}
}

func TestPanicIsRecoveredPerTrigger(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	_ = s.Add("boom", "0 7 * * *", 0, func(ctx context.Context) error { panic("kaboom") })
	_ = s.Add("fine", "0 8 * * *", 0, func(ctx context.Context) error { return nil })

	if err := s.Run(context.Background(), "boom"); err == nil {
		t.Fatal("panic should surface as an error")
	}
	// The trigger is released after a panic and can run again.
	if err := s.Run(context.Background(), "boom"); errors.Is(err, ErrOverlapSkip) {
		t.Fatal("state not released after panic")
	}
	if err := s.Run(context.Background(), "fine"); err != nil {
		t.Fatalf("other trigger: %v", err)
	}

	panicked := 0
	for len(events) > 0 {
		if ev := <-events; ev.Type == EventPanicked {
			panicked++
		}
	}
	if panicked != 2 {
		t.Fatalf("panicked events = %d, want 2", panicked)
	}
}

func TestAddRejectsDuplicatesAndUnknownRun(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	job := func(ctx context.Context) error { return nil }
	if err := s.Add("a", "0 7 * * *", 0, job); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("a", "0 8 * * *", 0, job); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate err = %v", err)
	}
	if err := s.Run(context.Background(), "missing"); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("unknown err = %v", err)
	}
}

func TestRunCarriesRunIDAndTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	var gotID string
	_ = s.Add("t", "0 7 * * *", 20*time.Millisecond, func(ctx context.Context) error {
		gotID = RunID(ctx)
		<-ctx.Done()
		return ctx.Err()
	})
	err := s.Run(context.Background(), "t")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if len(gotID) != 8 {
		t.Fatalf("run id = %q", gotID)
	}
}

func TestSlowTriggerDoesNotBlockOthers(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for real cron ticks")
	}
	s := New(Config{}, logx.Nop(), nil)
	block := make(chan struct{})
	var fast atomic.Int32
	_ = s.Add("slow", "* * * * * *", 0, func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	_ = s.Add("fast", "* * * * * *", 0, func(ctx context.Context) error {
		fast.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(4 * time.Second)
	for fast.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if fast.Load() < 2 {
		t.Fatalf("fast trigger fired %d times while slow trigger was blocked", fast.Load())
	}
}

func TestRunIDIsEmptyUntilAttached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if id := RunID(ctx); id != "" {
		t.Fatalf("RunID on bare ctx = %q", id)
	}
	ctx, id := EnsureRunID(ctx)
	if len(id) != 8 || RunID(ctx) != id {
		t.Fatalf("EnsureRunID = %q, RunID = %q", id, RunID(ctx))
	}
	if _, again := EnsureRunID(ctx); again != id {
		t.Fatalf("EnsureRunID replaced %q with %q", id, again)
	}
}
