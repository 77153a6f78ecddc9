package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"punchclock/internal/eventbus"
	logx "punchclock/pkg/logx"
)

// Add registers a cron trigger. Names are unique; triggers cannot be replaced.
// timeout bounds each run (0 = none).
func (s *Service) Add(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: name required")
	}
	if job == nil {
		return errors.New("scheduler: job required")
	}
	if err := ValidateSpec(spec); err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byName[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	t := &trigger{name: name, spec: strings.TrimSpace(spec), timeout: timeout, job: job, state: &runState{}}
	if s.c != nil {
		if err := s.registerLocked(t); err != nil {
			return err
		}
	}
	s.triggers = append(s.triggers, t)
	s.byName[name] = t
	return nil
}

// AddDaily registers a trigger at hour:minute on the cron day-of-week field days
// ("mon-fri", "sat", "*").
func (s *Service) AddDaily(name string, hour, minute int, days string, timeout time.Duration, job Job) error {
	spec, err := DailySpec(hour, minute, days)
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	return s.Add(name, spec, timeout, job)
}

// Len returns the number of registered triggers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// Run invokes a trigger synchronously in the caller's goroutine, honoring the
// single-flight rule. It returns ErrOverlapSkip when the trigger is running.
func (s *Service) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	t := s.byName[name]
	s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	return s.execute(ctx, t)
}

// fire is the cron callback. robfig/cron runs each callback on its own goroutine.
func (s *Service) fire(t *trigger) {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	_ = s.execute(ctx, t)
}

func (s *Service) execute(ctx context.Context, t *trigger) (err error) {
	runID := NewRunID()
	start := time.Now()

	if !t.state.tryAcquire() {
		s.log.Warn("trigger skipped: previous run still in flight", logx.String("trigger", t.name), logx.String("run_id", runID))
		s.publish(EventSkipped, RunEvent{RunID: runID, Name: t.name, Started: start})
		s.remember(HistoryItem{RunID: runID, Name: t.name, Started: start, Skipped: true})
		return ErrOverlapSkip
	}

	runCtx := WithRunID(ctx, runID)
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, t.timeout)
	}
	s.publish(EventStarted, RunEvent{RunID: runID, Name: t.name, Started: start})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in trigger %s: %v", t.name, r)
			s.log.Error("trigger panicked",
				logx.String("trigger", t.name),
				logx.String("run_id", runID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			s.publish(EventPanicked, RunEvent{RunID: runID, Name: t.name, Started: start, Error: err.Error()})
		}
		if cancel != nil {
			cancel()
		}
		dur := time.Since(start)
		t.state.release(start, err)

		item := HistoryItem{RunID: runID, Name: t.name, Started: start, Duration: dur}
		if err != nil {
			item.Error = err.Error()
			s.log.Warn("trigger failed", logx.String("trigger", t.name), logx.String("run_id", runID), logx.Duration("dur", dur), logx.Err(err))
		} else {
			s.log.Debug("trigger finished", logx.String("trigger", t.name), logx.String("run_id", runID), logx.Duration("dur", dur))
		}
		s.publish(EventFinished, RunEvent{RunID: runID, Name: t.name, Started: start, Duration: dur, Error: item.Error})
		s.remember(item)
	}()

	s.log.Debug("trigger started", logx.String("trigger", t.name), logx.String("run_id", runID))
	return t.job(runCtx)
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Service) remember(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// Snapshot returns trigger state and recent history for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Timezone: s.loc.String()}
	for _, t := range s.triggers {
		info := TriggerInfo{Name: t.name, Spec: t.spec}
		if s.c != nil {
			e := s.c.Entry(t.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		} else if sched, err := s.parser.Parse(t.spec); err == nil {
			info.Next = sched.Next(time.Now().In(s.loc))
		}
		info.Running, info.LastRun, info.LastErr = t.state.snapshot()
		snap.Triggers = append(snap.Triggers, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
