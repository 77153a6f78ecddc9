// Package reconcile detects clock events that should already have happened
// today and either catches them up through the runner or, past their cutoff,
// reconciles the ledger against the externally observed state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/eventbus"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/punch"
	"punchclock/internal/runner"
	"punchclock/internal/task/scheduler"
	logx "punchclock/pkg/logx"
)

// Action is what the sweep did for one kind.
type Action string

const (
	ActionNone     Action = "none"
	ActionNotDue   Action = "not_due"
	ActionCatchUp  Action = "catchup"
	ActionBackfill Action = "backfill"
	ActionSkip     Action = "skip"
)

type Item struct {
	Kind   punch.EventKind
	Action Action
	Detail string
	// Outcome is set for ActionCatchUp.
	Outcome *runner.Outcome
}

type Report struct {
	Date  calendar.Date
	Items []Item
}

type Options struct {
	Runner   *runner.Runner
	Ledger   ledger.Ledger
	Calendar runner.Calendar
	// Executor is only probed, never asked to perform.
	Executor executor.Executor
	// Triggers holds the enabled triggers; missing kinds are ignored.
	Triggers map[punch.EventKind]punch.Trigger
	Bus      eventbus.Bus
	// ProbeTimeout bounds one ProbeState call.
	ProbeTimeout time.Duration
}

type Sweep struct {
	opts Options
	log  logx.Logger
}

func New(opts Options, log logx.Logger) (*Sweep, error) {
	if opts.Runner == nil || opts.Ledger == nil || opts.Calendar == nil || opts.Executor == nil {
		return nil, errors.New("reconcile: runner, ledger, calendar and executor are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Minute
	}
	return &Sweep{opts: opts, log: log.With(logx.String("comp", "reconcile"))}, nil
}

// Job adapts Run to the scheduler callback signature.
func (s *Sweep) Job(ctx context.Context) error {
	_, err := s.Run(ctx)
	return err
}

// Run reconciles today. It returns an error only when the ledger cannot be read
// or written.
func (s *Sweep) Run(ctx context.Context) (Report, error) {
	now := s.opts.Runner.Now()
	day := calendar.DateOf(now)
	rep := Report{Date: day}
	ctx, runID := scheduler.EnsureRunID(ctx)
	log := s.log.With(logx.String("run_id", runID), logx.String("date", day.String()))

	kinds := punch.KindsFor(punch.ClassOf(day.Weekday()))
	if len(kinds) == 0 || !s.opts.Calendar.IsWorkingDay(day) {
		log.Debug("not a working day; nothing to reconcile")
		return rep, nil
	}

	entries, err := s.opts.Ledger.Day(ctx, day)
	if err != nil {
		s.escalate(ctx, day, 0, eventbus.SeverityCritical, "storage_failure", err.Error())
		return rep, fmt.Errorf("%w: %w", runner.ErrStorage, err)
	}
	done := func(k punch.EventKind) bool { return entries[k].Completed }
	if done(kinds[0]) && done(kinds[1]) {
		log.Debug("day complete")
		return rep, nil
	}

	p := &probe{s: s}
	for _, k := range kinds {
		trig, ok := s.opts.Triggers[k]
		if !ok {
			continue
		}
		item := Item{Kind: k, Action: ActionNone}
		switch {
		case done(k):
		case now.Before(trig.Nominal(day, now.Location())):
			item.Action = ActionNotDue
		case now.After(trig.CutoffOn(day, now.Location())):
			item, err = s.pastCutoff(ctx, log, day, trig, done, p)
			if err != nil {
				return rep, err
			}
			if item.Action == ActionBackfill {
				entries[k] = ledger.Entry{Completed: true}
			}
		default:
			out, err := s.opts.Runner.Run(ctx, trig, runner.CatchUp)
			if err != nil {
				return rep, err
			}
			item.Action = ActionCatchUp
			item.Outcome = &out
			item.Detail = out.Result.String()
			if out.Reason != runner.ReasonNone {
				item.Detail += ": " + string(out.Reason)
			}
			if out.Result == runner.Performed {
				entries[k] = ledger.Entry{Completed: true}
			}
		}
		rep.Items = append(rep.Items, item)
	}

	for _, it := range rep.Items {
		if it.Action != ActionNone && it.Action != ActionNotDue {
			log.Info("reconciled", logx.String("kind", it.Kind.String()), logx.String("action", string(it.Action)), logx.String("detail", it.Detail))
		}
	}
	return rep, nil
}

// pastCutoff never performs the action. It backfills only when the probe
// contradicts "nothing happened yet" for this kind.
func (s *Sweep) pastCutoff(ctx context.Context, log logx.Logger, day calendar.Date, trig punch.Trigger, done func(punch.EventKind) bool, p *probe) (Item, error) {
	k := trig.Kind
	item := Item{Kind: k, Action: ActionSkip}

	if k.IsClockOut() && !done(k.Pair()) {
		item.Detail = "paired clock-in missing"
		return item, nil
	}

	st, err := p.get(ctx)
	if err != nil || st == executor.Unknown {
		item.Detail = "external state unknown"
		if err != nil {
			item.Detail += ": " + err.Error()
		}
		log.Warn("past cutoff and external state unknown; skipping", logx.String("kind", k.String()), logx.Err(err))
		s.escalate(ctx, day, k, eventbus.SeverityWarn, "probe_unknown", item.Detail)
		return item, nil
	}

	// The state the external system shows once k has happened.
	after := executor.ClockOutAvailable
	if k.IsClockOut() {
		after = executor.ClockInAvailable
	}
	if st != after {
		item.Detail = "missed; external system shows " + st.String()
		log.Warn("event missed past cutoff", logx.String("kind", k.String()), logx.String("state", st.String()))
		s.escalate(ctx, day, k, eventbus.SeverityCritical, "missed_past_cutoff", item.Detail)
		return item, nil
	}

	ok, err := s.opts.Runner.Backfill(ctx, trig, day)
	if err != nil {
		return item, err
	}
	item.Action = ActionBackfill
	item.Detail = "external system shows " + st.String()
	if !ok {
		item.Action, item.Detail = ActionNone, "already recorded"
	}
	return item, nil
}

func (s *Sweep) escalate(ctx context.Context, day calendar.Date, k punch.EventKind, sev eventbus.Severity, reason, detail string) {
	esc := eventbus.Escalation{
		Severity: sev,
		RunID:    scheduler.RunID(ctx),
		Date:     day.String(),
		Reason:   reason,
		Detail:   detail,
	}
	if k.Valid() {
		esc.Kind = k.String()
	}
	eventbus.Publish(s.opts.Bus, eventbus.TypeEscalation, esc)
}

// probe asks the executor at most once per sweep.
type probe struct {
	s     *Sweep
	done  bool
	state executor.State
	err   error
}

func (p *probe) get(ctx context.Context) (executor.State, error) {
	if p.done {
		return p.state, p.err
	}
	pctx, cancel := context.WithTimeout(ctx, p.s.opts.ProbeTimeout)
	defer cancel()
	p.state, p.err = p.s.opts.Executor.ProbeState(pctx)
	p.done = true
	return p.state, p.err
}
