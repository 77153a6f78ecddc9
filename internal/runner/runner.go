package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/eventbus"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/punch"
	"punchclock/internal/task/scheduler"
	logx "punchclock/pkg/logx"
)

type Options struct {
	Ledger   ledger.Ledger
	Calendar Calendar
	Executor executor.Executor
	Location *time.Location

	Cooldown time.Duration
	// ActionTimeout bounds one PerformAction call; 0 leaves it to the executor.
	ActionTimeout time.Duration

	Bus eventbus.Bus
	Now func() time.Time
}

// Runner evaluates the gates for one event kind at a time. Runs of the same kind
// are serialized; different kinds proceed concurrently.
type Runner struct {
	log  logx.Logger
	led  ledger.Ledger
	cal  Calendar
	exec executor.Executor
	loc  *time.Location
	bus  eventbus.Bus
	now  func() time.Time

	cooldown      atomic.Int64
	actionTimeout time.Duration

	kinds map[punch.EventKind]*sync.Mutex
}

func New(opts Options, log logx.Logger) (*Runner, error) {
	if opts.Ledger == nil || opts.Calendar == nil || opts.Executor == nil {
		return nil, errors.New("runner: ledger, calendar and executor are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Runner{
		log:           log.With(logx.String("comp", "runner")),
		led:           opts.Ledger,
		cal:           opts.Calendar,
		exec:          opts.Executor,
		loc:           opts.Location,
		bus:           opts.Bus,
		now:           opts.Now,
		actionTimeout: opts.ActionTimeout,
		kinds:         make(map[punch.EventKind]*sync.Mutex, len(punch.Kinds)),
	}
	for _, k := range punch.Kinds {
		r.kinds[k] = &sync.Mutex{}
	}
	cd := opts.Cooldown
	if cd <= 0 {
		cd = DefaultCooldown
	}
	r.cooldown.Store(int64(cd))
	return r, nil
}

// SetCooldown swaps the cooldown window; used on config reload.
func (r *Runner) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	r.cooldown.Store(int64(d))
}

func (r *Runner) Cooldown() time.Duration { return time.Duration(r.cooldown.Load()) }

func (r *Runner) Location() *time.Location { return r.loc }

// Now returns the current time in the engine location.
func (r *Runner) Now() time.Time { return r.now().In(r.loc) }

// Today is the current calendar date in the engine location.
func (r *Runner) Today() calendar.Date { return calendar.DateOf(r.Now()) }

func (r *Runner) lockKind(k punch.EventKind) func() {
	mu, ok := r.kinds[k]
	if !ok {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

// Run applies the gates for trig on today's date and, when all pass, performs the
// action and records it. Gate rejections and executor failures are reported in
// the Outcome with a nil error; only ledger failures return an error.
func (r *Runner) Run(ctx context.Context, trig punch.Trigger, mode Mode) (Outcome, error) {
	if !trig.Kind.Valid() {
		return Outcome{}, fmt.Errorf("runner: invalid kind %d", int(trig.Kind))
	}
	unlock := r.lockKind(trig.Kind)
	defer unlock()

	ctx, runID := scheduler.EnsureRunID(ctx)
	now := r.Now()
	day := calendar.DateOf(now)
	out := Outcome{RunID: runID, Date: day, Kind: trig.Kind, Mode: mode}
	log := r.log.With(
		logx.String("run_id", runID),
		logx.String("kind", trig.Kind.String()),
		logx.String("date", day.String()),
		logx.String("mode", mode.String()),
	)

	reason, err := r.gates(ctx, trig, mode, day, now)
	if err != nil {
		return r.storageFailure(out, log, err)
	}
	if reason != ReasonNone {
		return r.reject(out, log, reason), nil
	}

	expected := trig.Kind.Direction()
	actx := ctx
	if r.actionTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.actionTimeout)
		defer cancel()
	}
	log.Info("gates passed; performing action", logx.String("expected", expected.String()))
	performed, err := r.exec.PerformAction(actx, expected)
	out.Performed = performed
	if err != nil {
		out.Result, out.Reason = Failed, ReasonExecutorFailed
		log.Error("action failed; ledger untouched", logx.String("expected", expected.String()), logx.Err(err))
		r.escalate(out, eventbus.SeverityWarn, err.Error())
		return out, nil
	}
	if performed == executor.None {
		out.Result, out.Reason = Failed, ReasonNotPerformed
		log.Warn("executor performed nothing; ledger untouched", logx.String("expected", expected.String()))
		r.escalate(out, eventbus.SeverityWarn, "executor reported no action for "+expected.String())
		return out, nil
	}

	// The recorded kind is the one implied by what was actually performed.
	actual, ok := punch.KindFor(punch.ClassOf(day.Weekday()), performed)
	if !ok || actual != trig.Kind {
		out.Result, out.Reason = Failed, ReasonMismatch
		log.Error("executor performed a different direction; not recorded",
			logx.String("expected", expected.String()),
			logx.String("performed", performed.String()),
		)
		r.escalate(out, eventbus.SeverityCritical,
			fmt.Sprintf("asked for %s, executor reported %s", expected, performed))
		return out, nil
	}

	at := r.Now()
	out.At = at
	out.Drift = trig.DriftMinutes(day, at)
	if err := r.led.RecordCompletion(ctx, ledger.Completion{
		Date:         day,
		Kind:         actual,
		At:           at,
		DriftMinutes: out.Drift,
		Source:       mode.source(),
	}); err != nil {
		return r.storageFailure(out, log, err)
	}
	out.Result = Performed
	log.Info("completion recorded", logx.Int("drift_minutes", out.Drift), logx.Time("at", at))
	eventbus.Publish(r.bus, eventbus.TypeCompleted, eventbus.Completed{
		RunID:  runID,
		Date:   day.String(),
		Kind:   actual.String(),
		At:     at,
		Drift:  out.Drift,
		Source: string(mode.source()),
	})
	return out, nil
}

// gates returns the first failing gate's reason, or ReasonNone.
func (r *Runner) gates(ctx context.Context, trig punch.Trigger, mode Mode, day calendar.Date, now time.Time) (Reason, error) {
	done, err := r.led.IsCompleted(ctx, day, trig.Kind)
	if err != nil {
		return ReasonNone, err
	}
	if done {
		return ReasonAlreadyDone, nil
	}

	since, ok, err := r.led.TimeSinceLastCompletion(ctx, day, now)
	if err != nil {
		return ReasonNone, err
	}
	if ok && since < r.Cooldown() {
		return ReasonCooldown, nil
	}

	if !r.cal.IsWorkingDay(day) {
		return ReasonNonWorkingDay, nil
	}
	if punch.ClassOf(day.Weekday()) != trig.Kind.Class() {
		return ReasonWrongDayClass, nil
	}

	if trig.Kind.IsClockOut() {
		in, err := r.led.IsCompleted(ctx, day, trig.Kind.Pair())
		if err != nil {
			return ReasonNone, err
		}
		if !in {
			return ReasonMissingClockIn, nil
		}
	}

	if mode == Scheduled && !trig.InWindow(day, now) {
		return ReasonOutsideWindow, nil
	}
	return ReasonNone, nil
}

func (r *Runner) reject(out Outcome, log logx.Logger, reason Reason) Outcome {
	out.Result, out.Reason = Rejected, reason
	switch reason {
	case ReasonAlreadyDone, ReasonNonWorkingDay, ReasonWrongDayClass:
		log.Info("run skipped", logx.String("reason", string(reason)))
	default:
		log.Warn("run rejected", logx.String("reason", string(reason)))
	}
	eventbus.Publish(r.bus, eventbus.TypeRejected, eventbus.Rejected{
		RunID:  out.RunID,
		Date:   out.Date.String(),
		Kind:   out.Kind.String(),
		Reason: string(reason),
	})
	return out
}

func (r *Runner) storageFailure(out Outcome, log logx.Logger, err error) (Outcome, error) {
	out.Result, out.Reason = Failed, ReasonStorage
	if out.Performed != executor.None {
		log.Error("action performed but ledger write failed", logx.String("performed", out.Performed.String()), logx.Err(err))
		r.escalate(out, eventbus.SeverityCritical, "action performed but not recorded: "+err.Error())
	} else {
		log.Error("ledger unavailable; run aborted", logx.Err(err))
		r.escalate(out, eventbus.SeverityCritical, err.Error())
	}
	return out, fmt.Errorf("%w: %w", ErrStorage, err)
}

func (r *Runner) escalate(out Outcome, sev eventbus.Severity, detail string) {
	eventbus.Publish(r.bus, eventbus.TypeEscalation, eventbus.Escalation{
		Severity: sev,
		RunID:    out.RunID,
		Date:     out.Date.String(),
		Kind:     out.Kind.String(),
		Reason:   string(out.Reason),
		Detail:   detail,
	})
}

// Backfill records kind as completed on day without invoking the executor. It is
// used when the external system shows the event already happened. A kind that is
// already recorded is left alone and reported as false.
func (r *Runner) Backfill(ctx context.Context, trig punch.Trigger, day calendar.Date) (bool, error) {
	unlock := r.lockKind(trig.Kind)
	defer unlock()
	ctx, runID := scheduler.EnsureRunID(ctx)

	done, err := r.led.IsCompleted(ctx, day, trig.Kind)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if done {
		return false, nil
	}
	at := r.Now()
	c := ledger.Completion{
		Date:         day,
		Kind:         trig.Kind,
		At:           at,
		DriftMinutes: trig.DriftMinutes(day, at),
		Source:       ledger.SourceBackfill,
	}
	if err := r.led.RecordCompletion(ctx, c); err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	r.log.Warn("completion backfilled from external state",
		logx.String("run_id", runID),
		logx.String("kind", trig.Kind.String()),
		logx.String("date", day.String()),
	)
	eventbus.Publish(r.bus, eventbus.TypeCompleted, eventbus.Completed{
		RunID:  runID,
		Date:   day.String(),
		Kind:   trig.Kind.String(),
		At:     at,
		Drift:  c.DriftMinutes,
		Source: string(ledger.SourceBackfill),
	})
	return true, nil
}
