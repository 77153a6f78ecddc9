// Package app wires the punch engine: config, logging, instance lock, ledger,
// executor, runner, scheduler, reconciliation sweep and operator notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/config"
	"punchclock/internal/eventbus"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/lock"
	"punchclock/internal/notifier"
	"punchclock/internal/punch"
	"punchclock/internal/reconcile"
	"punchclock/internal/runner"
	"punchclock/internal/runtime/supervisor"
	"punchclock/internal/task/scheduler"
	kit "punchclock/internal/transport"
	"punchclock/internal/transport/telegram"
	logx "punchclock/pkg/logx"
	"punchclock/pkg/systemd"
)

// ReconcileTrigger is the scheduler name of the reconciliation sweep.
const ReconcileTrigger = "reconcile"

type Options struct {
	ConfigPath string
	// Config, when set, is used instead of reading ConfigPath. Hot reload still
	// watches ConfigPath when it is non-empty.
	Config *config.Config

	// Executor replaces the configured command executor (tests).
	Executor executor.Executor
	// Sender replaces the Telegram sender.
	Sender kit.Sender
	Now    func() time.Time
	// LogStderr routes console logs to stderr (CLI subcommands).
	LogStderr bool
}

type Engine struct {
	opts Options

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sd   systemd.Notifier

	loc      *time.Location
	cal      *calendar.Calendar
	triggers map[punch.EventKind]punch.Trigger
	rs       runnerSettings

	sched *scheduler.Service
	notif *notifier.Service

	mu     sync.Mutex
	sup    *supervisor.Supervisor
	lk     *lock.Lock
	led    ledger.Ledger
	exec   executor.Executor
	runner *runner.Runner
	sweep  *reconcile.Sweep
}

// New loads and validates the config and builds the components that need no
// exclusive resources. Nothing is scheduled until Start.
func New(opts Options) (*Engine, error) {
	cfgm := config.NewManager(opts.ConfigPath, Validate)

	cfg := opts.Config
	if cfg != nil {
		if err := Validate(context.Background(), cfg); err != nil {
			return nil, err
		}
		cfgm.Commit(cfg)
	} else {
		var err error
		if cfg, err = cfgm.Load(context.Background()); err != nil {
			return nil, fmt.Errorf("config %s: %w", opts.ConfigPath, err)
		}
	}

	lc := mapLogConfig(cfg)
	lc.Stderr = opts.LogStderr
	logSvc, log := logx.New(lc)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	loc, err := loadLocation(cfg)
	if err != nil {
		return nil, err
	}
	cal, err := mapCalendar(cfg)
	if err != nil {
		return nil, err
	}
	trigs, err := mapTriggers(cfg)
	if err != nil {
		return nil, err
	}
	rs, err := mapRunner(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{Location: loc}, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := opts.Sender
	if sender == nil && ncfg.Enabled {
		tg, err := telegram.New(telegram.Config{Token: cfg.Notifier.Telegram.Token}, log)
		if err != nil {
			return nil, err
		}
		sender = tg
	}
	notif := notifier.New(ncfg, sender, log, bus)

	return &Engine{
		opts:     opts,
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		sd:       systemd.Notifier{Enabled: cfg.Systemd.Notify, Log: log.With(logx.String("comp", "systemd"))},
		loc:      loc,
		cal:      cal,
		triggers: trigs,
		rs:       rs,
		sched:    sched,
		notif:    notif,
	}, nil
}

func (e *Engine) Config() *config.Config        { return e.cfgm.Get() }
func (e *Engine) Logger() logx.Logger           { return e.log }
func (e *Engine) Bus() eventbus.Bus             { return e.bus }
func (e *Engine) Location() *time.Location      { return e.loc }
func (e *Engine) Calendar() *calendar.Calendar  { return e.cal }
func (e *Engine) Scheduler() *scheduler.Service { return e.sched }

// Trigger returns the enabled trigger of k.
func (e *Engine) Trigger(k punch.EventKind) (punch.Trigger, bool) {
	t, ok := e.triggers[k]
	return t, ok
}

// Runner is nil before Open.
func (e *Engine) Runner() *runner.Runner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runner
}

func (e *Engine) Ledger() ledger.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led
}

func (e *Engine) Executor() executor.Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exec
}

func (e *Engine) Sweep() *reconcile.Sweep {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweep
}

// Open takes the instance lock and opens the ledger and executor. A second
// engine sharing the lock path gets an error matching lock.ErrHeld and has
// touched nothing.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lk != nil {
		return nil
	}
	cfg := e.cfgm.Get()

	lopts, err := mapLockOptions(cfg)
	if err != nil {
		return err
	}
	lopts.Now = e.opts.Now
	lk, err := lock.Acquire(lopts, e.log.With(logx.String("comp", "lock")))
	if err != nil {
		return err
	}

	lc, err := mapLedgerConfig(cfg)
	if err != nil {
		_ = lk.Release()
		return err
	}
	led, err := ledger.Open(lc, e.log.With(logx.String("comp", "ledger")))
	if err != nil {
		_ = lk.Release()
		return err
	}

	exec := e.opts.Executor
	if exec == nil {
		if exec, err = BuildExecutor(cfg, e.log); err != nil {
			_ = led.Close()
			_ = lk.Release()
			return err
		}
	}

	r, err := runner.New(runner.Options{
		Ledger:        led,
		Calendar:      e.cal,
		Executor:      exec,
		Location:      e.loc,
		Cooldown:      e.rs.Cooldown,
		ActionTimeout: e.rs.ActionTimeout,
		Bus:           e.bus,
		Now:           e.opts.Now,
	}, e.log)
	if err != nil {
		_ = led.Close()
		_ = lk.Release()
		return err
	}
	sw, err := reconcile.New(reconcile.Options{
		Runner:   r,
		Ledger:   led,
		Calendar: e.cal,
		Executor: exec,
		Triggers: e.triggers,
		Bus:      e.bus,
	}, e.log)
	if err != nil {
		_ = led.Close()
		_ = lk.Release()
		return err
	}

	e.lk, e.led, e.exec, e.runner, e.sweep = lk, led, exec, r, sw
	return nil
}

// LockOptions returns the configured instance lock location.
func (e *Engine) LockOptions() (lock.Options, error) {
	lo, err := mapLockOptions(e.cfgm.Get())
	lo.Now = e.opts.Now
	return lo, err
}

// OpenLedger opens the configured ledger without taking the instance lock.
// Callers that write must check the lock first.
func (e *Engine) OpenLedger() (ledger.Ledger, error) {
	lc, err := mapLedgerConfig(e.cfgm.Get())
	if err != nil {
		return nil, err
	}
	return ledger.Open(lc, e.log.With(logx.String("comp", "ledger")))
}

// BuildExecutor returns the configured command executor behind a failure
// breaker and a probe cache, or an executor that always fails with ErrUnavailable when no command is set.
func BuildExecutor(cfg *config.Config, log logx.Logger) (executor.Executor, error) {
	es, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	cmd, err := executor.NewCommand(es.Command, log)
	if errors.Is(err, executor.ErrUnavailable) {
		log.Warn("executor.command not set; every action will fail")
		return executor.Unavailable{}, nil
	}
	if err != nil {
		return nil, err
	}
	return executor.NewCached(executor.NewBreaker(cmd, es.Breaker), es.CacheTTL), nil
}

// Start opens the engine, registers the triggers and the sweep and begins
// firing them.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Open(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log), supervisor.WithCancelOnError(true))
	sup, sweep := e.sup, e.sweep
	e.mu.Unlock()

	cfg := e.cfgm.Get()
	for _, k := range punch.Kinds {
		trig, ok := e.triggers[k]
		if !ok {
			e.log.Info("trigger disabled", logx.String("kind", k.String()))
			continue
		}
		if err := e.registerTrigger(trig); err != nil {
			return err
		}
	}
	if err := e.sched.Add(ReconcileTrigger, reconcileSpec(cfg), 0, sweep.Job); err != nil {
		return err
	}
	if err := e.sched.Start(sup.Context()); err != nil {
		return err
	}
	e.notif.Start(sup.Context())

	// READY follows the startup sweep so "active" means today's state was reconciled.
	ready := func() {
		e.sd.Ready()
		e.sd.Status("waiting for triggers")
	}
	if reconcileOnStart(cfg) {
		sup.Go0("reconcile.startup", func(c context.Context) {
			if err := e.sched.Run(c, ReconcileTrigger); err != nil && !errors.Is(err, scheduler.ErrOverlapSkip) {
				e.log.Warn("startup reconciliation failed", logx.Err(err))
			}
			ready()
		})
	} else {
		ready()
	}

	events, unsub := e.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		e.logEvents(c, events)
	})

	updates, stopUpdates := e.cfgm.Updates()
	sup.Go0("config.reload", func(c context.Context) {
		defer stopUpdates()
		e.reloadLoop(c, updates)
	})
	if strings.TrimSpace(e.cfgm.Path()) != "" {
		sup.Go("config.watch", func(c context.Context) error {
			return e.cfgm.Watch(c)
		})
	}

	sup.Go0("systemd.watchdog", func(c context.Context) {
		e.sd.Watchdog(c, func() bool { return sup.Err() == nil })
	})

	e.log.Info("engine started",
		logx.String("tz", e.loc.String()),
		logx.Int("triggers", e.sched.Len()),
		logx.Duration("cooldown", e.rs.Cooldown),
		logx.Duration("jitter_max", e.rs.JitterMax),
	)
	return nil
}

// registerTrigger schedules trig at nominal - jitter_max; the job then waits
// until nominal + the day's jitter before running.
func (e *Engine) registerTrigger(trig punch.Trigger) error {
	lead := int((e.rs.JitterMax + time.Minute - 1) / time.Minute)
	fire := trig.At.Minutes() - lead
	if fire < 0 {
		fire = 0
	}
	timeout := e.rs.ActionTimeout + 2*e.rs.JitterMax + time.Minute
	return e.sched.AddDaily(trig.Kind.String(), fire/60, fire%60, trig.Days, timeout, func(ctx context.Context) error {
		r := e.Runner()
		now := r.Now()
		day := calendar.DateOf(now)
		at := trig.Nominal(day, e.loc).Add(punch.Jitter(trig.Kind, day, e.rs.JitterMax))
		if wait := at.Sub(now); wait > 0 && e.rs.JitterMax > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		_, err := r.Run(ctx, trig, runner.Scheduled)
		return err
	})
}

func (e *Engine) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch d := ev.Data.(type) {
			case eventbus.Escalation:
				lvl := logx.LevelWarn
				if d.Severity == eventbus.SeverityCritical {
					lvl = logx.LevelError
				}
				e.log.Log(lvl, "escalation",
					logx.String("severity", d.Severity.String()),
					logx.String("reason", d.Reason),
					logx.String("kind", d.Kind),
					logx.String("date", d.Date),
					logx.String("detail", d.Detail),
				)
			case eventbus.Completed:
				e.sd.Status(fmt.Sprintf("last: %s %s", d.Kind, d.At.In(e.loc).Format("2006-01-02 15:04")))
			default:
				e.log.Trace("event", logx.String("type", ev.Type), logx.Time("time", ev.Time))
			}
		}
	}
}

func (e *Engine) reloadLoop(ctx context.Context, updates <-chan *config.Config) {
	lastApplied := e.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-updates:
			if !ok {
				return
			}
			ch := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if ch.Empty() {
				e.log.Info("config reloaded (no changes)")
				continue
			}
			e.applyConfig(ctx, newCfg)
			if len(ch.RestartRequired) > 0 {
				e.log.Warn("config sections changed; restart required for changes to take effect",
					logx.String("sections", strings.Join(ch.RestartRequired, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
			e.log.Info("config reloaded", fields...)
		}
	}
}

// applyConfig applies the sections that can change while running.
func (e *Engine) applyConfig(ctx context.Context, cfg *config.Config) {
	lc := mapLogConfig(cfg)
	lc.Stderr = e.opts.LogStderr
	if err := e.logs.Apply(lc); err != nil {
		e.log.Warn("log file unavailable; console only", logx.Err(err))
	}

	if rs, err := mapRunner(cfg); err != nil {
		e.log.Warn("invalid runner config; keeping previous", logx.Err(err))
	} else if r := e.Runner(); r != nil {
		r.SetCooldown(rs.Cooldown)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		e.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := e.notif.Enabled()
	e.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		e.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		e.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		e.log.Info("notifier enabled via config")
		e.notif.Start(ctx)
	}
}

// Done is closed when the engine supervisor is cancelled (fatal error or Stop).
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	sup := e.sup
	e.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup == nil {
		return nil
	}
	return e.sup.Err()
}

// Stop shuts everything down in reverse order. Each step is bounded so one
// component cannot stall the rest. The instance lock is released last.
func (e *Engine) Stop(ctx context.Context, reason StopReason) error {
	e.mu.Lock()
	sup, led, lk := e.sup, e.led, e.lk
	e.mu.Unlock()
	if lk == nil {
		if e.logs != nil {
			_ = e.logs.Close()
		}
		return nil
	}
	e.log.Info("stopping", logx.String("reason", string(reason)))
	e.sd.Stopping()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				e.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
				return
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				e.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			e.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			e.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { e.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { e.notif.Stop(c); return nil })
	// Scheduler and notifier run under the supervisor context, so it is only
	// cancelled once both have drained.
	if sup != nil {
		sup.Cancel()
		step("supervisor", 2*time.Second, func(c context.Context) error { return sup.Wait(c) })
	}
	step("ledger", time.Second, func(context.Context) error { return led.Close() })
	step("lock", time.Second, func(context.Context) error { return lk.Release() })

	e.mu.Lock()
	e.lk, e.led = nil, nil
	e.mu.Unlock()

	e.log.Info("stopped")
	if e.logs != nil {
		_ = e.logs.Close()
	}
	return nil
}
