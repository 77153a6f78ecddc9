package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"punchclock/internal/calendar"
	"punchclock/internal/config"
	"punchclock/internal/eventbus"
	"punchclock/internal/executor"
	"punchclock/internal/ledger"
	"punchclock/internal/lock"
	"punchclock/internal/notifier"
	"punchclock/internal/punch"
	"punchclock/internal/task/scheduler"
	kit "punchclock/internal/transport"
	logx "punchclock/pkg/logx"
)

const defaultReconcileSpec = "30 * * * *"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func loadLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// triggerConfig returns the configured entry for k, falling back to the default
// entry when the section omits it.
func triggerConfig(cfg *config.Config, k punch.EventKind) config.TriggerConfig {
	pick := func(s config.ScheduleConfig) *config.TriggerConfig {
		switch k {
		case punch.WeekdayClockIn:
			return s.WeekdayClockIn
		case punch.WeekdayClockOut:
			return s.WeekdayClockOut
		case punch.SaturdayClockIn:
			return s.SaturdayClockIn
		case punch.SaturdayClockOut:
			return s.SaturdayClockOut
		}
		return nil
	}
	if tc := pick(cfg.Schedule); tc != nil {
		return *tc
	}
	return *pick(config.Default().Schedule)
}

// mapTriggers builds the enabled triggers. Disabled kinds are absent from the map.
func mapTriggers(cfg *config.Config) (map[punch.EventKind]punch.Trigger, error) {
	def := config.Default().Schedule
	out := make(map[punch.EventKind]punch.Trigger, len(punch.Kinds))
	for _, k := range punch.Kinds {
		tc := triggerConfig(cfg, k)
		if tc.Disabled {
			continue
		}
		path := "schedule." + k.String()
		defTC := triggerConfig(&config.Config{Schedule: def}, k)

		at, err := config.ParseClock(path+".at", tc.At)
		if err != nil {
			return nil, err
		}
		tol, err := config.ParseDurationOrDefault(path+".tolerance", tc.Tolerance, 15*time.Minute)
		if err != nil {
			return nil, err
		}
		if tol < 0 {
			return nil, fmt.Errorf("%s.tolerance must be >= 0", path)
		}
		defCutoff, _ := config.ParseClock(path+".cutoff", defTC.Cutoff)
		cutoff, err := config.ParseClockOrDefault(path+".cutoff", tc.Cutoff, defCutoff)
		if err != nil {
			return nil, err
		}
		if cutoff.Minutes() <= at.Minutes() {
			return nil, fmt.Errorf("%s.cutoff %s must be after at %s", path, cutoff, at)
		}
		days := strings.TrimSpace(tc.Days)
		if days == "" {
			days = defTC.Days
		}
		if _, err := scheduler.DailySpec(at.Hour, at.Minute, days); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := checkDays(k, days); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out[k] = punch.Trigger{Kind: k, At: at, Days: days, Tolerance: tol, Cutoff: cutoff}
	}
	return out, nil
}

// checkDays rejects a day field that fires on days of another class; the runner
// would reject every such fire anyway.
func checkDays(k punch.EventKind, days string) error {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		ok, err := scheduler.MatchesDay(days, wd)
		if err != nil {
			return err
		}
		if ok && punch.ClassOf(wd) != k.Class() {
			return fmt.Errorf("days %q includes %s, which is not a %s", days, wd, k.Class())
		}
	}
	return nil
}

type runnerSettings struct {
	Cooldown      time.Duration
	JitterMax     time.Duration
	ActionTimeout time.Duration
}

func mapRunner(cfg *config.Config) (runnerSettings, error) {
	var rs runnerSettings
	var err error
	if rs.Cooldown, err = config.ParseDurationOrDefault("runner.cooldown", cfg.Runner.Cooldown, 5*time.Minute); err != nil {
		return rs, err
	}
	if rs.JitterMax, err = config.ParseDurationOrDefault("runner.jitter_max", cfg.Runner.JitterMax, 0); err != nil {
		return rs, err
	}
	if rs.ActionTimeout, err = config.ParseDurationOrDefault("runner.action_timeout", cfg.Runner.ActionTimeout, 3*time.Minute); err != nil {
		return rs, err
	}
	if rs.Cooldown < 0 || rs.JitterMax < 0 || rs.ActionTimeout < 0 {
		return rs, fmt.Errorf("runner durations must be >= 0")
	}
	return rs, nil
}

func mapCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	rules, err := calendar.LookupRuleSet(cfg.Calendar.Country)
	if err != nil {
		return nil, fmt.Errorf("calendar.country: %w", err)
	}
	rest, err := calendar.ParseWeekday(cfg.Calendar.RestDay)
	if err != nil {
		return nil, fmt.Errorf("calendar.rest_day: %w", err)
	}
	extra := make([]calendar.Date, 0, len(cfg.Calendar.ExtraHolidays))
	for i, s := range cfg.Calendar.ExtraHolidays {
		d, err := calendar.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("calendar.extra_holidays[%d]: %w", i, err)
		}
		extra = append(extra, d)
	}
	return calendar.New(calendar.Options{Rules: rules, RestDay: rest, Extra: extra}), nil
}

func mapLedgerConfig(cfg *config.Config) (ledger.Config, error) {
	lc := cfg.Ledger
	path := strings.TrimSpace(lc.Path)
	if path == "" {
		path = config.Default().Ledger.Path
	}
	busy, err := config.ParseDurationOrDefault("ledger.busy_timeout", lc.BusyTimeout, 0)
	if err != nil {
		return ledger.Config{}, err
	}
	if lc.RetentionDays < 0 {
		return ledger.Config{}, fmt.Errorf("ledger.retention_days must be >= 0")
	}
	return ledger.Config{Driver: lc.Driver, Path: path, RetentionDays: lc.RetentionDays, BusyTimeout: busy}, nil
}

func mapLockOptions(cfg *config.Config) (lock.Options, error) {
	path := strings.TrimSpace(cfg.Lock.Path)
	if path == "" {
		lp := strings.TrimSpace(cfg.Ledger.Path)
		if lp == "" {
			lp = config.Default().Ledger.Path
		}
		path = filepath.Join(filepath.Dir(lp), "punchclock.lock")
	}
	stale, err := config.ParseDurationOrDefault("lock.stale_after", cfg.Lock.StaleAfter, lock.DefaultStaleAfter)
	if err != nil {
		return lock.Options{}, err
	}
	return lock.Options{Path: path, StaleAfter: stale}, nil
}

type executorSettings struct {
	Command  executor.CommandConfig
	CacheTTL time.Duration
	Breaker  executor.BreakerConfig
}

func mapExecutorConfig(cfg *config.Config) (executorSettings, error) {
	ec := cfg.Executor
	var es executorSettings
	timeout, err := config.ParseDurationOrDefault("executor.timeout", ec.Timeout, executor.DefaultTimeout)
	if err != nil {
		return es, err
	}
	minInterval, err := config.ParseDurationOrDefault("executor.min_interval", ec.MinInterval, executor.DefaultMinInterval)
	if err != nil {
		return es, err
	}
	es.CacheTTL, err = config.ParseDurationOrDefault("executor.probe_cache_ttl", ec.ProbeCacheTTL, executor.DefaultProbeCacheTTL)
	if err != nil {
		return es, err
	}
	es.Breaker.Trip = ec.BreakerTrip
	es.Breaker.BaseDelay, err = config.ParseDurationOrDefault("executor.breaker_base", ec.BreakerBase, time.Minute)
	if err != nil {
		return es, err
	}
	es.Breaker.MaxDelay, err = config.ParseDurationOrDefault("executor.breaker_max", ec.BreakerMax, 10*time.Minute)
	if err != nil {
		return es, err
	}
	if es.Breaker.MaxDelay < es.Breaker.BaseDelay {
		return es, fmt.Errorf("executor.breaker_max (%s) must be >= executor.breaker_base (%s)", es.Breaker.MaxDelay, es.Breaker.BaseDelay)
	}
	es.Command = executor.CommandConfig{
		Command:     strings.TrimSpace(ec.Command),
		Args:        ec.Args,
		EnvFile:     strings.TrimSpace(ec.EnvFile),
		Timeout:     timeout,
		MinInterval: minInterval,
	}
	return es, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	nc := cfg.Notifier
	if nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: queue_size, rate_per_sec and retry_max must be >= 0")
	}
	dedup, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 30*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 2*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	minSev, err := eventbus.ParseSeverity(nc.MinSeverity)
	if err != nil {
		return notifier.Config{}, fmt.Errorf("notifier.min_severity: %w", err)
	}
	if nc.Enabled {
		if strings.TrimSpace(nc.Telegram.Token) == "" {
			return notifier.Config{}, fmt.Errorf("notifier.telegram.token is required when notifier.enabled is true")
		}
		if nc.Telegram.ChatID == 0 {
			return notifier.Config{}, fmt.Errorf("notifier.telegram.chat_id is required when notifier.enabled is true")
		}
	}
	return notifier.Config{
		Enabled:     nc.Enabled,
		Target:      kit.ChatTarget{ChatID: nc.Telegram.ChatID, ThreadID: nc.Telegram.ThreadID},
		QueueSize:   nc.QueueSize,
		RatePerSec:  nc.RatePerSec,
		RetryMax:    nc.RetryMax,
		RetryBase:   retryBase,
		DedupWindow: dedup,
		MinSeverity: minSev,
	}, nil
}

func reconcileSpec(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Reconcile.Spec); s != "" {
		return s
	}
	return defaultReconcileSpec
}

func reconcileOnStart(cfg *config.Config) bool {
	return cfg.Reconcile.OnStart == nil || *cfg.Reconcile.OnStart
}

// Validate rejects a config the engine cannot run. It is installed as the config
// manager validator, so a bad hot reload is refused before it is committed.
func Validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := loadLocation(cfg); err != nil {
		return err
	}
	trigs, err := mapTriggers(cfg)
	if err != nil {
		return err
	}
	rs, err := mapRunner(cfg)
	if err != nil {
		return err
	}
	for _, t := range trigs {
		if rs.JitterMax > t.Tolerance {
			return fmt.Errorf("runner.jitter_max %s exceeds schedule.%s.tolerance %s", rs.JitterMax, t.Kind, t.Tolerance)
		}
	}
	if err := scheduler.ValidateSpec(reconcileSpec(cfg)); err != nil {
		return fmt.Errorf("reconcile.spec: %w", err)
	}
	if _, err := mapCalendar(cfg); err != nil {
		return err
	}
	if _, err := mapLedgerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLockOptions(cfg); err != nil {
		return err
	}
	if _, err := mapExecutorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	return nil
}
