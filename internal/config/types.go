package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Timezone is an IANA zone name. Every wall-clock decision (triggers, "today",
	// cutoffs, holiday lookups) is evaluated in this zone.
	Timezone string `json:"timezone,omitempty"`

	Schedule  ScheduleConfig  `json:"schedule"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Runner    RunnerConfig    `json:"runner"`
	Calendar  CalendarConfig  `json:"calendar"`
	Ledger    LedgerConfig    `json:"ledger"`
	Lock      LockConfig      `json:"lock"`
	Executor  ExecutorConfig  `json:"executor"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Systemd  SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScheduleConfig holds one trigger per event kind. Omitted kinds use defaults.
type ScheduleConfig struct {
	WeekdayClockIn   *TriggerConfig `json:"weekday_clock_in,omitempty"`
	WeekdayClockOut  *TriggerConfig `json:"weekday_clock_out,omitempty"`
	SaturdayClockIn  *TriggerConfig `json:"saturday_clock_in,omitempty"`
	SaturdayClockOut *TriggerConfig `json:"saturday_clock_out,omitempty"`
}

// TriggerConfig describes a recurring trigger.
//
// Example:
//
//	"weekday_clock_in": { "at": "07:00", "days": "mon-fri", "tolerance": "15m", "cutoff": "12:00" }
type TriggerConfig struct {
	// At is the nominal local time, "HH:MM".
	At string `json:"at"`
	// Days is a cron day-of-week field ("mon-fri", "sat", "1-5").
	Days string `json:"days,omitempty"`
	// Tolerance is the ± window around At inside which a scheduled fire may act.
	Tolerance string `json:"tolerance,omitempty"`
	// Cutoff is the latest local time ("HH:MM") for a reconciliation catch-up.
	Cutoff string `json:"cutoff,omitempty"`
	// Disabled skips registering the trigger. The reconciliation sweep ignores it too.
	Disabled bool `json:"disabled,omitempty"`
}

type ReconcileConfig struct {
	// Spec is a cron expression; default "30 * * * *".
	Spec string `json:"spec,omitempty"`
	// OnStart runs a sweep right after startup. Pointer so "omitted" defaults to true.
	OnStart *bool `json:"on_start,omitempty"`
}

type RunnerConfig struct {
	Cooldown string `json:"cooldown,omitempty"`
	// JitterMax spreads scheduled actions deterministically within ±JitterMax of the
	// nominal time. Must not exceed the trigger tolerance. "0s" disables.
	JitterMax string `json:"jitter_max,omitempty"`
	// ActionTimeout bounds one executor call made by the runner.
	ActionTimeout string `json:"action_timeout,omitempty"`
}

type CalendarConfig struct {
	// Country selects the holiday rule set ("CO", "none").
	Country string `json:"country,omitempty"`
	// RestDay is the weekly day off ("sunday").
	RestDay string `json:"rest_day,omitempty"`
	// ExtraHolidays are additional YYYY-MM-DD dates treated as holidays.
	ExtraHolidays []string `json:"extra_holidays,omitempty"`
}

// LedgerConfig controls where completions are persisted.
//
// Example:
//
//	"ledger": { "driver": "file", "path": "./data/ledger.json" }
type LedgerConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
}

type LockConfig struct {
	// Path defaults to "<ledger dir>/punchclock.lock".
	Path       string `json:"path,omitempty"`
	StaleAfter string `json:"stale_after,omitempty"`
}

// ExecutorConfig configures the command that performs and probes the external action.
//
// The command is invoked as "<command> <args...> probe" and
// "<command> <args...> perform <in|out|none>" and must print one word on stdout.
type ExecutorConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	// EnvFile is a dotenv file merged into the command environment (credentials).
	EnvFile       string `json:"env_file,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	ProbeCacheTTL string `json:"probe_cache_ttl,omitempty"`
	// MinInterval is the minimum gap between two command invocations.
	MinInterval string `json:"min_interval,omitempty"`
	// BreakerTrip consecutive failures suspend the command for BreakerBase,
	// doubling up to BreakerMax. Negative disables it.
	BreakerTrip int    `json:"breaker_trip,omitempty"`
	BreakerBase string `json:"breaker_base,omitempty"`
	BreakerMax  string `json:"breaker_max,omitempty"`
}

// NotifierConfig controls operator escalation messages.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled     bool           `json:"enabled"`
	Telegram    TelegramConfig `json:"telegram"`
	QueueSize   int            `json:"queue_size,omitempty"`
	RatePerSec  int            `json:"rate_per_sec,omitempty"`
	DedupWindow string         `json:"dedup_window,omitempty"`
	RetryMax    int            `json:"retry_max,omitempty"`
	RetryBase   string         `json:"retry_base,omitempty"`
	// MinSeverity drops escalations below "info", "warn" or "critical".
	MinSeverity string `json:"min_severity,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
