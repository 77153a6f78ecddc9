package config

// Default returns a complete config with every default spelled out.
// "punchclock config init" writes it as a starting point.
func Default() *Config {
	onStart := true
	return &Config{
		Logging:  LoggingConfig{Level: "info", Console: true, File: LoggingFile{Path: "./data/punchclock.log"}},
		Timezone: "America/Bogota",
		Schedule: ScheduleConfig{
			WeekdayClockIn:   &TriggerConfig{At: "07:00", Days: "mon-fri", Tolerance: "15m", Cutoff: "12:00"},
			WeekdayClockOut:  &TriggerConfig{At: "17:00", Days: "mon-fri", Tolerance: "15m", Cutoff: "23:00"},
			SaturdayClockIn:  &TriggerConfig{At: "07:00", Days: "sat", Tolerance: "15m", Cutoff: "12:00"},
			SaturdayClockOut: &TriggerConfig{At: "13:00", Days: "sat", Tolerance: "15m", Cutoff: "23:00"},
		},
		Reconcile: ReconcileConfig{Spec: "30 * * * *", OnStart: &onStart},
		Runner:    RunnerConfig{Cooldown: "5m", JitterMax: "0s", ActionTimeout: "3m"},
		Calendar:  CalendarConfig{Country: "CO", RestDay: "sunday"},
		Ledger:    LedgerConfig{Driver: "file", Path: "./data/ledger.json", RetentionDays: 30},
		Lock:      LockConfig{Path: "./data/punchclock.lock", StaleAfter: "24h"},
		Executor: ExecutorConfig{
			Command:       "./bin/punch-action",
			EnvFile:       ".env",
			Timeout:       "2m",
			ProbeCacheTTL: "60s",
			MinInterval:   "1s",
			BreakerTrip:   3,
			BreakerBase:   "1m",
			BreakerMax:    "10m",
		},
		Notifier: &NotifierConfig{RatePerSec: 1, DedupWindow: "30m", RetryMax: 2, RetryBase: "2s", MinSeverity: "warn"},
		Systemd:  SystemdConfig{Notify: true},
	}
}
