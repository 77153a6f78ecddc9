package config

import (
	"reflect"
	"strings"

	logx "punchclock/pkg/logx"
)

// ConfigChange summarizes a reload.
type ConfigChange struct {
	// Sections lists changed top-level sections.
	Sections []string
	// Attrs are safe log fields (never secrets such as tokens).
	Attrs []logx.Field
	// RestartRequired lists changed sections that only apply after a restart.
	RestartRequired []string
}

func (c ConfigChange) Empty() bool { return len(c.Sections) == 0 }

// Sections applied live by the running engine. Everything else needs a restart,
// because triggers and storage are fixed for the process lifetime.
var liveSections = map[string]bool{
	"logging":  true,
	"runner":   true,
	"notifier": true,
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ConfigChange {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch ConfigChange
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if !liveSections[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		mark("timezone", logx.String("timezone", newCfg.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		mark("schedule")
	}
	if !reflect.DeepEqual(oldCfg.Reconcile, newCfg.Reconcile) {
		mark("reconcile", logx.String("reconcile.spec", newCfg.Reconcile.Spec))
	}
	if oldCfg.Runner != newCfg.Runner {
		mark("runner",
			logx.String("runner.cooldown", newCfg.Runner.Cooldown),
			logx.String("runner.jitter_max", newCfg.Runner.JitterMax),
		)
	}
	if !reflect.DeepEqual(oldCfg.Calendar, newCfg.Calendar) {
		mark("calendar",
			logx.String("calendar.country", newCfg.Calendar.Country),
			logx.Int("calendar.extra_holidays", len(newCfg.Calendar.ExtraHolidays)),
		)
	}
	if oldCfg.Ledger != newCfg.Ledger {
		mark("ledger", logx.String("ledger.driver", newCfg.Ledger.Driver))
	}
	if oldCfg.Lock != newCfg.Lock {
		mark("lock")
	}
	if !reflect.DeepEqual(oldCfg.Executor, newCfg.Executor) {
		mark("executor", logx.String("executor.command", newCfg.Executor.Command))
	}
	if !reflect.DeepEqual(notifierOrZero(oldCfg.Notifier), notifierOrZero(newCfg.Notifier)) {
		n := notifierOrZero(newCfg.Notifier)
		mark("notifier",
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Bool("notifier.token_set", strings.TrimSpace(n.Telegram.Token) != ""),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		mark("systemd")
	}
	return ch
}

func notifierOrZero(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
