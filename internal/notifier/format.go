package notifier

import (
	"strings"

	"punchclock/internal/eventbus"
)

// FormatEscalation renders an escalation as a short plain-text message.
func FormatEscalation(e eventbus.Escalation) string {
	var b strings.Builder
	b.WriteString(severityMark(e.Severity))
	b.WriteString("punchclock ")
	b.WriteString(e.Severity.String())
	b.WriteString(": ")
	b.WriteString(strings.ReplaceAll(e.Reason, "_", " "))
	for _, line := range [][2]string{{"event", e.Kind}, {"date", e.Date}, {"", e.Detail}, {"run", e.RunID}} {
		if line[1] == "" {
			continue
		}
		b.WriteByte('\n')
		if line[0] != "" {
			b.WriteString(line[0] + ": ")
		}
		b.WriteString(line[1])
	}
	return b.String()
}

// escalationKey groups repeats of the same problem; the hourly sweep re-raises
// a missed event with a fresh run id and detail every time.
func escalationKey(e eventbus.Escalation) string {
	return strings.Join([]string{e.Severity.String(), e.Reason, e.Kind, e.Date}, "|")
}

func severityMark(s eventbus.Severity) string {
	switch s {
	case eventbus.SeverityCritical:
		return "🚨 "
	case eventbus.SeverityWarn:
		return "⚠️ "
	}
	return "ℹ️ "
}

func priorityFor(s eventbus.Severity) int {
	switch s {
	case eventbus.SeverityCritical:
		return 9
	case eventbus.SeverityWarn:
		return 7
	}
	return 5
}
