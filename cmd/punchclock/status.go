package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"punchclock/internal/app"
	"punchclock/internal/calendar"
	"punchclock/internal/ledger"
	"punchclock/internal/lock"
	"punchclock/internal/punch"
	"punchclock/internal/report"
	"punchclock/internal/task/scheduler"
	"punchclock/pkg/systemd"
)

func newStatusCmd(f *rootFlags) *cobra.Command {
	var (
		days int
		unit string
	)
	c := &cobra.Command{
		Use:   "status",
		Short: "Show lock owner, next triggers and the last days of the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(f)
			if err != nil {
				return err
			}
			defer eng.Stop(context.Background(), app.StopRequested)
			return printStatus(cmd.Context(), cmd.OutOrStdout(), eng, days, unit)
		},
	}
	c.Flags().IntVar(&days, "days", 7, "number of days to show")
	c.Flags().StringVar(&unit, "unit", "", "also show this systemd unit's state")
	return c
}

func printStatus(ctx context.Context, w io.Writer, eng *app.Engine, days int, unit string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loc := eng.Location()
	now := time.Now().In(loc)
	today := calendar.DateOf(now)
	cal := eng.Calendar()

	dayNote := "working day"
	if name, ok := cal.Holiday(today); ok {
		dayNote = "holiday: " + name
	} else if !cal.IsWorkingDay(today) {
		dayNote = "rest day"
	}
	fmt.Fprintf(w, "now:   %s (%s, %s)\n", now.Format("2006-01-02 15:04 MST"), strings.ToLower(today.Weekday().String()), dayNote)
	fmt.Fprintf(w, "next working day: %s\n", cal.NextWorkingDay(today))

	lo, err := eng.LockOptions()
	if err != nil {
		return err
	}
	st, err := lock.Inspect(lo)
	if err != nil {
		fmt.Fprintf(w, "lock:  %s unreadable: %v\n", lo.Path, err)
	} else {
		fmt.Fprintf(w, "lock:  %s\n", describeLock(st))
	}

	if unit != "" {
		us, err := systemd.UnitStatus(ctx, unit)
		switch {
		case errors.Is(err, systemd.ErrUnsupported):
			fmt.Fprintf(w, "unit:  %s (not supported on this platform)\n", unit)
		case err != nil:
			fmt.Fprintf(w, "unit:  %s: %v\n", unit, err)
		default:
			fmt.Fprintf(w, "unit:  %s %s/%s pid=%d since %s\n", us.Unit, us.Active, us.SubState, us.MainPID, us.Since.In(loc).Format("2006-01-02 15:04"))
		}
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIGGER\tAT\tDAYS\tNEXT")
	for _, k := range punch.Kinds {
		trig, ok := eng.Trigger(k)
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t-\tdisabled\n", k)
			continue
		}
		next := "-"
		if spec, err := scheduler.DailySpec(trig.At.Hour, trig.At.Minute, trig.Days); err == nil {
			if runs, err := scheduler.NextRuns(spec, now, 1); err == nil && len(runs) > 0 {
				next = runs[0].Format("2006-01-02 15:04")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k, trig.At, trig.Days, next)
	}
	_ = tw.Flush()

	led, err := eng.OpenLedger()
	if err != nil {
		return err
	}
	defer led.Close()
	rows, err := report.Days(ctx, led, cal, today, days)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCLASS\tIN\tOUT\tWORKED\tNOTE")
	suspicious := 0
	for _, r := range rows {
		in, out := "-", "-"
		if kinds := punch.KindsFor(r.Class); len(kinds) == 2 {
			in = formatEntry(r.Entries[kinds[0]], loc)
			out = formatEntry(r.Entries[kinds[1]], loc)
		}
		worked := "-"
		if r.Worked > 0 {
			worked = r.Worked.Round(time.Minute).String()
		}
		var notes []string
		if r.Holiday != "" {
			notes = append(notes, r.Holiday)
		} else if !r.Working {
			notes = append(notes, "rest day")
		}
		if r.Suspicious {
			suspicious++
			notes = append(notes, fmt.Sprintf("SUSPICIOUS: out less than %s after in", report.SuspiciousInterval))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Date, r.Class, in, out, worked, strings.Join(notes, "; "))
	}
	_ = tw.Flush()
	if suspicious > 0 {
		fmt.Fprintf(w, "\n%d suspicious interval(s)\n", suspicious)
	}
	return nil
}

func formatEntry(e ledger.Entry, loc *time.Location) string {
	if !e.Completed {
		return "-"
	}
	s := e.At().In(loc).Format("15:04")
	if e.DriftMinutes != 0 {
		s += fmt.Sprintf(" (%+dm)", e.DriftMinutes)
	}
	if e.Source != "" && e.Source != ledger.SourceScheduled {
		s += " [" + string(e.Source) + "]"
	}
	return s
}

func describeLock(st lock.Status) string {
	if !st.Exists {
		if st.Held {
			return "held (no record)"
		}
		return "free"
	}
	owner := fmt.Sprintf("pid %d", st.Record.PID)
	if st.Record.Host != "" {
		owner += "@" + st.Record.Host
	}
	owner += " since " + st.Record.CreatedAt.Format(time.RFC3339)
	switch {
	case st.Held:
		return "held by " + owner
	case st.Stale:
		return "stale record from " + owner + " (run `punchclock lock clear`)"
	case st.Known && st.Alive:
		return "record from " + owner + " (process alive, lock not held)"
	default:
		return "record from " + owner
	}
}
