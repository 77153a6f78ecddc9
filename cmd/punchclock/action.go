package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"punchclock/internal/app"
	"punchclock/internal/calendar"
	"punchclock/internal/executor"
	"punchclock/internal/lock"
	"punchclock/internal/punch"
	"punchclock/internal/report"
	"punchclock/internal/runner"
)

const probeTimeout = 2 * time.Minute

func newProbeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Ask the external system for its state and compare it with today's ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(f)
			if err != nil {
				return err
			}
			defer eng.Stop(context.Background(), app.StopRequested)

			exec, err := app.BuildExecutor(eng.Config(), eng.Logger())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			state, err := exec.ProbeState(ctx)
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}

			led, err := eng.OpenLedger()
			if err != nil {
				return err
			}
			defer led.Close()
			today := calendar.DateOf(time.Now().In(eng.Location()))
			day, err := led.Day(ctx, today)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			finding, ok := report.CompareProbe(day, punch.ClassOf(today.Weekday()), state)
			fmt.Fprintf(w, "date:     %s\nobserved: %s\nexpected: %s\n", today, finding.Observed, finding.Expected)
			if ok {
				fmt.Fprintln(w, "ledger and external system agree")
				return nil
			}
			fmt.Fprintf(w, "INCONSISTENT: %s\n", finding.Detail)
			return errors.New("ledger and external system disagree")
		},
	}
}

func newPerformCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "perform in|out",
		Short: "Perform today's clock action now through the runner gates (recorded as manual)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := executor.ParseDirection(args[0])
			if err != nil || dir == executor.None {
				return fmt.Errorf("direction must be in or out, got %q", args[0])
			}
			eng, err := openEngine(f)
			if err != nil {
				return err
			}
			defer eng.Stop(context.Background(), app.StopRequested)

			if err := eng.Open(cmd.Context()); err != nil {
				var held *lock.HeldError
				if errors.As(err, &held) {
					return fmt.Errorf("engine running (pid %d); stop it or wait for the scheduled run", held.Owner.PID)
				}
				return err
			}
			r := eng.Runner()
			today := r.Today()
			kind, ok := punch.KindFor(punch.ClassOf(today.Weekday()), dir)
			if !ok {
				return fmt.Errorf("no clock-%s event is scheduled on %s", dir, today.Weekday())
			}
			trig, ok := eng.Trigger(kind)
			if !ok {
				return fmt.Errorf("%s is disabled in the config", kind)
			}

			out, err := r.Run(cmd.Context(), trig, runner.Manual)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch out.Result {
			case runner.Performed:
				fmt.Fprintf(w, "%s performed at %s (drift %+dm, run %s)\n", kind, out.At.Format("15:04:05"), out.Drift, out.RunID)
				return nil
			case runner.Rejected:
				fmt.Fprintf(w, "%s rejected: %s\n", kind, out.Reason)
				return nil
			default:
				return fmt.Errorf("%s failed: %s (run %s)", kind, out.Reason, out.RunID)
			}
		},
	}
}
