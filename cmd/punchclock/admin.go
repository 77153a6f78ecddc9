package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"punchclock/internal/app"
	"punchclock/internal/calendar"
	"punchclock/internal/config"
	"punchclock/internal/lock"
)

func newHolidaysCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "holidays [year]",
		Short: "List the holidays of a year (default: current year)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(f)
			if err != nil {
				return err
			}
			defer eng.Stop(context.Background(), app.StopRequested)

			year := time.Now().In(eng.Location()).Year()
			if len(args) == 1 {
				if year, err = strconv.Atoi(args[0]); err != nil || year < 1583 || year > 4099 {
					return fmt.Errorf("invalid year %q", args[0])
				}
			}
			w := cmd.OutOrStdout()
			cal := eng.Calendar()
			fmt.Fprintf(w, "%d holidays (%s, rest day %s):\n", year, cal.Country(), cal.RestDay())
			for _, h := range cal.HolidaysForYear(year) {
				fmt.Fprintf(w, "  %s  %-9s  %s\n", h.Date, h.Date.Weekday(), h.Name)
			}
			return nil
		},
	}
}

func newLockCmd(f *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the instance lock",
	}
	c.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report the lock owner and whether it is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lo, err := lockOptions(f)
			if err != nil {
				return err
			}
			st, err := lock.Inspect(lo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", lo.Path, describeLock(st))
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove a stale lock record (refuses while the owner is alive)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lo, err := lockOptions(f)
			if err != nil {
				return err
			}
			removed, err := lock.ClearStale(lo)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed stale lock %s\n", lo.Path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "no lock record at %s\n", lo.Path)
			}
			return nil
		},
	})
	return c
}

func lockOptions(f *rootFlags) (lock.Options, error) {
	eng, err := openEngine(f)
	if err != nil {
		return lock.Options{}, err
	}
	defer eng.Stop(context.Background(), app.StopRequested)
	return eng.LockOptions()
}

func newLedgerCmd(f *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "ledger",
		Short: "Repair the execution ledger",
	}
	c.AddCommand(&cobra.Command{
		Use:   "clear-day [YYYY-MM-DD]",
		Short: "Delete every entry of one date (default: today); refuses while the engine runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(f)
			if err != nil {
				return err
			}
			defer eng.Stop(context.Background(), app.StopRequested)

			day := calendar.DateOf(time.Now().In(eng.Location()))
			if len(args) == 1 {
				if day, err = calendar.ParseDate(args[0]); err != nil {
					return err
				}
			}

			// Holding the lock proves no engine is writing the ledger meanwhile.
			if err := eng.Open(cmd.Context()); err != nil {
				var held *lock.HeldError
				if errors.As(err, &held) {
					return fmt.Errorf("engine running (pid %d); stop it before editing the ledger", held.Owner.PID)
				}
				return err
			}
			n, err := eng.Ledger().ClearDay(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entr(ies) for %s\n", n, day)
			return nil
		},
	})
	return c
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Config helpers",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with every default spelled out",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.config
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			b, err := config.Encode(path, config.Default())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := atomic.WriteFile(path, bytes.NewReader(append(b, '\n'))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	c.AddCommand(initCmd)
	return c
}
