package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"punchclock/internal/app"
	"punchclock/internal/lock"
)

const stopTimeout = 15 * time.Second

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine until SIGINT/SIGTERM (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(f.config)
		},
	}
}

func runEngine(cfgPath string) error {
	eng, err := app.New(app.Options{ConfigPath: cfgPath})
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
		defer stop()
		_ = eng.Stop(stopCtx, app.StopFatalError)
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("another instance is running (pid %d, since %s)", held.Owner.PID, held.Owner.CreatedAt.Format(time.RFC3339))
		}
		return err
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-eng.Done():
		reason = app.StopFatalError
	}

	stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	fatal := eng.Err()
	if err := eng.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return fatal
	}
	return nil
}
