package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Interval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background commit reclaimer",
		Long: `Open the database and sweep expired commits on an interval until
interrupted.

The interval defaults to sweep_interval from the configuration.

Example:
  passvault run --db ./passvault.db
  passvault run --interval 5s --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReclaimer(opts, cmd)
		},
	}
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sweep interval (overrides config)")
	return cmd
}

func runReclaimer(opts *RunOptions, cmd *cobra.Command) error {
	interval := opts.Interval
	if interval == 0 {
		interval = opts.Config.SweepInterval
	}
	if interval <= 0 {
		return NewExitError(ExitCommandError, "interval must be positive")
	}

	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := eng.Config(cmd.Context()); err != nil {
		return opts.formatter(cmd).Rejected("run", err)
	}

	// Use the command's context if available (for testing).
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("reclaimer running", "db", opts.Config.DBPath, "interval", interval)
	fmt.Fprintln(cmd.OutOrStdout(), "Reclaimer started. Press Ctrl-C to stop.")

	<-eng.StartReclaimer(ctx, interval)
	slog.Info("reclaimer stopped gracefully")
	return nil
}
