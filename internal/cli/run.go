package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/status"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the client running with automatic sync",
		Long: `Start the network monitor: the backend is probed on an interval, and
each transition to online triggers a debounced sync pass when operations are
queued.

Example:
  stocksync run
  stocksync run --config ./stocksync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, rootOpts)
		},
	}
}

func runClient(cmd *cobra.Command, opts *RootOptions) error {
	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("error closing client", zap.Error(closeErr))
		}
	}()

	unsubscribe := a.tracker.Subscribe(func(st status.Status) {
		a.logger.Info("sync status changed",
			zap.Bool("online", st.IsOnline),
			zap.Bool("syncing", st.IsSyncing),
			zap.Int("pending", st.PendingCount),
			zap.Int("errors", len(st.SyncErrors)),
		)
	})
	defer unsubscribe()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	a.logger.Info("client starting",
		zap.String("db", a.cfg.DBPath),
		zap.String("tenant", a.cfg.Tenant.ID),
		zap.String("remote", a.cfg.Remote.Kind),
		zap.Duration("probe_interval", a.cfg.Sync.ProbeInterval),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Client started. Watching connectivity...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := a.monitor.Run(ctx, a.backend, a.cfg.Sync.ProbeInterval); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "monitor error", err)
	}

	a.logger.Info("client stopped gracefully")
	return nil
}
