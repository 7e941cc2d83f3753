package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
)

// SyncReport is the output of the sync command.
type SyncReport struct {
	reconcile.Result `yaml:",inline"`
	Pending          int `json:"pending" yaml:"pending"`
}

func (r SyncReport) RenderText(w io.Writer) {
	if r.Attempted == 0 {
		fmt.Fprintln(w, "Nothing to sync.")
		return
	}
	fmt.Fprintf(w, "Replayed %d operation(s): %d succeeded, %d failed.\n", r.Attempted, r.Succeeded, r.Failed)
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(r.Errors, "\n  "))
	}
	fmt.Fprintf(w, "%d operation(s) still pending.\n", r.Pending)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued operations against the backend",
		Long: `Run one sync pass: every queued operation is replayed in order, successes
are removed from the queue and failures stay queued for the next pass.

Exits with status 1 if the backend is unreachable or any operation failed.

Example:
  stocksync sync
  stocksync sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			formatter := newFormatter(cmd, rootOpts)
			if !a.probe(ctx) {
				_ = formatter.Error("E_OFFLINE", "backend unreachable", nil)
				return WrapExitError(ExitFailure, "sync failed", reconcile.ErrOffline)
			}

			res, err := a.monitor.SyncNow(ctx)
			if errors.Is(err, reconcile.ErrSyncInProgress) {
				return WrapExitError(ExitFailure, "sync failed", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "sync failed", err)
			}

			report := SyncReport{Result: res, Pending: a.tracker.Snapshot().PendingCount}
			if err := formatter.Success(report); err != nil {
				return err
			}
			if res.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) failed to replay", res.Failed))
			}
			return nil
		},
	}
}
