package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MarquesJr132/stock-system/internal/status"
)

// StatusView is the output of the status command.
type StatusView struct {
	status.Status `yaml:",inline"`
	Tenant        string `json:"tenant" yaml:"tenant"`
	Remote        string `json:"remote" yaml:"remote"`
}

func (v StatusView) RenderText(w io.Writer) {
	state := "offline"
	if v.IsOnline {
		state = "online"
	}
	fmt.Fprintf(w, "Tenant:    %s\n", v.Tenant)
	fmt.Fprintf(w, "Backend:   %s (%s)\n", v.Remote, state)
	fmt.Fprintf(w, "Pending:   %d operation(s)\n", v.PendingCount)
	fmt.Fprintf(w, "Last sync: %s\n", formatTime(v.LastSync))
	if len(v.SyncErrors) > 0 {
		fmt.Fprintf(w, "Errors:\n  %s\n", strings.Join(v.SyncErrors, "\n  "))
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue length and last sync",
		Long: `Probe the backend once and report the sync status of the local store.

Example:
  stocksync status
  stocksync status --format json`,
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

			a.probe(ctx)
			return newFormatter(cmd, rootOpts).Success(StatusView{
				Status: a.tracker.Snapshot(),
				Tenant: a.cfg.Tenant.ID,
				Remote: a.cfg.Remote.Kind,
			})
		},
	}
}
