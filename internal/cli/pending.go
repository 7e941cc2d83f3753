package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Table string
}

// PendingOperation is one queued operation as shown to operators.
type PendingOperation struct {
	ID         string    `json:"id" yaml:"id"`
	Seq        int64     `json:"seq" yaml:"seq"`
	Type       string    `json:"type" yaml:"type"`
	Table      string    `json:"table" yaml:"table"`
	RecordID   string    `json:"record_id" yaml:"record_id"`
	EnqueuedAt time.Time `json:"enqueued_at" yaml:"enqueued_at"`
	Progress   []string  `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// PendingList is the output of the pending command.
type PendingList struct {
	Operations []PendingOperation `json:"operations" yaml:"operations"`
}

func (l PendingList) RenderText(w io.Writer) {
	if len(l.Operations) == 0 {
		fmt.Fprintln(w, "No pending operations.")
		return
	}
	fmt.Fprintf(w, "%d pending operation(s):\n", len(l.Operations))
	for _, op := range l.Operations {
		fmt.Fprintf(w, "  #%d %s %s %s (queued %s)\n",
			op.Seq, op.Type, op.Table, op.RecordID, formatTime(op.EnqueuedAt))
		if len(op.Progress) > 0 {
			fmt.Fprintf(w, "      done: %s\n", strings.Join(op.Progress, ", "))
		}
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued operations in replay order",
		Long: `List the operations waiting in the local queue, oldest first.

Example:
  stocksync pending
  stocksync pending --table sales --format yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "only list operations on this table")

	return cmd
}

func runPending(cmd *cobra.Command, opts *PendingOptions) error {
	ctx := commandContext(cmd)
	cfg, log, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var ops []store.Operation
	if opts.Table != "" {
		table, perr := record.ParseTable(opts.Table)
		if perr != nil {
			return WrapExitError(ExitCommandError, "invalid --table", perr)
		}
		ops, err = st.OperationsForTable(ctx, table)
	} else {
		ops, err = st.ListOperations(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list operations", err)
	}

	list := PendingList{Operations: make([]PendingOperation, 0, len(ops))}
	for _, op := range ops {
		list.Operations = append(list.Operations, PendingOperation{
			ID:         op.ID,
			Seq:        op.Seq,
			Type:       string(op.Type),
			Table:      string(op.Table),
			RecordID:   op.Payload.ID(),
			EnqueuedAt: op.EnqueuedAt.UTC(),
			Progress:   op.Progress,
		})
	}
	return newFormatter(cmd, opts.RootOptions).Success(list)
}
