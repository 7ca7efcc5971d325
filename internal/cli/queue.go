package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
)

var validStates = []string{
	string(domain.StatePending),
	string(domain.StateSyncing),
	string(domain.StateSynced),
	string(domain.StateFailed),
}

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	State      string
	EntityType string
	All        bool
	Limit      int
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued mutations",
		Long: `List the mutations of the configured tenant in the order they sync.

By default only unsynced mutations are shown. Rejected writes are kept as
synced with their last error.

Example:
  bizpos queue
  bizpos queue --state failed
  bizpos queue --all --entity-type order --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "filter by state ("+strings.Join(validStates, "|")+")")
	cmd.Flags().StringVar(&opts.EntityType, "entity-type", "", "filter by entity type (order|customer|table)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include synced mutations")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of mutations (0 = no limit)")

	return cmd
}

func runQueue(opts *QueueOptions, cmd *cobra.Command) error {
	if opts.State != "" && !slices.Contains(validStates, opts.State) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid state %q: must be one of %v", opts.State, validStates))
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The queue is read straight from the database; no session is bound
	// and the remote store is not contacted.
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	muts, err := st.ListMutations(ctx, store.ListFilter{
		TenantID:   cfg.TenantID,
		State:      domain.MutationState(opts.State),
		Unsynced:   opts.State == "" && !opts.All,
		EntityType: domain.EntityType(opts.EntityType),
		Limit:      opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list mutations", err)
	}

	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	f.Logf("listing tenant %s from %s", cfg.TenantID, cfg.Storage.Path)
	if muts == nil {
		muts = []domain.Mutation{}
	}
	return f.Render(muts, func(w io.Writer) {
		if len(muts) == 0 {
			fmt.Fprintln(w, "Queue is empty.")
			return
		}
		fmt.Fprintf(w, "%-6s %-8s %-32s %-18s %-8s %s\n", "SEQ", "STATE", "ENTITY", "OPERATION", "ATTEMPTS", "LAST ERROR")
		for _, m := range muts {
			fmt.Fprintf(w, "%-6d %-8s %-32s %-18s %-8d %s\n",
				m.Seq, m.State, truncate(m.EntityKey(), 32), m.Operation, m.Attempts, m.LastError)
		}
		fmt.Fprintf(w, "\n%d mutation(s)\n", len(muts))
	})
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
