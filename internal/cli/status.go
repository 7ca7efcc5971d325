package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	Tenant     string `json:"tenant"`
	TerminalID string `json:"terminal_id"`
	domain.NetworkStatus
	Ready  bool `json:"ready"`
	Failed int  `json:"failed"`
	Orders int  `json:"orders"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, readiness and unsynced work",
		Long: `Probe the remote store once and report what the cashier UI would show:
whether the terminal is online, whether reference data is loaded, and how
many writes are still waiting to sync.

Exit codes:
  0 - Status reported
  2 - Command error (bad config, database unavailable, etc.)

Example:
  bizpos status
  bizpos status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStack(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	failed, err := sess.Queue.List(ctx, store.ListFilter{TenantID: cfg.TenantID, State: domain.StateFailed})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read queue", err)
	}

	result := StatusResult{
		Tenant:        cfg.TenantID,
		TerminalID:    cfg.TerminalID,
		NetworkStatus: sess.NetworkStatus(ctx),
		Ready:         sess.Cache.IsReady(),
		Failed:        len(failed),
		Orders:        len(sess.Cache.GetOrders()),
	}

	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	f.Logf("remote %s, storage %s at %s", cfg.Remote.Kind, cfg.Storage.Backend, cfg.Storage.Path)
	return f.Render(result, func(w io.Writer) {
		state := "offline"
		if result.IsOnline {
			state = "online"
		}
		fmt.Fprintf(w, "Tenant:    %s (terminal %s)\n", result.Tenant, result.TerminalID)
		fmt.Fprintf(w, "Network:   %s\n", state)
		fmt.Fprintf(w, "Ready:     %t\n", result.Ready)
		fmt.Fprintf(w, "Orders:    %d cached\n", result.Orders)
		fmt.Fprintf(w, "Unsynced:  %d (%d waiting to retry)\n", result.UnsyncedOrders, result.Failed)
	})
}
