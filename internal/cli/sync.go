package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/airoxlab/bizposcash-sub002/internal/syncer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the mutation queue once",
		Long: `Send every due mutation of the configured tenant to the remote store,
then exit. Writes that fail transiently stay queued with a backoff;
writes the remote store rejects are reported as warnings and not retried.

Exit codes:
  0 - Queue drained (warnings may have been reported)
  1 - Some mutations failed and remain queued
  2 - Command error (bad config, database unavailable, etc.)

Example:
  bizpos sync
  bizpos sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
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

	report, err := sess.Engine.DrainOnce(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "sync failed", err)
	}

	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	f.Logf("drained tenant %s in %d round(s)", cfg.TenantID, report.Rounds)
	text := func(w io.Writer) { writeSyncText(w, report) }

	if report.Failed > 0 {
		msg := fmt.Sprintf("%d mutation(s) failed and remain queued", report.Failed)
		if err := f.Fail("E_SYNC_FAILED", msg, report, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return f.Render(report, text)
}

func writeSyncText(w io.Writer, r syncer.Report) {
	if r.Skipped {
		fmt.Fprintln(w, "Sync skipped: remote store unreachable or another drain is running.")
		return
	}
	fmt.Fprintf(w, "Synced %d, failed %d, rejected %d, deferred %d (%d round(s))\n",
		r.Synced, r.Failed, r.Rejected, r.Deferred, r.Rounds)

	if len(r.Reconciled) > 0 {
		fmt.Fprintln(w, "\nReconciled ids:")
		locals := make([]string, 0, len(r.Reconciled))
		for id := range r.Reconciled {
			locals = append(locals, id)
		}
		slices.Sort(locals)
		for _, id := range locals {
			fmt.Fprintf(w, "  %s -> %s\n", id, r.Reconciled[id])
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  [%s] %s %s: %s\n", warn.Kind, warn.EntityType, warn.EntityID, warn.Message)
		}
	}
}
