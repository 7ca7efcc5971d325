package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/airoxlab/bizposcash-sub002/internal/api"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal and its local HTTP API",
		Long: `Run the terminal: bind the configured tenant, load the reference snapshot,
start network monitoring and background sync, and serve the local HTTP API
the cashier UI talks to.

With the in-memory remote store the demo menu is loaded and the store is
also served under /remote, so other terminals can point remote.kind=http
at this process.

Example:
  bizpos serve
  bizpos serve --config ./bizpos.yaml --addr 127.0.0.1:9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	st, err := openStack(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer st.Close()
	logger := st.logger

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	sess, err := st.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Cache.WaitReady(ctx, cfg.Readiness.Attempts, cfg.Readiness.Interval.Std()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// Selling needs the menu; keep serving so the UI can show the
		// state and retry.
		logger.Warn("starting without reference data", "tenant", cfg.TenantID, "error", err)
	}
	sess.Start(ctx)

	routerOpts := api.Options{AllowedOrigins: cfg.HTTP.AllowedOrigins, Logger: logger}
	if st.memory != nil {
		routerOpts.Remote = remote.NewHandler(st.memory, logger.With("component", "remote"))
	}
	srv := &http.Server{
		Handler:           api.NewRouter(sess, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Terminal %s serving tenant %s on http://%s\n", cfg.TerminalID, cfg.TenantID, ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "http server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	logger.Info("terminal stopped gracefully", "unsynced", sess.NetworkStatus(shutdownCtx).UnsyncedOrders)
	return nil
}
