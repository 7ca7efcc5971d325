package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/airoxlab/bizposcash-sub002/internal/config"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/rediskv"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/session"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
)

// loadConfig resolves the effective configuration for a command.
// --verbose raises the log level to debug.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: opts.Config, EnvFile: opts.EnvFile})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// stack is everything a terminal session is built on, opened from config.
type stack struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	remote remote.Remote
	// memory is set when the remote store runs in-process.
	memory *remote.Memory
	deps   session.Deps

	closers []func()
}

// openStack opens the local store, the remote store and, for the redis
// backend, the shared cache and drain lock. Logs go to logOut.
func openStack(ctx context.Context, cfg config.Config, logOut io.Writer) (*stack, error) {
	logger := config.NewLogger(cfg.Log, logOut)
	s := &stack{cfg: cfg, logger: logger}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s.store = st
	s.closers = append(s.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	})

	if err := s.openRemote(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.deps = session.Deps{
		Store:        st,
		Remote:       s.remote,
		TerminalID:   cfg.TerminalID,
		PhoneRegion:  cfg.PhoneRegion,
		PollInterval: cfg.Network.PollInterval.Std(),
		ProbeTimeout: cfg.Network.ProbeTimeout.Std(),
		Backoff:      queue.Backoff{Base: cfg.Sync.BaseBackoff.Std(), Max: cfg.Sync.MaxBackoff.Std()},
		LockTTL:      cfg.Sync.LockTTL.Std(),
		Retention:    cfg.Sync.Retention.Std(),
		RealtimeURL:  cfg.Remote.RealtimeURL,
		Logger:       logger,
	}
	if cfg.Remote.APIKey != "" {
		s.deps.RealtimeHeader = http.Header{cfg.Remote.APIKeyHeader: []string{cfg.Remote.APIKey}}
	}

	if cfg.Storage.Backend == "redis" {
		client, err := rediskv.Connect(ctx, cfg.Storage.RedisAddr, cfg.Readiness.Attempts)
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		s.closers = append(s.closers, func() { client.Close() })
		s.deps.Backend = rediskv.New(client, cfg.Storage.RedisPrefix)
		s.deps.Locker = rediskv.NewLocker(client, cfg.Storage.RedisPrefix)
		logger.Info("cache backed by redis", "addr", cfg.Storage.RedisAddr, "prefix", cfg.Storage.RedisPrefix)
	}
	return s, nil
}

func (s *stack) openRemote(ctx context.Context) error {
	cfg := s.cfg.Remote
	switch cfg.Kind {
	case "memory":
		m := remote.NewMemory()
		remote.SeedDemo(m, s.cfg.TenantID)
		s.memory, s.remote = m, m
		s.logger.Info("using in-memory remote store with demo menu", "tenant", s.cfg.TenantID)
	case "http":
		opts := []remote.HTTPOption{remote.WithTimeout(cfg.Timeout.Std())}
		if cfg.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(cfg.APIKeyHeader, cfg.APIKey))
		}
		s.remote = remote.NewHTTPClient(cfg.BaseURL, opts...)
		s.logger.Info("using http remote store", "base_url", cfg.BaseURL)
	case "postgres":
		pg, err := remote.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		s.closers = append(s.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to prepare postgres schema", err)
		}
		s.remote = pg
		s.logger.Info("using postgres remote store")
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown remote kind %q", cfg.Kind))
	}
	return nil
}

// openSession binds a session to the configured tenant. Background loops
// are not started.
func (s *stack) openSession(ctx context.Context) (*session.Session, error) {
	sess, err := session.Open(ctx, s.deps, s.cfg.TenantID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open session", err)
	}
	return sess, nil
}

// Close releases everything in reverse order of opening.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
