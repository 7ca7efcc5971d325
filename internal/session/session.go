package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/customers"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/netmon"
	"github.com/airoxlab/bizposcash-sub002/internal/orders"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
	"github.com/airoxlab/bizposcash-sub002/internal/syncer"
)

// DefaultRetention is how long acknowledged mutations are kept for
// inspection before Open prunes them.
const DefaultRetention = 7 * 24 * time.Hour

// Deps are the collaborators a Session is built from. Store and Remote are
// required; the caller owns them and closes them after the Session.
type Deps struct {
	Store  *store.Store
	Remote remote.Remote

	// Backend persists the cache. Defaults to Store.
	Backend cache.Backend
	// Locker guards drains across processes sharing one queue.
	Locker syncer.Locker

	// RealtimeURL enables the server push channel when set.
	RealtimeURL    string
	RealtimeHeader http.Header

	TerminalID   string
	PhoneRegion  string
	PollInterval time.Duration
	ProbeTimeout time.Duration
	Backoff      queue.Backoff
	LockTTL      time.Duration
	Retention    time.Duration

	// Now and IDs are overridden by deterministic runs.
	Now func() time.Time
	IDs domain.IDGenerator

	Logger *slog.Logger
}

// Session is the running stack of one terminal.
//
// Thread-safety: Session is safe for concurrent use. Start and Close must
// be called once each.
type Session struct {
	Cache     *cache.Cache
	Queue     *queue.Queue
	Monitor   *netmon.Monitor
	Orders    *orders.Manager
	Customers *customers.Resolver
	Engine    *syncer.Engine

	deps     Deps
	realtime *remote.Realtime
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
	runCtx  context.Context
	started bool
}

// Open builds a Session bound to tenantID, restores the tenant's persisted
// state, loads the reference snapshot if the remote store is reachable,
// and reconciles the cache with the queue.
//
// An unreachable remote store does not fail Open: a persisted snapshot
// makes the cache ready offline, and without one the cache stays unready
// until a later InitializeCache succeeds.
func Open(ctx context.Context, deps Deps, tenantID string) (*Session, error) {
	if deps.Store == nil || deps.Remote == nil {
		return nil, errors.New("session: store and remote are required")
	}
	if deps.Backend == nil {
		deps.Backend = deps.Store
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IDs == nil {
		deps.IDs = domain.UUIDv7Generator{}
	}
	if deps.Retention <= 0 {
		deps.Retention = DefaultRetention
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q, err := queue.Open(ctx, deps.Store,
		queue.WithNow(deps.Now),
		queue.WithIDGenerator(deps.IDs),
		queue.WithBackoff(deps.Backoff),
		queue.WithLogger(logger.With("component", "queue")))
	if err != nil {
		return nil, err
	}

	s := &Session{Queue: q, deps: deps, logger: logger}
	s.Cache = cache.New(deps.Backend, deps.Remote,
		cache.WithNow(deps.Now),
		cache.WithLogger(logger.With("component", "cache")))

	monitorOpts := []netmon.Option{
		netmon.WithNow(deps.Now),
		netmon.WithLogger(logger.With("component", "netmon")),
		netmon.WithPendingCounter(func(ctx context.Context) (int, error) {
			tenant := s.Cache.TenantID()
			if tenant == "" {
				return 0, nil
			}
			return q.PendingCount(ctx, tenant)
		}),
	}
	if deps.PollInterval > 0 {
		monitorOpts = append(monitorOpts, netmon.WithPollInterval(deps.PollInterval))
	}
	if deps.ProbeTimeout > 0 {
		monitorOpts = append(monitorOpts, netmon.WithProbeTimeout(deps.ProbeTimeout))
	}
	s.Monitor = netmon.New(deps.Remote, monitorOpts...)

	kick := func() { s.Engine.Kick() }
	s.Orders = orders.New(s.Cache, q, s.Monitor,
		orders.WithTerminalID(deps.TerminalID),
		orders.WithNow(deps.Now),
		orders.WithIDGenerator(deps.IDs),
		orders.WithKick(kick),
		orders.WithLogger(logger.With("component", "orders")))
	s.Customers = customers.New(s.Cache, q, s.Monitor,
		customers.WithRegion(deps.PhoneRegion),
		customers.WithApplier(deps.Remote),
		customers.WithNow(deps.Now),
		customers.WithIDGenerator(deps.IDs),
		customers.WithKick(kick),
		customers.WithLogger(logger.With("component", "customers")))

	engineOpts := []syncer.Option{
		syncer.WithSideEffects(s.Orders),
		syncer.WithWriters(s.Orders, s.Customers),
		syncer.WithNow(deps.Now),
		syncer.WithLogger(logger.With("component", "syncer")),
	}
	if deps.Locker != nil {
		engineOpts = append(engineOpts, syncer.WithLocker(deps.Locker, deps.LockTTL))
	}
	s.Engine = syncer.New(s.Cache, q, deps.Remote, s.Monitor, engineOpts...)

	if deps.RealtimeURL != "" {
		s.realtime = remote.NewRealtime(deps.RealtimeURL, deps.RealtimeHeader, s.onRemoteOrder,
			logger.With("component", "realtime"))
	}

	if pruned, err := q.Prune(ctx, deps.Retention); err != nil {
		logger.Warn("failed to prune synced mutations", "error", err)
	} else if pruned > 0 {
		logger.Info("pruned synced mutations", "count", pruned)
	}

	if err := s.bind(ctx, tenantID); err != nil {
		return nil, err
	}
	return s, nil
}

// bind points the cache at tenantID and brings it up to date. Order and
// customer writes wait until the cache is rehydrated.
func (s *Session) bind(ctx context.Context, tenantID string) error {
	var bindErr error
	changed, err := s.Orders.Rebind(ctx, func() error {
		bindErr = s.Customers.Exclusive(func() error { return s.load(ctx, tenantID) })
		return bindErr
	})
	if bindErr != nil {
		return bindErr
	}
	if err != nil {
		return fmt.Errorf("rehydrate tenant %s: %w", tenantID, err)
	}
	if changed > 0 {
		s.logger.Info("rehydrated cache from queue", "tenant", tenantID, "entities", changed)
	}
	return nil
}

func (s *Session) load(ctx context.Context, tenantID string) error {
	if err := s.Cache.SetUserID(ctx, tenantID); err != nil {
		return fmt.Errorf("bind tenant %s: %w", tenantID, err)
	}

	if s.Monitor.Probe(ctx) {
		if err := s.Cache.InitializeCache(ctx); err != nil {
			s.logger.Warn("snapshot load failed", "tenant", tenantID, "ready", s.Cache.IsReady(), "error", err)
		}
	} else {
		s.logger.Info("starting offline", "tenant", tenantID, "ready", s.Cache.IsReady())
	}
	return nil
}

// Start runs the background loops (network polling, sync, realtime
// events) until Close or until ctx ends.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx, s.cancel = runCtx, cancel

	s.spawn("netmon", func() error { return s.Monitor.Run(runCtx) })
	s.spawn("syncer", func() error { return s.Engine.Run(runCtx) })
	if s.realtime != nil {
		s.spawn("realtime", func() error { return s.realtime.Run(runCtx) })
	}
	s.logger.Info("session started", "tenant", s.Cache.TenantID(), "terminal_id", s.deps.TerminalID)
}

func (s *Session) spawn(name string, run func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(); err != nil {
			s.logger.Error("background loop stopped", "loop", name, "error", err)
		}
	}()
}

// SwitchTenant rebinds the session to tenantID. No drain runs while the
// cache changes hands; mutations of the previous tenant stay queued and
// resume when it is bound again.
func (s *Session) SwitchTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return cache.ErrNoTenant
	}
	err := s.Engine.Paused(func() error {
		return s.bind(ctx, tenantID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("switched tenant", "tenant", tenantID)
	s.Engine.Kick()
	return nil
}

// NetworkStatus is the projection polled by the UI.
func (s *Session) NetworkStatus(ctx context.Context) domain.NetworkStatus {
	return s.Monitor.Status(ctx)
}

// Close stops the background loops and waits for them.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.Monitor.Close()
}

// onRemoteOrder merges an order pushed by the server.
func (s *Session) onRemoteOrder(o domain.Order) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	changed, err := s.Cache.MergeRemoteOrder(ctx, o)
	if err != nil {
		s.logger.Error("failed to merge remote order", "order_id", o.ID, "error", err)
		return
	}
	if changed {
		s.logger.Debug("merged remote order", "order_id", o.ID, "status", o.Status)
	}
}
