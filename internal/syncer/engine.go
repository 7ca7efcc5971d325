package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/netmon"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
)

const (
	DefaultApplyTimeout = 10 * time.Second
	DefaultLockTTL      = 30 * time.Second

	// maxRounds bounds one drain. Each round unblocks at least one
	// dependency, so chains longer than this finish on the next drain.
	maxRounds = 16

	recentWarnings = 50
)

// Network is the connectivity view the engine needs.
type Network interface {
	IsOnline() bool
	Subscribe() <-chan netmon.Transition
}

// SideEffects replays the effects of orders closed while offline.
type SideEffects interface {
	ReplayDeferred(ctx context.Context, orderID string) ([]string, error)
}

// Writer produces mutations. Exclusive runs fn with its writes blocked.
type Writer interface {
	Exclusive(fn func() error) error
}

// Locker guards a drain across processes sharing one queue.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Engine drains the queue whenever it may make progress.
//
// Thread-safety: Engine is safe for concurrent use. Drains are serialized.
type Engine struct {
	cache   *cache.Cache
	queue   *queue.Queue
	remote  remote.Applier
	net     Network
	effects SideEffects
	writers []Writer
	locker  Locker
	lockTTL time.Duration
	timeout time.Duration
	now     func() time.Time
	onWarn  func(Warning)
	logger  *slog.Logger

	kick    chan struct{}
	drainMu sync.Mutex

	warnMu   sync.Mutex
	warnings []Warning
}

// Option configures an Engine.
type Option func(*Engine)

// WithSideEffects sets the replayer of deferred order side effects.
func WithSideEffects(s SideEffects) Option {
	return func(e *Engine) { e.effects = s }
}

// WithWriters registers the producers paused while a local id is
// rewritten, so none of them queues a write under the old id.
func WithWriters(ws ...Writer) Option {
	return func(e *Engine) { e.writers = append(e.writers, ws...) }
}

// WithLocker guards each drain with a distributed lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithApplyTimeout bounds a single remote write.
func WithApplyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithNow sets the clock used for warnings and retry scheduling.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWarningHandler is called for every business warning.
func WithWarningHandler(fn func(Warning)) Option {
	return func(e *Engine) { e.onWarn = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine.
func New(c *cache.Cache, q *queue.Queue, r remote.Applier, net Network, opts ...Option) *Engine {
	e := &Engine{
		cache:   c,
		queue:   q,
		remote:  r,
		net:     net,
		lockTTL: DefaultLockTTL,
		timeout: DefaultApplyTimeout,
		now:     time.Now,
		logger:  slog.Default(),
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kick asks Run to drain soon. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drains on every Offline to Online transition, on Kick, and when the
// earliest backoff falls due. It returns when ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	transitions := e.net.Subscribe()
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	drain := func() {
		if !e.net.IsOnline() {
			return
		}
		if _, err := e.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("drain failed", "error", err)
		}
		e.scheduleRetry(ctx, retry)
	}

	drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if tr.Online {
				e.logger.Info("back online, draining queue", "source", tr.Source)
				drain()
			}
		case <-e.kick:
			drain()
		case <-retry.C:
			drain()
		}
	}
}

func (e *Engine) scheduleRetry(ctx context.Context, t *time.Timer) {
	tenant := e.cache.TenantID()
	if tenant == "" {
		return
	}
	next, err := e.queue.NextRetryAt(ctx, tenant)
	if err != nil || next.IsZero() {
		return
	}
	t.Reset(max(next.Sub(e.now()), 0))
}

// DrainOnce sends every mutation that can be sent now, in rounds, until a
// round makes no progress. Transient failures are recorded on the
// mutation and never returned; the error is for local failures only.
func (e *Engine) DrainOnce(ctx context.Context) (Report, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	tenant := e.cache.TenantID()
	if tenant == "" {
		return Report{}, cache.ErrNoTenant
	}

	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx, "drain:"+tenant, e.lockTTL)
		if err != nil {
			e.logger.Warn("drain lock unavailable, draining unguarded", "tenant", tenant, "error", err)
		} else if !ok {
			e.logger.Debug("another process is draining", "tenant", tenant)
			return Report{Skipped: true}, nil
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					e.logger.Warn("failed to release drain lock", "tenant", tenant, "error", err)
				}
			}()
		}
	}

	var report Report
	deferred := map[string]bool{}
	for report.Rounds < maxRounds {
		report.Rounds++
		heads, err := e.queue.Heads(ctx, tenant)
		if err != nil {
			return report, fmt.Errorf("drain: %w", err)
		}
		progress := false
		for _, h := range heads {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			// Re-read: an earlier ack in this round may have rewritten it.
			m, err := e.queue.Get(ctx, h.ID)
			if err != nil {
				return report, fmt.Errorf("drain: %w", err)
			}
			if m.State != domain.StatePending && m.State != domain.StateFailed {
				continue
			}
			if dep, err := e.blockedOn(ctx, tenant, m); err != nil {
				return report, err
			} else if dep != "" {
				if !deferred[m.ID] {
					e.logger.Debug("mutation waits for dependency",
						"mutation_id", m.ID, "entity", m.EntityKey(), "depends_on", dep)
				}
				deferred[m.ID] = true
				continue
			}
			delete(deferred, m.ID)

			done, err := e.send(ctx, tenant, m, &report)
			if err != nil {
				return report, err
			}
			progress = progress || done
		}
		if !progress {
			break
		}
	}
	report.Deferred = len(deferred)

	if report.Sent > 0 {
		e.logger.Info("drain finished",
			"tenant", tenant,
			"rounds", report.Rounds,
			"synced", report.Synced,
			"failed", report.Failed,
			"rejected", report.Rejected,
			"deferred", report.Deferred)
	}
	return report, nil
}

// send applies one mutation and records the outcome. Returns true when
// the mutation left the queue (acknowledged or rejected).
func (e *Engine) send(ctx context.Context, tenant string, m domain.Mutation, report *Report) (bool, error) {
	if err := e.queue.MarkSyncing(ctx, m.ID); err != nil {
		return false, err
	}
	report.Sent++

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	ack, err := e.remote.Apply(callCtx, m)
	cancel()

	switch {
	case err == nil:
		if err := e.acknowledge(ctx, tenant, m, ack, report); err != nil {
			return false, err
		}
		report.Synced++
		return true, nil

	case remote.IsBusiness(err):
		if err := e.reject(ctx, tenant, m, err, report); err != nil {
			return false, err
		}
		report.Rejected++
		return true, nil

	default:
		// Recorded even if ctx ended mid-call, so the mutation does not
		// stay syncing until the next restart.
		if _, ferr := e.queue.MarkFailed(context.WithoutCancel(ctx), m.ID, err.Error()); ferr != nil {
			return false, ferr
		}
		report.Failed++
		return false, nil
	}
}

func (e *Engine) acknowledge(ctx context.Context, tenant string, m domain.Mutation, ack remote.Ack, report *Report) error {
	entityID := m.EntityID
	if m.Operation == domain.OpCreate && ack.ServerID != "" && ack.ServerID != m.EntityID {
		if err := e.reconcile(ctx, tenant, m.EntityType, m.EntityID, ack.ServerID); err != nil {
			return err
		}
		entityID = ack.ServerID
		if report.Reconciled == nil {
			report.Reconciled = make(map[string]string)
		}
		report.Reconciled[m.EntityID] = ack.ServerID
	}
	if err := e.queue.MarkSynced(ctx, m.ID); err != nil {
		return err
	}
	if err := e.refreshSynced(ctx, tenant, m.EntityType, entityID); err != nil {
		return err
	}

	if e.effects != nil && m.EntityType == domain.EntityOrder && m.Operation == domain.OpSetStatus && closesOrder(m) {
		msgs, err := e.effects.ReplayDeferred(ctx, entityID)
		if err != nil {
			return fmt.Errorf("replay side effects of %s: %w", entityID, err)
		}
		for _, msg := range msgs {
			e.warn(report, Warning{
				Kind:       WarnSideEffects,
				EntityType: domain.EntityOrder,
				EntityID:   entityID,
				MutationID: m.ID,
				Message:    msg,
			})
		}
	}
	return e.save(ctx)
}

// reconcile rewrites a local-temporary id to the server id: first in the
// cache (persisted), then in the queue. In that order a crash in between
// converges on the next drain. Writers stay blocked throughout.
func (e *Engine) reconcile(ctx context.Context, tenant string, entityType domain.EntityType, localID, serverID string) error {
	err := e.exclusive(e.writers, func() error {
		switch entityType {
		case domain.EntityCustomer:
			e.cache.RewriteCustomerID(localID, serverID)
		case domain.EntityOrder:
			e.cache.RewriteOrderID(localID, serverID)
		}
		if err := e.save(ctx); err != nil {
			return err
		}
		return e.queue.RewriteEntityID(ctx, tenant, entityType, localID, serverID)
	})
	if err != nil {
		return err
	}
	e.logger.Info("reconciled local id",
		"tenant", tenant,
		"entity_type", entityType,
		"local_id", localID,
		"server_id", serverID)
	return nil
}

func (e *Engine) exclusive(ws []Writer, fn func() error) error {
	if len(ws) == 0 {
		return fn()
	}
	return ws[0].Exclusive(func() error { return e.exclusive(ws[1:], fn) })
}

func (e *Engine) reject(ctx context.Context, tenant string, m domain.Mutation, cause error, report *Report) error {
	if err := e.queue.MarkRejected(ctx, m.ID, cause.Error()); err != nil {
		return err
	}

	w := Warning{
		Kind:       WarnRejected,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		MutationID: m.ID,
		Message:    cause.Error(),
	}
	var be *remote.BusinessError
	if errors.As(cause, &be) {
		w.Code = be.Code
	}

	switch {
	case m.Operation == domain.OpDeductInventory:
		w.Kind = WarnInventory
		e.cache.UpdateOrder(m.EntityID, func(o *domain.Order) { o.NeedsInventoryReconciliation = true })
	case remote.IsConflict(cause) && m.EntityType == domain.EntityOrder:
		w.Kind = WarnConflict
		e.cache.UpdateOrder(m.EntityID, func(o *domain.Order) { o.SyncConflict = true })
	}
	e.warn(report, w)

	if err := e.refreshSynced(ctx, tenant, m.EntityType, m.EntityID); err != nil {
		return err
	}
	return e.save(ctx)
}

// refreshSynced flips the cached entity's _isSynced once its lane is empty.
func (e *Engine) refreshSynced(ctx context.Context, tenant string, entityType domain.EntityType, id string) error {
	has, err := e.queue.HasUnsynced(ctx, tenant, entityType, id)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	switch entityType {
	case domain.EntityOrder:
		e.cache.UpdateOrder(id, func(o *domain.Order) { o.IsSynced = true })
	case domain.EntityCustomer:
		e.cache.UpdateCustomer(id, func(cu *domain.Customer) { cu.IsSynced = true })
	case domain.EntityTable:
		e.cache.UpdateTable(id, func(t *domain.Table) { t.IsSynced = true })
	}
	return nil
}

var localRef = regexp.MustCompile(`"(` + regexp.QuoteMeta(domain.LocalIDPrefix) + `[^"\\]+)"`)

// blockedOn returns a local-temporary id, other than the mutation's own
// entity, that its payload references and whose create is still queued.
// A reference with nothing queued is orphaned (its create was rejected)
// and does not block.
func (e *Engine) blockedOn(ctx context.Context, tenant string, m domain.Mutation) (string, error) {
	for _, match := range localRef.FindAllSubmatch(m.Payload, -1) {
		id := string(match[1])
		if id == m.EntityID {
			continue
		}
		for _, t := range []domain.EntityType{domain.EntityCustomer, domain.EntityOrder} {
			has, err := e.queue.HasUnsynced(ctx, tenant, t, id)
			if err != nil {
				return "", err
			}
			if has {
				return id, nil
			}
		}
	}
	return "", nil
}

func (e *Engine) warn(report *Report, w Warning) {
	w.At = e.now().UTC()
	report.Warnings = append(report.Warnings, w)

	e.warnMu.Lock()
	e.warnings = append(e.warnings, w)
	if len(e.warnings) > recentWarnings {
		e.warnings = e.warnings[len(e.warnings)-recentWarnings:]
	}
	e.warnMu.Unlock()

	e.logger.Warn("sync warning",
		"kind", w.Kind,
		"entity_type", w.EntityType,
		"entity_id", w.EntityID,
		"mutation_id", w.MutationID,
		"code", w.Code,
		"message", w.Message)
	if e.onWarn != nil {
		e.onWarn(w)
	}
}

// Warnings returns the most recent business warnings, oldest first.
func (e *Engine) Warnings() []Warning {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	return append([]Warning(nil), e.warnings...)
}

// Paused runs fn while no drain is in progress and none can start.
func (e *Engine) Paused(fn func() error) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	return fn()
}

func (e *Engine) save(ctx context.Context) error {
	if err := e.cache.SaveCacheToStorage(ctx); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

// closesOrder reports whether a set_status payload moves the order to a
// terminal status.
func closesOrder(m domain.Mutation) bool {
	var p struct {
		Status domain.OrderStatus `json:"status"`
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return false
	}
	return p.Status.IsTerminal()
}
