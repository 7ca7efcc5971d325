package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
)

var (
	// ErrNoTenant is returned by operations that need SetUserID first.
	ErrNoTenant = errors.New("no tenant bound")

	// ErrReadinessTimeout is returned by WaitReady when the snapshot did
	// not load within the allowed attempts. It is distinct from "still
	// loading" so callers can offer a manual retry.
	ErrReadinessTimeout = errors.New("cache readiness timeout")

	// ErrTenantChanged is returned when the tenant switched while a
	// snapshot was being fetched. The fetched data is discarded.
	ErrTenantChanged = errors.New("tenant changed during load")
)

// Backend is durable key/value storage with string values, scoped by
// tenant. Implemented by store.Store (SQLite) and rediskv.Backend.
type Backend interface {
	LoadValues(ctx context.Context, tenantID string, keys []string) (map[string]string, error)
	SetValues(ctx context.Context, tenantID string, entries map[string]string) error
	DeleteValues(ctx context.Context, tenantID string, keys ...string) error
}

// Cache holds the snapshot of one tenant at a time.
//
// Thread-safety: Cache is safe for concurrent use. Reads take a read lock
// and return copies.
type Cache struct {
	backend Backend
	source  remote.SnapshotSource
	logger  *slog.Logger
	now     func() time.Time

	// saveMu serializes SaveCacheToStorage so the last save always
	// carries the latest state.
	saveMu sync.Mutex

	mu sync.RWMutex
	// generation increments on every tenant switch so an in-flight
	// InitializeCache for the previous tenant can tell it is stale.
	generation uint64
	tenant     string
	ready      bool

	snapshot           domain.Snapshot
	variantsByProduct  map[string][]domain.ProductVariant
	dealProductsByDeal map[string][]domain.DealProduct

	orders    map[string]*domain.Order
	customers map[string]*domain.Customer
	tables    []domain.Table
	payments  map[string][]domain.PaymentTransaction
	carts     map[domain.OrderType]Cart
	modifying map[domain.OrderType]string
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithNow sets the wall clock used for LoadedAt and UpdatedAt stamps.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an unbound cache. Call SetUserID before use.
func New(backend Backend, source remote.SnapshotSource, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		source:  source,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetLocked()
	return c
}

// resetLocked drops every in-memory entity. Caller holds mu (or owns c).
func (c *Cache) resetLocked() {
	c.ready = false
	c.snapshot = domain.Snapshot{}
	c.variantsByProduct = map[string][]domain.ProductVariant{}
	c.dealProductsByDeal = map[string][]domain.DealProduct{}
	c.orders = map[string]*domain.Order{}
	c.customers = map[string]*domain.Customer{}
	c.tables = nil
	c.payments = map[string][]domain.PaymentTransaction{}
	c.carts = map[domain.OrderType]Cart{}
	c.modifying = map[domain.OrderType]string{}
}

// SetUserID binds the cache to tenantID. In-memory content of the previous
// tenant is fully discarded first, then the persisted state of the new
// tenant is restored. A persisted reference snapshot makes the cache ready
// without a network round-trip.
func (c *Cache) SetUserID(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return ErrNoTenant
	}

	c.mu.Lock()
	c.generation++
	c.tenant = tenantID
	c.resetLocked()
	gen := c.generation
	c.mu.Unlock()

	values, err := c.backend.LoadValues(ctx, tenantID, restoreKeys())
	if err != nil {
		// Unreadable storage leaves an empty, unready cache; the tenant is
		// still bound so InitializeCache can proceed.
		c.logger.Error("failed to read persisted cache", "tenant", tenantID, "error", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return ErrTenantChanged
	}
	c.restoreLocked(values)
	c.logger.Info("cache bound to tenant",
		"tenant", tenantID,
		"ready", c.ready,
		"orders", len(c.orders),
		"customers", len(c.customers))
	return nil
}

// TenantID returns the bound tenant.
func (c *Cache) TenantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenant
}

// InitializeCache fetches the full reference snapshot for the bound
// tenant. On success the cache is ready; on failure readiness is left
// unchanged and the call can be retried.
//
// Tables and customers from the snapshot are merged with local ones:
// entities with unsynced local changes keep their local state.
func (c *Cache) InitializeCache(ctx context.Context) error {
	c.mu.RLock()
	tenant, gen := c.tenant, c.generation
	c.mu.RUnlock()
	if tenant == "" {
		return ErrNoTenant
	}

	snap, err := c.source.FetchSnapshot(ctx, tenant)
	if err != nil {
		return fmt.Errorf("initialize cache for %s: %w", tenant, err)
	}
	if snap.LoadedAt.IsZero() {
		snap.LoadedAt = c.now().UTC()
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return ErrTenantChanged
	}
	c.applySnapshotLocked(snap)
	c.mergeTablesLocked(snap.Tables)
	c.mergeCustomersLocked(snap.Customers)
	c.ready = true
	entries, err := c.encodeLocked(true)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.backend.SetValues(ctx, tenant, entries); err != nil {
		// The snapshot is usable in memory; persistence is retried on the
		// next save.
		c.logger.Error("failed to persist snapshot", "tenant", tenant, "error", err)
	}
	c.logger.Info("cache initialized",
		"tenant", tenant,
		"categories", len(snap.Categories),
		"products", len(snap.Products),
		"tables", len(snap.Tables))
	return nil
}

// IsReady reports whether the reference snapshot of the bound tenant has
// loaded at least once.
func (c *Cache) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// WaitReady polls for readiness, attempting InitializeCache on each
// attempt, and gives up after attempts polls spaced by interval.
func (c *Cache) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if c.IsReady() {
			return nil
		}
		err := c.InitializeCache(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Debug("cache not ready", "attempt", i+1, "error", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	if c.IsReady() {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrReadinessTimeout, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrReadinessTimeout, attempts)
}

// RefreshTables reloads the table list from the remote store, keeping
// local unsynced table state.
func (c *Cache) RefreshTables(ctx context.Context) error {
	return c.refresh(ctx, func(snap domain.Snapshot) {
		c.mergeTablesLocked(snap.Tables)
	})
}

// RefreshCustomers reloads the customer list from the remote store,
// keeping local unsynced customers.
func (c *Cache) RefreshCustomers(ctx context.Context) error {
	return c.refresh(ctx, func(snap domain.Snapshot) {
		c.mergeCustomersLocked(snap.Customers)
	})
}

func (c *Cache) refresh(ctx context.Context, apply func(domain.Snapshot)) error {
	c.mu.RLock()
	tenant, gen := c.tenant, c.generation
	c.mu.RUnlock()
	if tenant == "" {
		return ErrNoTenant
	}

	snap, err := c.source.FetchSnapshot(ctx, tenant)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return ErrTenantChanged
	}
	apply(snap)
	c.mu.Unlock()
	return c.SaveCacheToStorage(ctx)
}

func (c *Cache) applySnapshotLocked(snap domain.Snapshot) {
	c.snapshot = snap
	c.variantsByProduct = make(map[string][]domain.ProductVariant)
	for _, v := range snap.ProductVariants {
		c.variantsByProduct[v.ProductID] = append(c.variantsByProduct[v.ProductID], v)
	}
	c.dealProductsByDeal = make(map[string][]domain.DealProduct)
	for _, dp := range snap.DealProducts {
		c.dealProductsByDeal[dp.DealID] = append(c.dealProductsByDeal[dp.DealID], dp)
	}
}

func (c *Cache) mergeTablesLocked(remoteTables []domain.Table) {
	local := make(map[string]domain.Table, len(c.tables))
	for _, t := range c.tables {
		local[t.ID] = t
	}
	merged := make([]domain.Table, 0, len(remoteTables))
	for _, t := range remoteTables {
		if l, ok := local[t.ID]; ok && !l.IsSynced {
			t.Status = l.Status
			t.CurrentOrder = l.CurrentOrder
			t.IsSynced = false
		} else {
			t.IsSynced = true
		}
		merged = append(merged, t)
	}
	c.tables = merged
}

// mergeCustomersLocked replaces synced customers with the remote list.
// An unsynced local customer stays, and a remote customer with the same
// phone is left out until the local create syncs and the engine rewrites
// the local id onto it.
func (c *Cache) mergeCustomersLocked(remoteCustomers []domain.Customer) {
	next := make(map[string]*domain.Customer, len(remoteCustomers))
	held := make(map[string]string)
	for id, lc := range c.customers {
		if !lc.IsSynced {
			next[id] = lc
			if lc.Phone != "" {
				held[lc.Phone] = id
			}
		}
	}
	for _, rc := range remoteCustomers {
		if _, ok := next[rc.ID]; ok {
			continue
		}
		if id, ok := held[rc.Phone]; ok && id != rc.ID {
			c.logger.Debug("remote customer shadowed by unsynced local one",
				"remote_id", rc.ID, "local_id", id)
			continue
		}
		rc.IsSynced = true
		next[rc.ID] = &rc
	}
	c.customers = next
}

// Reads. None of these fail; before readiness they return empty slices.

// GetCategories returns the categories in snapshot order.
func (c *Cache) GetCategories() []domain.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrEmpty(c.snapshot.Categories)
}

// GetProducts returns the products in snapshot order.
func (c *Cache) GetProducts() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrEmpty(c.snapshot.Products)
}

// GetDeals returns the deals in snapshot order.
func (c *Cache) GetDeals() []domain.Deal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrEmpty(c.snapshot.Deals)
}

// GetProductVariants returns the variants of productID.
func (c *Cache) GetProductVariants(productID string) []domain.ProductVariant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrEmpty(c.variantsByProduct[productID])
}

// GetDealProducts returns the slots of dealID.
func (c *Cache) GetDealProducts(dealID string) []domain.DealProduct {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.DealProduct, 0, len(c.dealProductsByDeal[dealID]))
	for _, dp := range c.dealProductsByDeal[dealID] {
		dp.VariantIDs = slices.Clone(dp.VariantIDs)
		out = append(out, dp)
	}
	return out
}

// GetAllTables returns the tables with their current status.
func (c *Cache) GetAllTables() []domain.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrEmpty(c.tables)
}

// GetAllCustomers returns every customer, ordered by name then id.
func (c *Cache) GetAllCustomers() []domain.Customer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Customer, 0, len(c.customers))
	for _, cu := range c.customers {
		out = append(out, *cu)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int {
		return cmp.Or(cmp.Compare(a.FullName, b.FullName), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Snapshot returns a copy of the reference snapshot.
func (c *Cache) Snapshot() domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snapshot
	s.Categories = cloneOrEmpty(s.Categories)
	s.Products = cloneOrEmpty(s.Products)
	s.ProductVariants = cloneOrEmpty(s.ProductVariants)
	s.Deals = cloneOrEmpty(s.Deals)
	s.DealProducts = cloneOrEmpty(s.DealProducts)
	s.Tables = cloneOrEmpty(c.tables)
	s.Customers = make([]domain.Customer, 0, len(c.customers))
	for _, cu := range c.customers {
		s.Customers = append(s.Customers, *cu)
	}
	slices.SortFunc(s.Customers, func(a, b domain.Customer) int { return cmp.Compare(a.ID, b.ID) })
	return s
}

func cloneOrEmpty[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
