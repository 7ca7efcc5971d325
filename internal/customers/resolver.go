package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
)

// ErrInvalidPhone is returned when a phone has no digits.
var ErrInvalidPhone = errors.New("invalid phone number")

// DefaultRemoteTimeout bounds the online create round-trip before the
// resolver falls back to an offline create.
const DefaultRemoteTimeout = 3 * time.Second

// Data holds the optional fields of a customer.
type Data struct {
	FullName string `json:"full_name"`
	Address  string `json:"address,omitempty"`
}

// Result describes how FindOrCreateCustomer resolved a phone.
type Result struct {
	Customer domain.Customer `json:"customer"`
	Created  bool            `json:"created"`
	// Patched is set when an existing customer got new field values.
	Patched bool `json:"patched,omitempty"`
	// IsOffline is set when the write was only applied locally.
	IsOffline  bool   `json:"isOffline"`
	MutationID string `json:"mutation_id,omitempty"`
}

// Connectivity reports whether the remote store is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Payload is the body of a customer create or update mutation.
type Payload struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Address  string `json:"address,omitempty"`
}

// Resolver implements find-or-create by normalized phone.
type Resolver struct {
	cache   *cache.Cache
	queue   *queue.Queue
	applier remote.Applier
	net     Connectivity
	ids     domain.IDGenerator
	region  string
	timeout time.Duration
	now     func() time.Time
	kick    func()
	logger  *slog.Logger

	// mu serializes cache and queue writes. It is never held across a
	// remote call.
	mu sync.Mutex
	// inflight collapses concurrent online creates of one phone.
	inflight singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRegion sets the default region (ISO 3166 alpha-2) for numbers
// written without a country code.
func WithRegion(region string) Option {
	return func(r *Resolver) { r.region = strings.ToUpper(region) }
}

// WithApplier enables the online create path.
func WithApplier(a remote.Applier) Option {
	return func(r *Resolver) { r.applier = a }
}

// WithRemoteTimeout bounds the online create.
func WithRemoteTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithIDGenerator sets the generator of local-temporary ids.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(r *Resolver) { r.ids = gen }
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithKick registers a callback run after a mutation is queued while
// online.
func WithKick(kick func()) Option {
	return func(r *Resolver) { r.kick = kick }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver.
func New(c *cache.Cache, q *queue.Queue, net Connectivity, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   c,
		queue:   q,
		net:     net,
		ids:     domain.UUIDv7Generator{},
		timeout: DefaultRemoteTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizePhone normalizes raw with the resolver's region.
func (r *Resolver) NormalizePhone(raw string) string {
	return NormalizePhone(raw, r.region)
}

// FindOrCreateCustomer returns the customer holding phone, creating it if
// none exists.
//
// An existing customer is patched with the non-empty fields of data. A new
// customer is created remotely when online; offline, or when the remote
// call fails transiently, it gets a local-temporary id and a queued create.
// The remote round-trip runs outside the resolver lock, and concurrent
// calls for one phone share it.
func (r *Resolver) FindOrCreateCustomer(ctx context.Context, phone string, data Data) (Result, error) {
	normalized := r.NormalizePhone(phone)
	if normalized == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}

	r.mu.Lock()
	tenant := r.cache.TenantID()
	if tenant == "" {
		r.mu.Unlock()
		return Result{}, cache.ErrNoTenant
	}
	if existing, ok := r.cache.FindCustomerByPhone(normalized); ok {
		defer r.mu.Unlock()
		return r.patch(ctx, tenant, existing, data)
	}
	if r.applier == nil || !r.net.IsOnline() {
		defer r.mu.Unlock()
		return r.createOffline(ctx, tenant, r.newCustomer(normalized, data))
	}
	r.mu.Unlock()

	v, err, _ := r.inflight.Do(tenant+"/"+normalized, func() (any, error) {
		return r.createOnline(ctx, tenant, normalized, data)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Exclusive runs fn with resolution blocked, so no write can land on a
// tenant that is being unbound.
func (r *Resolver) Exclusive(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

func (r *Resolver) newCustomer(phone string, data Data) domain.Customer {
	now := r.now().UTC()
	return domain.Customer{
		ID:        domain.NewLocalID(r.ids),
		Phone:     phone,
		FullName:  strings.TrimSpace(data.FullName),
		Address:   strings.TrimSpace(data.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Resolver) createOnline(ctx context.Context, tenant, phone string, data Data) (Result, error) {
	// A call that finished just before this one may already hold phone.
	if existing, ok := r.cache.FindCustomerByPhone(phone); ok {
		return Result{Customer: existing}, nil
	}
	cu := r.newCustomer(phone, data)
	created, err := r.createRemote(ctx, tenant, cu)
	if err == nil {
		return created, nil
	}
	if remote.IsBusiness(err) {
		return Result{}, fmt.Errorf("create customer: %w", err)
	}
	if errors.Is(err, cache.ErrTenantChanged) {
		return Result{}, err
	}
	r.logger.Warn("online customer create failed, queuing offline",
		"tenant", tenant, "phone", phone, "error", err)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.TenantID() != tenant {
		return Result{}, cache.ErrTenantChanged
	}
	return r.createOffline(ctx, tenant, cu)
}

func (r *Resolver) createRemote(ctx context.Context, tenant string, cu domain.Customer) (Result, error) {
	payload, err := domain.MarshalCanonical(payloadOf(cu))
	if err != nil {
		return Result{}, err
	}
	now := r.now().UTC()
	m := domain.Mutation{
		ID:         r.ids.Generate(),
		TenantID:   tenant,
		EntityType: domain.EntityCustomer,
		EntityID:   cu.ID,
		Operation:  domain.OpCreate,
		Payload:    payload,
		State:      domain.StateSyncing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ack, err := r.applier.Apply(callCtx, m)
	if err != nil {
		return Result{}, err
	}

	if ack.ServerID != "" {
		cu.ID = ack.ServerID
	}
	cu.IsSynced = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.TenantID() != tenant {
		// The next snapshot of tenant carries the customer.
		r.logger.Warn("tenant changed during customer create", "tenant", tenant, "customer_id", cu.ID)
		return Result{}, cache.ErrTenantChanged
	}
	stored, ok := r.cache.PutCustomer(cu)
	if err := r.cache.SaveCacheToStorage(ctx); err != nil {
		r.logger.Error("failed to persist customer", "customer_id", cu.ID, "error", err)
	}
	r.logger.Info("customer created", "tenant", tenant, "customer_id", stored.ID, "phone", cu.Phone)
	return Result{Customer: stored, Created: ok}, nil
}

func (r *Resolver) createOffline(ctx context.Context, tenant string, cu domain.Customer) (Result, error) {
	if existing, ok := r.cache.FindCustomerByPhone(cu.Phone); ok {
		return Result{Customer: existing}, nil
	}
	m, err := r.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityCustomer,
		EntityID:   cu.ID,
		Operation:  domain.OpCreate,
		Payload:    payloadOf(cu),
	})
	if err != nil {
		return Result{}, fmt.Errorf("queue customer create: %w", err)
	}
	stored, _ := r.cache.PutCustomer(cu)
	if err := r.cache.SaveCacheToStorage(ctx); err != nil {
		r.logger.Error("failed to persist customer", "customer_id", cu.ID, "error", err)
	}
	r.logger.Info("customer created locally",
		"tenant", tenant, "customer_id", cu.ID, "mutation_id", m.ID)
	r.notify()
	return Result{Customer: stored, Created: true, IsOffline: true, MutationID: m.ID}, nil
}

// patch applies the non-empty fields of data to an existing customer and
// queues an update when anything changed.
func (r *Resolver) patch(ctx context.Context, tenant string, existing domain.Customer, data Data) (Result, error) {
	name := strings.TrimSpace(data.FullName)
	addr := strings.TrimSpace(data.Address)
	changed := (name != "" && name != existing.FullName) || (addr != "" && addr != existing.Address)
	if !changed {
		return Result{Customer: existing}, nil
	}

	updated := existing
	if name != "" {
		updated.FullName = name
	}
	if addr != "" {
		updated.Address = addr
	}
	updated.IsSynced = false
	updated.UpdatedAt = r.now().UTC()

	m, err := r.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityCustomer,
		EntityID:   updated.ID,
		Operation:  domain.OpUpdate,
		Payload:    payloadOf(updated),
	})
	if err != nil {
		return Result{}, fmt.Errorf("queue customer update: %w", err)
	}
	r.cache.UpdateCustomer(updated.ID, func(cu *domain.Customer) {
		cu.FullName = updated.FullName
		cu.Address = updated.Address
		cu.IsSynced = false
		cu.UpdatedAt = updated.UpdatedAt
	})
	if err := r.cache.SaveCacheToStorage(ctx); err != nil {
		r.logger.Error("failed to persist customer", "customer_id", updated.ID, "error", err)
	}
	r.notify()
	return Result{
		Customer:   updated,
		Patched:    true,
		IsOffline:  !r.net.IsOnline(),
		MutationID: m.ID,
	}, nil
}

// SearchSuggestions matches phone, name or address substrings. Purely
// local; a term that looks like a phone number is also matched in its
// normalized form.
func (r *Resolver) SearchSuggestions(term string, limit int) []domain.Customer {
	out := r.cache.SearchCustomers(term, limit)
	if len(out) > 0 {
		return out
	}
	if n := r.NormalizePhone(term); n != "" && n != strings.TrimSpace(term) {
		return r.cache.SearchCustomers(n, limit)
	}
	return out
}

func (r *Resolver) notify() {
	if r.kick != nil && r.net.IsOnline() {
		r.kick()
	}
}

func payloadOf(cu domain.Customer) Payload {
	return Payload{ID: cu.ID, Phone: cu.Phone, FullName: cu.FullName, Address: cu.Address}
}
