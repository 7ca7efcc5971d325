package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrLineNotFound    = errors.New("order line not found")
	ErrTableNotFound   = errors.New("table not found")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrEmptyOrder      = errors.New("order has no items")
	ErrOrderClosed     = errors.New("order is closed")
	ErrInvalidPayment  = errors.New("invalid payment")
	ErrInvalidInput    = errors.New("invalid input")
)

// Result is returned by every mutator. It never carries network errors:
// IsOffline tells whether the write was applied only locally.
type Result struct {
	Success    bool     `json:"success"`
	IsOffline  bool     `json:"isOffline"`
	OrderID    string   `json:"order_id,omitempty"`
	MutationID string   `json:"mutation_id,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Connectivity reports whether the remote store is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Manager applies order and table writes optimistically and queues them.
//
// Thread-safety: Manager is safe for concurrent use; writes are
// serialized so each one's cache change, mutation and persistence happen
// together.
type Manager struct {
	cache      *cache.Cache
	queue      *queue.Queue
	net        Connectivity
	ids        domain.IDGenerator
	terminalID string
	now        func() time.Time
	kick       func()
	logger     *slog.Logger

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithTerminalID names this terminal in version-checked payloads.
func WithTerminalID(id string) Option {
	return func(m *Manager) { m.terminalID = id }
}

// WithIDGenerator sets the generator of local-temporary ids and line ids.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(m *Manager) { m.ids = gen }
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithKick registers a callback run after a write while online, so the
// sync engine sends it right away.
func WithKick(kick func()) Option {
	return func(m *Manager) { m.kick = kick }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager.
func New(c *cache.Cache, q *queue.Queue, net Connectivity, opts ...Option) *Manager {
	m := &Manager{
		cache:  c,
		queue:  q,
		net:    net,
		ids:    domain.UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Draft is a new order as built at the counter.
type Draft struct {
	OrderType     domain.OrderType   `json:"order_type"`
	Items         []domain.OrderItem `json:"items"`
	TableID       string             `json:"table_id,omitempty"`
	CustomerID    string             `json:"customer_id,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
}

// PlaceOrder creates an order from d with a local-temporary id, occupies
// its table and clears the cart of its order type.
func (m *Manager) PlaceOrder(ctx context.Context, d Draft) (Result, error) {
	if !d.OrderType.Valid() {
		return Result{}, fmt.Errorf("%w: unknown order type %q", ErrInvalidInput, d.OrderType)
	}
	if len(d.Items) == 0 {
		return Result{}, ErrEmptyOrder
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	if d.TableID != "" {
		if _, ok := m.cache.GetTable(d.TableID); !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrTableNotFound, d.TableID)
		}
	}

	now := m.now().UTC()
	id := domain.NewLocalID(m.ids)
	o := domain.Order{
		ID:            id,
		OrderNumber:   orderNumber(now, id),
		OrderType:     d.OrderType,
		Status:        domain.StatusPlaced,
		Items:         make([]domain.OrderItem, len(d.Items)),
		PaymentMethod: d.PaymentMethod,
		PaymentStatus: domain.PaymentPending,
		TableID:       d.TableID,
		CustomerID:    d.CustomerID,
		Notes:         d.Notes,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, it := range d.Items {
		if it.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: line %d has quantity %d", ErrInvalidQuantity, i, it.Quantity)
		}
		if it.LineID == "" {
			it.LineID = m.ids.Generate()
		}
		o.Items[i] = it
	}
	o.Recalculate()

	mut, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   o.ID,
		Operation:  domain.OpCreate,
		Payload:    CreatePayload{Order: o, TerminalID: m.terminalID},
	})
	if err != nil {
		return Result{}, err
	}
	m.cache.PutOrder(o)

	if o.TableID != "" {
		if _, err := m.setTableLocked(ctx, tenant, o.TableID, domain.TableOccupied, o.ID); err != nil {
			return Result{}, err
		}
	}

	if err := m.cache.ClearCart(ctx, d.OrderType); err != nil {
		m.logger.Warn("failed to clear cart", "order_type", d.OrderType, "error", err)
	}
	res := m.finish(ctx, o.ID, mut.ID)
	m.logger.Info("order placed",
		"tenant", tenant,
		"order_id", o.ID,
		"total", o.TotalAmount.String(),
		"items", len(o.Items),
		"offline", res.IsOffline)
	return res, nil
}

// UpdateOrderStatus moves an order to status.
//
// An illegal transition returns a *domain.TransitionError and changes
// nothing. Same-status is a successful no-op. Completing an order also
// releases its table and schedules the inventory deduction once.
func (m *Manager) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	o, ok := m.cache.GetOrder(orderID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err := domain.CheckTransition(o.Status, status); err != nil {
		return Result{}, err
	}
	if o.Status == status {
		return Result{Success: true, IsOffline: !m.net.IsOnline(), OrderID: orderID}, nil
	}

	now := m.now().UTC()
	expected := o.Version
	mut, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   orderID,
		Operation:  domain.OpSetStatus,
		Payload: StatusPayload{
			Status:          status,
			ExpectedVersion: expected,
			TerminalID:      m.terminalID,
			UpdatedAt:       now,
		},
	})
	if err != nil {
		return Result{}, err
	}
	m.cache.UpdateOrder(orderID, func(o *domain.Order) {
		o.Status = status
		o.Version = expected + 1
		o.IsSynced = false
		o.UpdatedAt = now
	})

	var warnings []string
	if status.IsTerminal() {
		if m.net.IsOnline() {
			warnings, err = m.sideEffectsLocked(ctx, tenant, orderID)
			if err != nil {
				return Result{}, err
			}
		} else {
			warnings, err = m.deferSideEffectsLocked(ctx, tenant, orderID)
			if err != nil {
				return Result{}, err
			}
		}
	}

	res := m.finish(ctx, orderID, mut.ID)
	res.Warnings = warnings
	m.logger.Info("order status updated",
		"tenant", tenant,
		"order_id", orderID,
		"from", o.Status,
		"to", status,
		"mutation_id", mut.ID,
		"offline", res.IsOffline)
	return res, nil
}

// ReplayDeferred queues the inventory deduction of an order completed
// while offline. The sync engine calls it once the terminal status write is
// acknowledged. Orders without deferred effects are left alone.
func (m *Manager) ReplayDeferred(ctx context.Context, orderID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return nil, err
	}

	warnings, err := m.replayLocked(ctx, tenant, orderID)
	if err != nil {
		return nil, err
	}
	if err := m.cache.SaveCacheToStorage(ctx); err != nil {
		m.logger.Error("failed to persist cache", "order_id", orderID, "error", err)
	}
	return warnings, nil
}

func (m *Manager) replayLocked(ctx context.Context, tenant, orderID string) ([]string, error) {
	o, ok := m.cache.GetOrder(orderID)
	if !ok || !o.SideEffectsDeferred {
		return nil, nil
	}
	if o.Status == domain.StatusCompleted {
		if err := m.scheduleInventoryLocked(ctx, tenant, orderID); err != nil {
			return nil, err
		}
	}
	m.cache.UpdateOrder(orderID, func(o *domain.Order) { o.SideEffectsDeferred = false })
	m.logger.Info("replayed deferred side effects", "tenant", tenant, "order_id", orderID)
	return nil, nil
}

// sideEffectsLocked queues the effects of closing an order: its table is
// released, and a completed order gets its inventory deduction.
func (m *Manager) sideEffectsLocked(ctx context.Context, tenant, orderID string) ([]string, error) {
	o, _ := m.cache.GetOrder(orderID)
	var warnings []string
	if o.TableID != "" {
		w, err := m.releaseTableLocked(ctx, tenant, o.TableID, orderID)
		if err != nil {
			return nil, err
		}
		if w != "" {
			warnings = append(warnings, w)
		}
	}
	if o.Status == domain.StatusCompleted {
		if err := m.scheduleInventoryLocked(ctx, tenant, orderID); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

// deferSideEffectsLocked queues the table release at once, since tables
// sync in their own lane. A completed order is flagged so its inventory
// deduction follows the acknowledged status write.
func (m *Manager) deferSideEffectsLocked(ctx context.Context, tenant, orderID string) ([]string, error) {
	o, _ := m.cache.GetOrder(orderID)
	var warnings []string
	if o.TableID != "" {
		w, err := m.releaseTableLocked(ctx, tenant, o.TableID, orderID)
		if err != nil {
			return nil, err
		}
		if w != "" {
			warnings = append(warnings, w)
		}
	}
	if o.Status == domain.StatusCompleted && !o.InventoryScheduled {
		m.cache.UpdateOrder(orderID, func(o *domain.Order) { o.SideEffectsDeferred = true })
	}
	return warnings, nil
}

// scheduleInventoryLocked enqueues the deduction of a completed order
// behind its status write. It runs at most once per order.
func (m *Manager) scheduleInventoryLocked(ctx context.Context, tenant, orderID string) error {
	o, _ := m.cache.GetOrder(orderID)
	if o.InventoryScheduled {
		return nil
	}
	payload := remote.InventoryPayload{OrderID: orderID, Items: m.inventoryLines(o)}
	if _, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   orderID,
		Operation:  domain.OpDeductInventory,
		Payload:    payload,
	}); err != nil {
		return err
	}
	m.cache.UpdateOrder(orderID, func(o *domain.Order) { o.InventoryScheduled = true })
	return nil
}

// inventoryLines flattens product lines and the products inside deal
// lines into per-product quantities.
func (m *Manager) inventoryLines(o domain.Order) []remote.InventoryLine {
	var lines []remote.InventoryLine
	for _, it := range o.Items {
		if !it.IsDeal() {
			lines = append(lines, remote.InventoryLine{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Quantity:  it.Quantity,
			})
			continue
		}
		for _, dp := range m.cache.GetDealProducts(it.DealID) {
			lines = append(lines, remote.InventoryLine{
				ProductID: dp.ProductID,
				Quantity:  dp.Quantity * it.Quantity,
			})
		}
	}
	return lines
}

// UpdateCartItemQuantity sets the quantity of one line of an open order.
// A quantity of zero removes the line. Rapid successive edits collapse
// into a single queued update_items.
func (m *Manager) UpdateCartItemQuantity(ctx context.Context, orderID, lineID string, quantity int) (Result, error) {
	if quantity < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	o, ok := m.cache.GetOrder(orderID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrOrderClosed, orderID, o.Status)
	}
	idx := o.FindItem(lineID)
	if idx < 0 {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrLineNotFound, orderID, lineID)
	}
	if quantity == 0 && len(o.Items) == 1 {
		return Result{}, ErrEmptyOrder
	}
	if o.Items[idx].Quantity == quantity {
		return Result{Success: true, IsOffline: !m.net.IsOnline(), OrderID: orderID}, nil
	}

	now := m.now().UTC()
	expected := o.Version
	edit := func(o *domain.Order) {
		if quantity == 0 {
			o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
		} else {
			o.Items[idx].Quantity = quantity
		}
		o.Recalculate()
		o.Version = expected + 1
		o.IsSynced = false
		o.UpdatedAt = now
	}
	updated := o.Clone()
	edit(&updated)

	mut, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   orderID,
		Operation:  domain.OpUpdateItems,
		Payload: ItemsPayload{
			Items:           updated.Items,
			TotalAmount:     updated.TotalAmount,
			ExpectedVersion: expected,
			TerminalID:      m.terminalID,
			UpdatedAt:       now,
		},
	})
	if err != nil {
		return Result{}, err
	}
	m.cache.UpdateOrder(orderID, edit)
	return m.finish(ctx, orderID, mut.ID), nil
}

// SetCustomer links a customer to an order. The customer id may still be
// local-temporary; the sync engine rewrites it once the customer syncs.
func (m *Manager) SetCustomer(ctx context.Context, orderID, customerID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	o, ok := m.cache.GetOrder(orderID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	now := m.now().UTC()
	expected := o.Version
	mut, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   orderID,
		Operation:  domain.OpUpdate,
		Payload: CustomerPayload{
			CustomerID:      customerID,
			ExpectedVersion: expected,
			TerminalID:      m.terminalID,
			UpdatedAt:       now,
		},
	})
	if err != nil {
		return Result{}, err
	}
	m.cache.UpdateOrder(orderID, func(o *domain.Order) {
		o.CustomerID = customerID
		o.Version = expected + 1
		o.IsSynced = false
		o.UpdatedAt = now
	})
	return m.finish(ctx, orderID, mut.ID), nil
}

// Exclusive runs fn with every order and table write blocked.
func (m *Manager) Exclusive(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

// finish persists the cache before returning control and wakes the sync
// engine when online. A persistence failure is logged: the mutation is
// already durable and Rehydrate reapplies it after a restart.
func (m *Manager) finish(ctx context.Context, orderID, mutationID string) Result {
	if err := m.cache.SaveCacheToStorage(ctx); err != nil {
		m.logger.Error("failed to persist cache", "order_id", orderID, "error", err)
	}
	online := m.net.IsOnline()
	if online && m.kick != nil {
		m.kick()
	}
	return Result{Success: true, IsOffline: !online, OrderID: orderID, MutationID: mutationID}
}

func (m *Manager) tenant() (string, error) {
	t := m.cache.TenantID()
	if t == "" {
		return "", cache.ErrNoTenant
	}
	return t, nil
}

// orderNumber is the human-facing number printed on receipts. The server
// may replace it on sync.
func orderNumber(now time.Time, id string) string {
	suffix := id
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return now.Format("060102") + "-" + suffix
}
