package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/customers"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/netmon"
	"github.com/airoxlab/bizposcash-sub002/internal/orders"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
	"github.com/airoxlab/bizposcash-sub002/internal/testutil"
)

const tenant = "tenant-a"

type fixture struct {
	engine    *Engine
	orders    *orders.Manager
	customers *customers.Resolver
	cache     *cache.Cache
	queue     *queue.Queue
	mem       *remote.Memory
	net       *netmon.Monitor
	clock     *testutil.ManualClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Time{})

	mem := remote.NewMemory()
	mem.SetSnapshot(tenant, domain.Snapshot{
		Products: []domain.Product{
			{ID: "p-1", Name: "Zinger", BasePrice: decimal.NewFromInt(550), IsActive: true},
			{ID: "p-2", Name: "Fries", BasePrice: decimal.NewFromInt(200), IsActive: true},
		},
		Tables: []domain.Table{{ID: "t-1", TableNumber: "1", Capacity: 4, Status: domain.TableAvailable}},
	})
	st := testutil.NewStore(t)
	c := cache.New(st, mem, cache.WithNow(clock.Now))
	require.NoError(t, c.SetUserID(ctx, tenant))
	require.NoError(t, c.InitializeCache(ctx))

	q, err := queue.Open(ctx, st, queue.WithNow(clock.Now), queue.WithIDGenerator(domain.NewSequenceGenerator("m")))
	require.NoError(t, err)

	net := netmon.New(mem, netmon.WithPendingCounter(func(ctx context.Context) (int, error) {
		return q.PendingCount(ctx, tenant)
	}))
	f := &fixture{cache: c, queue: q, mem: mem, net: net, clock: clock}
	f.orders = orders.New(c, q, net,
		orders.WithTerminalID("till-1"),
		orders.WithNow(clock.Now),
		orders.WithIDGenerator(domain.NewSequenceGenerator("o")))
	f.customers = customers.New(c, q, net,
		customers.WithRegion("PK"),
		customers.WithApplier(mem),
		customers.WithNow(clock.Now),
		customers.WithIDGenerator(domain.NewSequenceGenerator("c")))

	opts = append([]Option{WithSideEffects(f.orders), WithWriters(f.orders, f.customers), WithNow(clock.Now)}, opts...)
	f.engine = New(c, q, mem, net, opts...)
	return f
}

func (f *fixture) placeOrder(t *testing.T, d orders.Draft) string {
	t.Helper()
	res, err := f.orders.PlaceOrder(context.Background(), d)
	require.NoError(t, err)
	return res.OrderID
}

func draft(tableID, customerID string) orders.Draft {
	return orders.Draft{
		OrderType:  domain.OrderTypeWalkIn,
		TableID:    tableID,
		CustomerID: customerID,
		Items: []domain.OrderItem{
			{LineID: "l-1", ProductID: "p-1", Name: "Zinger", Quantity: 2, FinalPrice: decimal.NewFromInt(550)},
		},
	}
}

func (f *fixture) unsynced(t *testing.T) int {
	t.Helper()
	return f.net.Status(context.Background()).UnsyncedOrders
}

func (f *fixture) drain(t *testing.T) Report {
	t.Helper()
	report, err := f.engine.DrainOnce(context.Background())
	require.NoError(t, err)
	return report
}

func TestDrainOnce_SyncsPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.placeOrder(t, draft("", ""))

	res, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusPreparing)
	require.NoError(t, err)
	require.True(t, res.IsOffline)
	before := f.unsynced(t)
	require.Equal(t, 2, before)

	f.net.SetOnline(true)
	report := f.drain(t)

	assert.Equal(t, 2, report.Synced)
	assert.Zero(t, f.unsynced(t))

	o, ok := f.cache.GetOrder("srv-order-1")
	require.True(t, ok, "order is rekeyed to its server id")
	assert.True(t, o.IsSynced)
	assert.Equal(t, domain.StatusPreparing, o.Status)
	_, ok = f.cache.GetOrder(id)
	assert.False(t, ok)

	body, _, ok := f.mem.Entity(tenant, domain.EntityOrder, "srv-order-1")
	require.True(t, ok)
	assert.Equal(t, string(domain.StatusPreparing), body["status"])
}

func TestDrainOnce_ReconcilesCustomerReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cres, err := f.customers.FindOrCreateCustomer(ctx, "03001234567", customers.Data{FullName: "Ali"})
	require.NoError(t, err)
	require.True(t, domain.IsLocalID(cres.Customer.ID))
	orderID := f.placeOrder(t, draft("t-1", cres.Customer.ID))

	f.net.SetOnline(true)
	report := f.drain(t)
	assert.Equal(t, 3, report.Synced, "customer, order and table")
	assert.Zero(t, report.Failed)

	_, ok := f.cache.GetCustomer(cres.Customer.ID)
	assert.False(t, ok)
	cu, ok := f.cache.GetCustomer("srv-customer-1")
	require.True(t, ok)
	assert.True(t, cu.IsSynced)
	assert.Equal(t, "+923001234567", cu.Phone)

	o, ok := f.cache.GetOrder("srv-order-1")
	require.True(t, ok)
	assert.Equal(t, "srv-customer-1", o.CustomerID)
	_, ok = f.cache.GetOrder(orderID)
	assert.False(t, ok)

	tb, _ := f.cache.GetTable("t-1")
	assert.Equal(t, "srv-order-1", tb.CurrentOrder)
	assert.True(t, tb.IsSynced)

	body, _, ok := f.mem.Entity(tenant, domain.EntityOrder, "srv-order-1")
	require.True(t, ok)
	assert.Equal(t, "srv-customer-1", body["customer_id"], "remote never sees the local id")
	tbody, _, _ := f.mem.Entity(tenant, domain.EntityTable, "t-1")
	assert.Equal(t, "srv-order-1", tbody["current_order_id"])
}

type countingWriter struct {
	next  Writer
	calls int
}

func (w *countingWriter) Exclusive(fn func() error) error {
	w.calls++
	return w.next.Exclusive(fn)
}

func TestDrainOnce_RewritesLocalIDWithWritesBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writer := &countingWriter{next: f.orders}
	f.engine = New(f.cache, f.queue, f.mem, f.net,
		WithSideEffects(f.orders),
		WithWriters(writer),
		WithNow(f.clock.Now))
	id := f.placeOrder(t, draft("", ""))
	f.net.SetOnline(true)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		qty := 2
		for {
			select {
			case <-stop:
				return
			default:
			}
			qty = qty%5 + 1
			// Fails with ErrOrderNotFound once the id is rewritten.
			_, _ = f.orders.UpdateCartItemQuantity(ctx, id, "l-1", qty)
		}
	}()
	f.drain(t)
	close(stop)
	wg.Wait()

	assert.Equal(t, 1, writer.calls)
	left, err := f.queue.Unsynced(ctx, tenant)
	require.NoError(t, err)
	for _, m := range left {
		assert.NotEqual(t, id, m.EntityID, "mutation %s queued under the rewritten id", m.ID)
	}
	_, ok := f.cache.GetOrder(id)
	assert.False(t, ok)
}

func TestDrainOnce_DefersDependentsOfFailedCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cres, err := f.customers.FindOrCreateCustomer(ctx, "03001234567", customers.Data{FullName: "Ali"})
	require.NoError(t, err)
	f.placeOrder(t, draft("", cres.Customer.ID))

	f.net.SetOnline(true)
	f.mem.FailNext(errors.New("connection reset"))
	report := f.drain(t)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Deferred, "order waits for its customer")
	assert.Len(t, f.mem.Applied(), 0)

	f.clock.Advance(time.Minute)
	report = f.drain(t)
	assert.Equal(t, 2, report.Synced)
	assert.Zero(t, f.unsynced(t))
}

func TestDrainOnce_TransientFailureDoesNotBlockOtherEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.placeOrder(t, draft("", ""))
	f.placeOrder(t, draft("", ""))

	f.net.SetOnline(true)
	f.mem.FailNext(remote.ErrUnreachable)
	report := f.drain(t)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Synced)

	m, err := f.queue.List(ctx, store.ListFilter{TenantID: tenant, EntityType: domain.EntityOrder, EntityID: first, Unsynced: true})
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, domain.StateFailed, m[0].State)
	assert.Equal(t, 1, m[0].Attempts)
	assert.True(t, testutil.Epoch.Add(queue.DefaultBaseBackoff).Equal(m[0].NextAttemptAt))

	report = f.drain(t)
	assert.Zero(t, report.Sent, "not due yet")

	f.clock.Advance(queue.DefaultBaseBackoff)
	report = f.drain(t)
	assert.Equal(t, 1, report.Synced)
	assert.Zero(t, f.unsynced(t))
}

func TestDrainOnce_PreservesPerEntityOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.placeOrder(t, draft("", ""))
	_, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusPreparing)
	require.NoError(t, err)
	_, err = f.orders.MarkPaid(ctx, id, "cash")
	require.NoError(t, err)
	_, err = f.orders.UpdateOrderStatus(ctx, id, domain.StatusReady)
	require.NoError(t, err)

	f.net.SetOnline(true)
	f.drain(t)

	var ops []domain.Operation
	for _, m := range f.mem.Applied() {
		ops = append(ops, m.Operation)
	}
	// Both status writes collapsed into one.
	assert.Equal(t, []domain.Operation{domain.OpCreate, domain.OpSetStatus, domain.OpSetPayment}, ops)

	body, _, _ := f.mem.Entity(tenant, domain.EntityOrder, "srv-order-1")
	assert.Equal(t, string(domain.StatusReady), body["status"])
	assert.Equal(t, string(domain.PaymentPaid), body["payment_status"])
}

func TestDrainOnce_ReplaysOfflineCompletionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.placeOrder(t, draft("t-1", ""))
	_, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusCompleted)
	require.NoError(t, err)

	f.net.SetOnline(true)
	report := f.drain(t)
	assert.Zero(t, report.Failed)
	assert.Zero(t, f.unsynced(t))
	assert.Equal(t, 1, f.mem.Deductions(tenant, "srv-order-1"))

	o, _ := f.cache.GetOrder("srv-order-1")
	assert.True(t, o.IsSynced)
	assert.False(t, o.SideEffectsDeferred)
	assert.True(t, o.InventoryScheduled)

	tb, _ := f.cache.GetTable("t-1")
	assert.Equal(t, domain.TableAvailable, tb.Status)
	assert.True(t, tb.IsSynced)
	tbody, _, _ := f.mem.Entity(tenant, domain.EntityTable, "t-1")
	assert.Equal(t, string(domain.TableAvailable), tbody["status"])

	// A second drain finds nothing; a retried id is not deducted twice.
	report = f.drain(t)
	assert.Zero(t, report.Sent)
	assert.Equal(t, 1, f.mem.Deductions(tenant, "srv-order-1"))
}

func TestDrainOnce_InsufficientStockWarns(t *testing.T) {
	var seen []Warning
	f := newFixture(t, WithWarningHandler(func(w Warning) { seen = append(seen, w) }))
	ctx := context.Background()
	f.mem.SetStock(tenant, "p-1", 1)

	f.net.SetOnline(true)
	id := f.placeOrder(t, draft("", ""))
	f.drain(t)
	newID := "srv-order-1"
	_, err := f.orders.UpdateOrderStatus(ctx, newID, domain.StatusCompleted)
	require.NoError(t, err)
	require.NotEqual(t, id, newID)

	report := f.drain(t)
	assert.Equal(t, 1, report.Rejected)
	require.Len(t, report.Warnings, 1)
	w := report.Warnings[0]
	assert.Equal(t, WarnInventory, w.Kind)
	assert.Equal(t, remote.CodeInsufficientStock, w.Code)
	assert.Equal(t, newID, w.EntityID)
	assert.Equal(t, []Warning{w}, seen)
	assert.Equal(t, []Warning{w}, f.engine.Warnings())

	o, _ := f.cache.GetOrder(newID)
	assert.Equal(t, domain.StatusCompleted, o.Status, "the sale stands")
	assert.True(t, o.NeedsInventoryReconciliation)
	assert.True(t, o.IsSynced)
	assert.Zero(t, f.unsynced(t))

	rejected, err := f.queue.List(ctx, store.ListFilter{TenantID: tenant, EntityType: domain.EntityOrder, EntityID: newID})
	require.NoError(t, err)
	last := rejected[len(rejected)-1]
	assert.Equal(t, domain.OpDeductInventory, last.Operation)
	assert.Equal(t, domain.StateSynced, last.State)
	assert.Contains(t, last.LastError, remote.CodeInsufficientStock)
}

func TestDrainOnce_VersionConflictFlagsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.net.SetOnline(true)
	f.placeOrder(t, draft("", ""))
	f.drain(t)
	id := "srv-order-1"

	// Another terminal writes first.
	_, err := f.mem.Apply(ctx, domain.Mutation{
		ID: "other-1", TenantID: tenant, EntityType: domain.EntityOrder, EntityID: id,
		Operation: domain.OpSetStatus,
		Payload:   []byte(`{"status":"Preparing","expected_version":1,"terminal_id":"till-2"}`),
	})
	require.NoError(t, err)

	_, err = f.orders.UpdateOrderStatus(ctx, id, domain.StatusCancelled)
	require.NoError(t, err)
	report := f.drain(t)

	require.NotEmpty(t, report.Warnings)
	assert.Equal(t, WarnConflict, report.Warnings[0].Kind)
	o, _ := f.cache.GetOrder(id)
	assert.True(t, o.SyncConflict)
}

func TestDrainOnce_RequiresTenant(t *testing.T) {
	st := testutil.NewStore(t)
	mem := remote.NewMemory()
	q, err := queue.Open(context.Background(), st)
	require.NoError(t, err)
	e := New(cache.New(st, mem), q, mem, netmon.New(mem))

	_, err = e.DrainOnce(context.Background())
	assert.ErrorIs(t, err, cache.ErrNoTenant)
}

type stubLocker struct {
	ok       bool
	err      error
	released int
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

func TestDrainOnce_Locker(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		lock := &stubLocker{}
		f := newFixture(t, WithLocker(lock, 0))
		f.placeOrder(t, draft("", ""))

		report := f.drain(t)
		assert.True(t, report.Skipped)
		assert.Equal(t, 1, f.unsynced(t))
	})

	t.Run("obtained", func(t *testing.T) {
		lock := &stubLocker{ok: true}
		f := newFixture(t, WithLocker(lock, time.Second))
		f.placeOrder(t, draft("", ""))

		report := f.drain(t)
		assert.Equal(t, 1, report.Synced)
		assert.Equal(t, 1, lock.released)
	})

	t.Run("lock backend down", func(t *testing.T) {
		lock := &stubLocker{err: errors.New("redis: connection refused")}
		f := newFixture(t, WithLocker(lock, 0))
		f.placeOrder(t, draft("", ""))

		report := f.drain(t)
		assert.Equal(t, 1, report.Synced, "drains unguarded")
	})
}

func TestRun_DrainsOnReconnectAndKick(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	f.placeOrder(t, draft("", ""))
	f.net.SetOnline(true)
	assert.Eventually(t, func() bool { return f.unsynced(t) == 0 }, 2*time.Second, 10*time.Millisecond)

	f.placeOrder(t, draft("", ""))
	f.engine.Kick()
	assert.Eventually(t, func() bool { return f.unsynced(t) == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestKick_NeverBlocks(t *testing.T) {
	f := newFixture(t)
	for range 10 {
		f.engine.Kick()
	}
}
