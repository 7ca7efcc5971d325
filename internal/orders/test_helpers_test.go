package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/netmon"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
	"github.com/airoxlab/bizposcash-sub002/internal/testutil"
)

const tenant = "tenant-a"

type fixture struct {
	orders *Manager
	cache  *cache.Cache
	queue  *queue.Queue
	store  *store.Store
	mem    *remote.Memory
	net    *netmon.Monitor
	clock  *testutil.ManualClock
	kicks  int
}

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Products: []domain.Product{
			{ID: "p-1", Name: "Zinger", BasePrice: decimal.NewFromInt(550), IsActive: true},
			{ID: "p-2", Name: "Fries", BasePrice: decimal.NewFromInt(200), IsActive: true},
		},
		Deals: []domain.Deal{{ID: "d-1", Name: "Combo", Price: decimal.NewFromInt(900), IsActive: true}},
		DealProducts: []domain.DealProduct{
			{ID: "dp-1", DealID: "d-1", ProductID: "p-1", Name: "Zinger", Quantity: 1},
			{ID: "dp-2", DealID: "d-1", ProductID: "p-2", Name: "Fries", Quantity: 2},
		},
		Tables: []domain.Table{
			{ID: "t-1", TableNumber: "1", Capacity: 4, Status: domain.TableAvailable},
			{ID: "t-2", TableNumber: "2", Capacity: 2, Status: domain.TableAvailable},
		},
	}
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Time{})

	mem := remote.NewMemory()
	mem.SetSnapshot(tenant, testSnapshot())
	st := testutil.NewStore(t)
	c := cache.New(st, mem, cache.WithNow(clock.Now))
	require.NoError(t, c.SetUserID(ctx, tenant))
	require.NoError(t, c.InitializeCache(ctx))

	q, err := queue.Open(ctx, st, queue.WithNow(clock.Now), queue.WithIDGenerator(domain.NewSequenceGenerator("m")))
	require.NoError(t, err)

	f := &fixture{cache: c, queue: q, store: st, mem: mem, clock: clock}
	f.net = netmon.New(mem, netmon.WithInitialOnline(online))
	f.orders = New(c, q, f.net,
		WithTerminalID("till-1"),
		WithNow(clock.Now),
		WithIDGenerator(domain.NewSequenceGenerator("o")),
		WithKick(func() { f.kicks++ }))
	return f
}

func testDraft(tableID string) Draft {
	return Draft{
		OrderType: domain.OrderTypeWalkIn,
		TableID:   tableID,
		Items: []domain.OrderItem{
			{LineID: "l-1", ProductID: "p-2", Name: "Fries", Quantity: 2, FinalPrice: decimal.NewFromInt(200)},
			{LineID: "l-2", DealID: "d-1", Name: "Combo", Quantity: 1, FinalPrice: decimal.NewFromInt(900)},
		},
	}
}

// placeOrder places testDraft and returns the local order id.
func (f *fixture) placeOrder(t *testing.T, tableID string) string {
	t.Helper()
	res, err := f.orders.PlaceOrder(context.Background(), testDraft(tableID))
	require.NoError(t, err)
	require.True(t, res.Success)
	return res.OrderID
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	n, err := f.queue.PendingCount(context.Background(), tenant)
	require.NoError(t, err)
	return n
}

func (f *fixture) mutations(t *testing.T, entityType domain.EntityType, entityID string) []domain.Mutation {
	t.Helper()
	ms, err := f.queue.List(context.Background(), store.ListFilter{
		TenantID:   tenant,
		EntityType: entityType,
		EntityID:   entityID,
		Unsynced:   true,
	})
	require.NoError(t, err)
	return ms
}

func operations(ms []domain.Mutation) []domain.Operation {
	ops := make([]domain.Operation, len(ms))
	for i, m := range ms {
		ops[i] = m.Operation
	}
	return ops
}
