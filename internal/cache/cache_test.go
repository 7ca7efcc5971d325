package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

func TestCache_ReadsBeforeReadinessAreEmpty(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.cache.IsReady())
	assert.NotNil(t, f.cache.GetCategories())
	assert.Empty(t, f.cache.GetCategories())
	assert.Empty(t, f.cache.GetProducts())
	assert.Empty(t, f.cache.GetDeals())
	assert.Empty(t, f.cache.GetProductVariants("p-1"))
	assert.Empty(t, f.cache.GetDealProducts("d-1"))
	assert.Empty(t, f.cache.GetAllTables())
	assert.Empty(t, f.cache.GetAllCustomers())
}

func TestCache_InitializeRequiresTenant(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.cache.InitializeCache(context.Background()), ErrNoTenant)
	assert.ErrorIs(t, f.cache.SetUserID(context.Background(), ""), ErrNoTenant)
}

func TestCache_InitializeLoadsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	assert.True(t, f.cache.IsReady())
	assert.Len(t, f.cache.GetCategories(), 1)
	assert.Len(t, f.cache.GetProducts(), 2)
	assert.Len(t, f.cache.GetProductVariants("p-1"), 2)
	assert.Empty(t, f.cache.GetProductVariants("p-2"))
	assert.Len(t, f.cache.GetDealProducts("d-1"), 1)
	assert.Len(t, f.cache.GetAllTables(), 2)
	require.Len(t, f.cache.GetAllCustomers(), 1)
	assert.True(t, f.cache.GetAllCustomers()[0].IsSynced)
	assert.Equal(t, f.clock.Now(), f.cache.Snapshot().LoadedAt)
}

func TestCache_InitializeFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))

	f.mem.SetOnline(false)
	require.Error(t, f.cache.InitializeCache(ctx))
	assert.False(t, f.cache.IsReady())

	f.mem.SetOnline(true)
	require.NoError(t, f.cache.InitializeCache(ctx))
	assert.True(t, f.cache.IsReady())
}

func TestCache_ReadsReturnCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	tables := f.cache.GetAllTables()
	tables[0].Status = domain.TableOccupied

	got, ok := f.cache.GetTable("t-1")
	require.True(t, ok)
	assert.Equal(t, domain.TableAvailable, got.Status)
}

func TestCache_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.SetSnapshot("tenant-b", testSnapshot())

	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))
	f.cache.PutOrder(testOrder("o-a"))
	_, ok := f.cache.PutCustomer(domain.Customer{ID: "local-c-a", Phone: "+923009999999", FullName: "Only A"})
	require.True(t, ok)
	require.NoError(t, f.cache.SaveCacheToStorage(ctx))

	require.NoError(t, f.cache.SetUserID(ctx, "tenant-b"))
	assert.False(t, f.cache.IsReady())
	assert.Empty(t, f.cache.GetOrders())
	_, found := f.cache.GetOrder("o-a")
	assert.False(t, found)

	require.NoError(t, f.cache.InitializeCache(ctx))
	for _, cu := range f.cache.GetAllCustomers() {
		assert.NotEqual(t, "local-c-a", cu.ID)
	}

	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	_, found = f.cache.GetOrder("o-a")
	assert.True(t, found)
}

func TestCache_RestoreAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	o := testOrder("o-1")
	o.Status = domain.StatusCompleted
	f.cache.PutOrder(o)
	require.NoError(t, f.cache.SetPaymentTransactions(ctx, "o-1", []domain.PaymentTransaction{{Method: "cash", Amount: o.TotalAmount}}))

	// A new process reading the same store, with the remote unreachable.
	f.mem.SetOnline(false)
	restarted := New(f.store, f.mem)
	require.NoError(t, restarted.SetUserID(ctx, "tenant-a"))

	assert.True(t, restarted.IsReady(), "persisted snapshot makes the cache ready")
	got, ok := restarted.GetOrder("o-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Len(t, restarted.GetPaymentTransactions("o-1"), 1)
	assert.Len(t, restarted.GetProducts(), 2)
}

func TestCache_CorruptFieldIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))
	f.cache.PutOrder(testOrder("o-1"))
	require.NoError(t, f.cache.SaveCacheToStorage(ctx))

	require.NoError(t, f.store.SetValues(ctx, "tenant-a", map[string]string{
		KeyOrders:   "undefined",
		KeyPayments: "{not json",
	}))

	restarted := New(f.store, f.mem)
	require.NoError(t, restarted.SetUserID(ctx, "tenant-a"))

	assert.Empty(t, restarted.GetOrders())
	assert.Empty(t, restarted.GetPaymentTransactions("o-1"))
	assert.True(t, restarted.IsReady())
	assert.Len(t, restarted.GetAllCustomers(), 1)
}

func TestCache_CorruptTablesFallBackToSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	require.NoError(t, f.store.SetValues(ctx, "tenant-a", map[string]string{KeyTables: "[{"}))

	restarted := New(f.store, f.mem)
	require.NoError(t, restarted.SetUserID(ctx, "tenant-a"))
	assert.Len(t, restarted.GetAllTables(), 2)
}

func TestCache_WaitReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))

	f.mem.SetOnline(false)
	err := f.cache.WaitReady(ctx, 3, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadinessTimeout)

	f.mem.SetOnline(true)
	require.NoError(t, f.cache.WaitReady(ctx, 3, time.Millisecond))
	assert.True(t, f.cache.IsReady())
}

func TestCache_RefreshTablesKeepsUnsyncedLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	f.cache.UpdateTable("t-1", func(tb *domain.Table) {
		tb.Status = domain.TableOccupied
		tb.CurrentOrder = "o-1"
		tb.IsSynced = false
	})

	snap := testSnapshot()
	snap.Tables[1].Status = domain.TableReserved
	f.mem.SetSnapshot("tenant-a", snap)
	require.NoError(t, f.cache.RefreshTables(ctx))

	t1, _ := f.cache.GetTable("t-1")
	t2, _ := f.cache.GetTable("t-2")
	assert.Equal(t, domain.TableOccupied, t1.Status)
	assert.False(t, t1.IsSynced)
	assert.Equal(t, domain.TableReserved, t2.Status)
	assert.True(t, t2.IsSynced)
}

func TestCache_RefreshCustomersKeepsLocalOnes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	_, ok := f.cache.PutCustomer(domain.Customer{ID: "local-1", Phone: "+923002222222", FullName: "Ali"})
	require.True(t, ok)
	require.NoError(t, f.cache.RefreshCustomers(ctx))

	assert.Len(t, f.cache.GetAllCustomers(), 2)
}

func TestCache_RefreshCustomersKeepsOnePerPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))

	_, ok := f.cache.PutCustomer(domain.Customer{ID: "local-1", Phone: "+923001234567", FullName: "Bilal"})
	require.True(t, ok)

	// Another terminal registered the same phone first.
	snap := testSnapshot()
	snap.Customers = append(snap.Customers, domain.Customer{ID: "srv-9", Phone: "+923001234567", FullName: "Bilal Ahmed"})
	f.mem.SetSnapshot("tenant-a", snap)
	require.NoError(t, f.cache.RefreshCustomers(ctx))

	var matches []domain.Customer
	for _, cu := range f.cache.GetAllCustomers() {
		if cu.Phone == "+923001234567" {
			matches = append(matches, cu)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, "local-1", matches[0].ID)
	assert.False(t, matches[0].IsSynced)

	// Once the create syncs the local id folds into the remote one.
	f.cache.RewriteCustomerID("local-1", "srv-9")
	require.NoError(t, f.cache.RefreshCustomers(ctx))
	cu, ok := f.cache.FindCustomerByPhone("+923001234567")
	require.True(t, ok)
	assert.Equal(t, "srv-9", cu.ID)
	assert.Len(t, f.cache.GetAllCustomers(), 2)
}
