package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

func readyFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetUserID(ctx, "tenant-a"))
	require.NoError(t, f.cache.InitializeCache(ctx))
	return f
}

func TestCache_UpdateOrder(t *testing.T) {
	f := readyFixture(t)
	f.cache.PutOrder(testOrder("o-1"))

	ok := f.cache.UpdateOrder("o-1", func(o *domain.Order) { o.Status = domain.StatusReady })
	require.True(t, ok)
	got, _ := f.cache.GetOrder("o-1")
	assert.Equal(t, domain.StatusReady, got.Status)

	assert.False(t, f.cache.UpdateOrder("missing", func(*domain.Order) {}))
}

func TestCache_GetOrderReturnsDeepCopy(t *testing.T) {
	f := readyFixture(t)
	f.cache.PutOrder(testOrder("o-1"))

	got, _ := f.cache.GetOrder("o-1")
	got.Items[0].Quantity = 99

	again, _ := f.cache.GetOrder("o-1")
	assert.Equal(t, 2, again.Items[0].Quantity)
}

func TestCache_MergeRemoteOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("local unsynced wins", func(t *testing.T) {
		f := readyFixture(t)
		local := testOrder("o-1")
		local.Status = domain.StatusReady
		f.cache.PutOrder(local)

		remoteCopy := testOrder("o-1")
		remoteCopy.Status = domain.StatusPreparing
		changed, err := f.cache.MergeRemoteOrder(ctx, remoteCopy)
		require.NoError(t, err)
		assert.False(t, changed)

		got, _ := f.cache.GetOrder("o-1")
		assert.Equal(t, domain.StatusReady, got.Status)
	})

	t.Run("synced copy is replaced", func(t *testing.T) {
		f := readyFixture(t)
		local := testOrder("o-1")
		local.IsSynced = true
		f.cache.PutOrder(local)

		remoteCopy := testOrder("o-1")
		remoteCopy.Status = domain.StatusPreparing
		changed, err := f.cache.MergeRemoteOrder(ctx, remoteCopy)
		require.NoError(t, err)
		assert.True(t, changed)

		got, _ := f.cache.GetOrder("o-1")
		assert.Equal(t, domain.StatusPreparing, got.Status)
		assert.True(t, got.IsSynced)
	})

	t.Run("unknown order is added", func(t *testing.T) {
		f := readyFixture(t)
		changed, err := f.cache.MergeRemoteOrder(ctx, testOrder("o-9"))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Len(t, f.cache.GetOrders(), 1)
	})
}

func TestCache_ClearOperationalKeepsUnsynced(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	synced := testOrder("o-1")
	synced.IsSynced = true
	f.cache.PutOrder(synced)
	f.cache.PutOrder(testOrder("o-2"))
	require.NoError(t, f.cache.SetPaymentTransactions(ctx, "o-1", []domain.PaymentTransaction{{Method: "cash"}}))

	removed, err := f.cache.ClearOperational(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	orders := f.cache.GetOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "o-2", orders[0].ID)
	assert.Empty(t, f.cache.GetPaymentTransactions("o-1"))
}

func TestCache_PutCustomerRejectsDuplicatePhone(t *testing.T) {
	f := readyFixture(t)

	existing, ok := f.cache.PutCustomer(domain.Customer{ID: "local-2", Phone: "+923001111111", FullName: "Someone Else"})
	assert.False(t, ok)
	assert.Equal(t, "c-1", existing.ID)
	assert.Len(t, f.cache.GetAllCustomers(), 1)

	// Same id may be re-put with the same phone.
	_, ok = f.cache.PutCustomer(domain.Customer{ID: "c-1", Phone: "+923001111111", FullName: "Sara K."})
	assert.True(t, ok)
	got, _ := f.cache.GetCustomer("c-1")
	assert.Equal(t, "Sara K.", got.FullName)
}

func TestCache_FindCustomerByPhone(t *testing.T) {
	f := readyFixture(t)

	got, ok := f.cache.FindCustomerByPhone("+923001111111")
	require.True(t, ok)
	assert.Equal(t, "c-1", got.ID)

	_, ok = f.cache.FindCustomerByPhone("+923000000000")
	assert.False(t, ok)
}

func TestCache_RewriteOrderID(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	o := testOrder("local-o-1")
	o.TableID = "t-1"
	f.cache.PutOrder(o)
	f.cache.UpdateTable("t-1", func(tb *domain.Table) {
		tb.Status = domain.TableOccupied
		tb.CurrentOrder = "local-o-1"
	})
	require.NoError(t, f.cache.SetPaymentTransactions(ctx, "local-o-1", []domain.PaymentTransaction{{Method: "card"}}))
	require.NoError(t, f.cache.SetModifyingOrder(ctx, domain.OrderTypeWalkIn, "local-o-1"))

	assert.True(t, f.cache.RewriteOrderID("local-o-1", "srv-order-1"))

	_, found := f.cache.GetOrder("local-o-1")
	assert.False(t, found)
	got, found := f.cache.GetOrder("srv-order-1")
	require.True(t, found)
	assert.Equal(t, "srv-order-1", got.ID)

	tb, _ := f.cache.GetTable("t-1")
	assert.Equal(t, "srv-order-1", tb.CurrentOrder)
	assert.Len(t, f.cache.GetPaymentTransactions("srv-order-1"), 1)
	assert.Equal(t, "srv-order-1", f.cache.ModifyingOrder(domain.OrderTypeWalkIn))

	assert.False(t, f.cache.RewriteOrderID("local-missing", "srv-x"))
}

func TestCache_RewriteCustomerID(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()

	_, ok := f.cache.PutCustomer(domain.Customer{ID: "local-c-1", Phone: "+923004444444", FullName: "Bilal"})
	require.True(t, ok)
	o := testOrder("o-1")
	o.CustomerID = "local-c-1"
	f.cache.PutOrder(o)
	cu, _ := f.cache.GetCustomer("local-c-1")
	require.NoError(t, f.cache.SaveCart(ctx, domain.OrderTypeDelivery, Cart{Customer: &cu}))

	assert.True(t, f.cache.RewriteCustomerID("local-c-1", "srv-customer-1"))

	_, found := f.cache.GetCustomer("local-c-1")
	assert.False(t, found)
	got, found := f.cache.GetCustomer("srv-customer-1")
	require.True(t, found)
	assert.Equal(t, "Bilal", got.FullName)

	order, _ := f.cache.GetOrder("o-1")
	assert.Equal(t, "srv-customer-1", order.CustomerID)

	cart, _ := f.cache.GetCart(domain.OrderTypeDelivery)
	require.NotNil(t, cart.Customer)
	assert.Equal(t, "srv-customer-1", cart.Customer.ID)
}

func TestCache_RewriteCustomerIDMergesIntoExisting(t *testing.T) {
	f := readyFixture(t)

	_, ok := f.cache.PutCustomer(domain.Customer{ID: "local-c-1", Phone: "+923005555555", FullName: "Local Name"})
	require.True(t, ok)

	assert.True(t, f.cache.RewriteCustomerID("local-c-1", "c-1"))

	got, _ := f.cache.GetCustomer("c-1")
	assert.Equal(t, "Sara Khan", got.FullName)
	assert.Len(t, f.cache.GetAllCustomers(), 1)
}
