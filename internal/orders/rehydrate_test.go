package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// restart rebuilds cache and manager over the same store.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.cache = cache.New(f.store, f.mem, cache.WithNow(f.clock.Now))
	require.NoError(t, f.cache.SetUserID(ctx, tenant))
	f.orders = New(f.cache, f.queue, f.net,
		WithTerminalID("till-1"),
		WithNow(f.clock.Now),
		WithIDGenerator(domain.NewSequenceGenerator("r")))
}

func TestRehydrate_RestoresDroppedOrders(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "t-1")
	_, err := f.orders.UpdateCartItemQuantity(ctx, id, "l-1", 4)
	require.NoError(t, err)
	_, err = f.orders.UpdateOrderStatus(ctx, id, domain.StatusReady)
	require.NoError(t, err)

	require.NoError(t, f.store.SetValues(ctx, tenant, map[string]string{cache.KeyOrders: "undefined"}))
	f.restart(t)
	_, ok := f.cache.GetOrder(id)
	require.False(t, ok, "corrupt orders field is dropped on restore")

	n, err := f.orders.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	o, ok := f.cache.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusReady, o.Status)
	assert.Equal(t, 4, o.Items[0].Quantity)
	assert.False(t, o.IsSynced)
	assert.Equal(t, int64(3), o.Version)
}

func TestRehydrate_RepairsSyncFlags(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "")

	// Everything for the order reached the remote store, but the cache
	// was saved before the flag flipped.
	ms := f.mutations(t, domain.EntityOrder, id)
	for _, m := range ms {
		require.NoError(t, f.queue.MarkSynced(ctx, m.ID))
	}
	f.cache.UpdateTable("t-2", func(tb *domain.Table) { tb.IsSynced = false })

	n, err := f.orders.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	o, _ := f.cache.GetOrder(id)
	assert.True(t, o.IsSynced)
	tb, _ := f.cache.GetTable("t-2")
	assert.True(t, tb.IsSynced)

	n, err = f.orders.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second pass has nothing to do")
}

func TestRehydrate_ReplaysAcknowledgedDeferredEffects(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "")
	_, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusCompleted)
	require.NoError(t, err)

	// Status write acknowledged, then the process died before replay.
	for _, m := range f.mutations(t, domain.EntityOrder, id) {
		require.NoError(t, f.queue.MarkSynced(ctx, m.ID))
	}
	f.restart(t)

	_, err = f.orders.Rehydrate(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.Operation{domain.OpDeductInventory}, operations(f.mutations(t, domain.EntityOrder, id)))
	o, _ := f.cache.GetOrder(id)
	assert.False(t, o.SideEffectsDeferred)
	assert.False(t, o.IsSynced)
}
