package orders

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

func TestSetTableStatus(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.orders.SetTableStatus(ctx, "t-2", domain.TableReserved, "ignored")
	require.NoError(t, err)
	assert.True(t, res.IsOffline)

	tb, _ := f.cache.GetTable("t-2")
	assert.Equal(t, domain.TableReserved, tb.Status)
	assert.Empty(t, tb.CurrentOrder)
	assert.False(t, tb.IsSynced)

	_, err = f.orders.SetTableStatus(ctx, "t-9", domain.TableReserved, "")
	assert.ErrorIs(t, err, ErrTableNotFound)
	_, err = f.orders.SetTableStatus(ctx, "t-2", domain.TableStatus("broken"), "")
	assert.Error(t, err)
}

func TestReplayDeferred(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "t-1")

	_, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusCompleted)
	require.NoError(t, err)

	tb, _ := f.cache.GetTable("t-1")
	assert.Equal(t, domain.TableAvailable, tb.Status, "table is freed right away")
	assert.Equal(t, []domain.Operation{domain.OpCreate, domain.OpSetStatus}, operations(f.mutations(t, domain.EntityOrder, id)))
	tables := f.pending(t)

	_, err = f.orders.ReplayDeferred(ctx, id)
	require.NoError(t, err)

	assert.Equal(t,
		[]domain.Operation{domain.OpCreate, domain.OpSetStatus, domain.OpDeductInventory},
		operations(f.mutations(t, domain.EntityOrder, id)))
	assert.Equal(t, tables+1, f.pending(t), "only the deduction is added")
	o, _ := f.cache.GetOrder(id)
	assert.False(t, o.SideEffectsDeferred)
	assert.True(t, o.InventoryScheduled)

	n := f.pending(t)
	_, err = f.orders.ReplayDeferred(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, f.pending(t), "replay runs once")
}

func TestReplayDeferred_TableTakenMeanwhile(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	first := f.placeOrder(t, "t-1")
	_, err := f.orders.UpdateOrderStatus(ctx, first, domain.StatusCompleted)
	require.NoError(t, err)

	second := f.placeOrder(t, "t-1")
	_, err = f.orders.ReplayDeferred(ctx, first)
	require.NoError(t, err)

	tb, _ := f.cache.GetTable("t-1")
	assert.Equal(t, domain.TableOccupied, tb.Status)
	assert.Equal(t, second, tb.CurrentOrder)
}

func TestUpdateOrderStatus_OfflineCloseQueuesTableRelease(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "t-1")

	// The order and its table occupancy reached the remote store.
	all, err := f.queue.Unsynced(ctx, tenant)
	require.NoError(t, err)
	for _, m := range all {
		require.NoError(t, f.queue.MarkSynced(ctx, m.ID))
	}

	_, err = f.orders.UpdateOrderStatus(ctx, id, domain.StatusCompleted)
	require.NoError(t, err)

	tms := f.mutations(t, domain.EntityTable, "t-1")
	require.Len(t, tms, 1)
	var tp TablePayload
	require.NoError(t, json.Unmarshal(tms[0].Payload, &tp))
	assert.Equal(t, domain.TableAvailable, tp.Status)
	assert.Empty(t, tp.CurrentOrderID)

	_, err = f.orders.Rehydrate(ctx)
	require.NoError(t, err)
	tb, _ := f.cache.GetTable("t-1")
	assert.Equal(t, domain.TableAvailable, tb.Status)
	assert.False(t, tb.IsSynced, "release is still owed to the remote store")
}

func TestUpdateOrderStatus_OfflineCancelNeedsNoReplay(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "t-2")

	_, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusCancelled)
	require.NoError(t, err)

	o, _ := f.cache.GetOrder(id)
	assert.False(t, o.SideEffectsDeferred)
	tb, _ := f.cache.GetTable("t-2")
	assert.Equal(t, domain.TableAvailable, tb.Status)
	assert.Len(t, f.mutations(t, domain.EntityTable, "t-2"), 1)
}
