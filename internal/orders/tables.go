package orders

import (
	"context"
	"fmt"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
)

// SetTableStatus changes a table's occupancy. orderID is recorded as the
// table's current order when occupied and cleared otherwise.
func (m *Manager) SetTableStatus(ctx context.Context, tableID string, status domain.TableStatus, orderID string) (Result, error) {
	if !status.Valid() {
		return Result{}, fmt.Errorf("%w: unknown table status %q", ErrInvalidInput, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	mutID, err := m.setTableLocked(ctx, tenant, tableID, status, orderID)
	if err != nil {
		return Result{}, err
	}
	return m.finish(ctx, "", mutID), nil
}

// releaseTableLocked frees the table of a closed order, unless another
// order has taken it since. Returns a warning when the table is unknown.
func (m *Manager) releaseTableLocked(ctx context.Context, tenant, tableID, orderID string) (string, error) {
	t, ok := m.cache.GetTable(tableID)
	if !ok {
		m.logger.Warn("order references unknown table", "order_id", orderID, "table_id", tableID)
		return fmt.Sprintf("table %s not found; not released", tableID), nil
	}
	if t.CurrentOrder != "" && t.CurrentOrder != orderID {
		return "", nil
	}
	_, err := m.setTableLocked(ctx, tenant, tableID, domain.TableAvailable, "")
	return "", err
}

func (m *Manager) setTableLocked(ctx context.Context, tenant, tableID string, status domain.TableStatus, orderID string) (string, error) {
	if status != domain.TableOccupied {
		orderID = ""
	}
	if _, ok := m.cache.GetTable(tableID); !ok {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	mut, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityTable,
		EntityID:   tableID,
		Operation:  domain.OpSetStatus,
		Payload:    TablePayload{Status: status, CurrentOrderID: orderID, TerminalID: m.terminalID},
	})
	if err != nil {
		return "", err
	}
	m.cache.UpdateTable(tableID, func(t *domain.Table) {
		t.Status = status
		t.CurrentOrder = orderID
		t.IsSynced = false
	})
	return mut.ID, nil
}
