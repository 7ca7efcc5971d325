package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Rehydrate reconciles a cache restored from storage with the mutation
// log, which is the source of truth for what has not reached the remote
// store yet.
//
// Unsynced mutations are reapplied in seq order, restoring entities whose
// cache field was dropped as corrupt. Then every order, customer and table
// gets _isSynced recomputed from the log. Returns the number of entities
// changed.
func (m *Manager) Rehydrate(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rehydrateLocked(ctx)
}

// Rebind runs bind with every write blocked, then rehydrates the cache it
// bound. Writes never land on a tenant half-way through a switch.
func (m *Manager) Rebind(ctx context.Context, bind func() error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := bind(); err != nil {
		return 0, err
	}
	return m.rehydrateLocked(ctx)
}

func (m *Manager) rehydrateLocked(ctx context.Context) (int, error) {
	tenant, err := m.tenant()
	if err != nil {
		return 0, err
	}
	muts, err := m.queue.Unsynced(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("rehydrate: %w", err)
	}

	changed := map[string]bool{}
	for _, mut := range muts {
		ok, err := m.reapply(ctx, mut)
		if err != nil {
			m.logger.Warn("cannot reapply mutation",
				"mutation_id", mut.ID,
				"entity", mut.EntityKey(),
				"operation", mut.Operation,
				"error", err)
			continue
		}
		if ok {
			changed[mut.EntityKey()] = true
		}
	}

	// A closed order whose status write was acknowledged before a restart
	// still owes its side effects.
	pending := pendingEntities(muts)
	replayed := false
	for _, o := range m.cache.GetOrders() {
		if !o.SideEffectsDeferred || pending.statuses[o.ID] {
			continue
		}
		if _, err := m.replayLocked(ctx, tenant, o.ID); err != nil {
			return len(changed), err
		}
		changed["order:"+o.ID] = true
		replayed = true
	}
	if replayed {
		if muts, err = m.queue.Unsynced(ctx, tenant); err != nil {
			return len(changed), fmt.Errorf("rehydrate: %w", err)
		}
		pending = pendingEntities(muts)
	}

	for _, o := range m.cache.GetOrders() {
		want := !pending.ids[domain.EntityOrder][o.ID]
		if o.IsSynced != want {
			m.cache.UpdateOrder(o.ID, func(o *domain.Order) { o.IsSynced = want })
			changed["order:"+o.ID] = true
		}
	}
	for _, cu := range m.cache.GetAllCustomers() {
		want := !pending.ids[domain.EntityCustomer][cu.ID]
		if cu.IsSynced != want {
			m.cache.UpdateCustomer(cu.ID, func(cu *domain.Customer) { cu.IsSynced = want })
			changed["customer:"+cu.ID] = true
		}
	}
	for _, t := range m.cache.GetAllTables() {
		want := !pending.ids[domain.EntityTable][t.ID]
		if t.IsSynced != want {
			m.cache.UpdateTable(t.ID, func(t *domain.Table) { t.IsSynced = want })
			changed["table:"+t.ID] = true
		}
	}

	if len(changed) > 0 {
		if err := m.cache.SaveCacheToStorage(ctx); err != nil {
			return len(changed), err
		}
		m.logger.Info("rehydrated cache from mutation log",
			"tenant", tenant,
			"unsynced", len(muts),
			"entities_changed", len(changed))
	}
	return len(changed), nil
}

type pendingSet struct {
	ids map[domain.EntityType]map[string]bool
	// statuses holds orders with a queued status write.
	statuses map[string]bool
}

func pendingEntities(muts []domain.Mutation) pendingSet {
	p := pendingSet{
		ids: map[domain.EntityType]map[string]bool{
			domain.EntityOrder:    {},
			domain.EntityCustomer: {},
			domain.EntityTable:    {},
		},
		statuses: map[string]bool{},
	}
	for _, mut := range muts {
		if ids, ok := p.ids[mut.EntityType]; ok {
			ids[mut.EntityID] = true
		}
		if mut.EntityType == domain.EntityOrder && mut.Operation == domain.OpSetStatus {
			p.statuses[mut.EntityID] = true
		}
	}
	return p
}

// reapply writes the effect of one queued mutation into the cache and
// reports whether anything changed.
func (m *Manager) reapply(ctx context.Context, mut domain.Mutation) (bool, error) {
	switch mut.EntityType {
	case domain.EntityOrder:
		return m.reapplyOrder(ctx, mut)
	case domain.EntityCustomer:
		if mut.Operation != domain.OpCreate && mut.Operation != domain.OpUpdate {
			return false, nil
		}
		var cu domain.Customer
		if err := json.Unmarshal(mut.Payload, &cu); err != nil {
			return false, err
		}
		cu.ID = mut.EntityID
		if existing, ok := m.cache.GetCustomer(cu.ID); ok &&
			existing.FullName == cu.FullName && existing.Address == cu.Address {
			return false, nil
		}
		cu.CreatedAt = mut.CreatedAt
		cu.UpdatedAt = mut.UpdatedAt
		_, ok := m.cache.PutCustomer(cu)
		return ok, nil
	case domain.EntityTable:
		var p TablePayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		changed := false
		m.cache.UpdateTable(mut.EntityID, func(t *domain.Table) {
			if t.Status != p.Status || t.CurrentOrder != p.CurrentOrderID {
				t.Status = p.Status
				t.CurrentOrder = p.CurrentOrderID
				changed = true
			}
		})
		return changed, nil
	}
	return false, nil
}

func (m *Manager) reapplyOrder(ctx context.Context, mut domain.Mutation) (bool, error) {
	if mut.Operation == domain.OpCreate {
		if _, ok := m.cache.GetOrder(mut.EntityID); ok {
			return false, nil
		}
		var p CreatePayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		p.Order.ID = mut.EntityID
		p.Order.IsSynced = false
		m.cache.PutOrder(p.Order)
		return true, nil
	}

	if mut.Operation == domain.OpSetTransactions {
		if len(m.cache.GetPaymentTransactions(mut.EntityID)) > 0 {
			return false, nil
		}
		var p TransactionsPayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		return true, m.cache.SetPaymentTransactions(ctx, mut.EntityID, p.Transactions)
	}

	var apply func(*domain.Order) bool
	switch mut.Operation {
	case domain.OpSetStatus:
		var p StatusPayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		apply = func(o *domain.Order) bool {
			bumpVersion(o, p.ExpectedVersion)
			if o.Status == p.Status {
				return false
			}
			o.Status = p.Status
			if p.Status == domain.StatusCompleted && !o.InventoryScheduled {
				o.SideEffectsDeferred = true
			}
			return true
		}
	case domain.OpUpdateItems:
		var p ItemsPayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		apply = func(o *domain.Order) bool {
			bumpVersion(o, p.ExpectedVersion)
			if o.TotalAmount.Equal(p.TotalAmount) && len(o.Items) == len(p.Items) {
				return false
			}
			o.Items = p.Items
			o.TotalAmount = p.TotalAmount
			return true
		}
	case domain.OpSetPayment:
		var p PaymentPayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		apply = func(o *domain.Order) bool {
			bumpVersion(o, p.ExpectedVersion)
			if o.PaymentStatus == p.PaymentStatus && o.PaymentMethod == p.PaymentMethod {
				return false
			}
			o.PaymentStatus = p.PaymentStatus
			o.PaymentMethod = p.PaymentMethod
			return true
		}
	case domain.OpUpdate:
		var p CustomerPayload
		if err := json.Unmarshal(mut.Payload, &p); err != nil {
			return false, err
		}
		apply = func(o *domain.Order) bool {
			bumpVersion(o, p.ExpectedVersion)
			if o.CustomerID == p.CustomerID {
				return false
			}
			o.CustomerID = p.CustomerID
			return true
		}
	case domain.OpDeductInventory:
		apply = func(o *domain.Order) bool {
			if o.InventoryScheduled {
				return false
			}
			o.InventoryScheduled = true
			return true
		}
	default:
		return false, nil
	}

	changed := false
	if !m.cache.UpdateOrder(mut.EntityID, func(o *domain.Order) { changed = apply(o) }) {
		return false, fmt.Errorf("order %s is not cached", mut.EntityID)
	}
	return changed, nil
}

// bumpVersion keeps the local version ahead of what a queued write
// already claimed.
func bumpVersion(o *domain.Order, expected int64) {
	o.Version = max(o.Version, expected+1)
}
