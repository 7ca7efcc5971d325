package cache

import (
	"context"
	"slices"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Orders.

// GetOrder returns a copy of the cached order.
func (c *Cache) GetOrder(id string) (domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

// GetOrders returns every cached order, oldest first.
func (c *Cache) GetOrders() []domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Order, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o.Clone())
	}
	slices.SortFunc(out, compareOrders)
	return out
}

// PutOrder stores o, replacing any order with the same id.
func (c *Cache) PutOrder(o domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := o.Clone()
	c.orders[o.ID] = &cp
}

// UpdateOrder applies fn to the cached order under the write lock.
// Returns false if the order is not cached.
func (c *Cache) UpdateOrder(id string, fn func(*domain.Order)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return false
	}
	fn(o)
	return true
}

// MergeRemoteOrder applies a server-originated order. A cached order with
// unsynced local changes wins and the remote copy is ignored.
// Returns whether the cache changed.
func (c *Cache) MergeRemoteOrder(ctx context.Context, o domain.Order) (bool, error) {
	c.mu.Lock()
	if local, ok := c.orders[o.ID]; ok && !local.IsSynced {
		c.mu.Unlock()
		c.logger.Debug("ignoring remote order with local changes", "order_id", o.ID)
		return false, nil
	}
	cp := o.Clone()
	cp.IsSynced = true
	c.orders[o.ID] = &cp
	c.mu.Unlock()

	return true, c.SaveCacheToStorage(ctx)
}

// ClearOperational drops synced orders and their payment transactions.
// Orders with unsynced changes are kept: their mutations are still queued.
func (c *Cache) ClearOperational(ctx context.Context) (int, error) {
	c.mu.Lock()
	removed := 0
	for id, o := range c.orders {
		if !o.IsSynced {
			continue
		}
		delete(c.orders, id)
		delete(c.payments, id)
		removed++
	}
	c.mu.Unlock()
	return removed, c.SaveCacheToStorage(ctx)
}

// Customers.

// GetCustomer returns a copy of the cached customer.
func (c *Cache) GetCustomer(id string) (domain.Customer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cu, ok := c.customers[id]
	if !ok {
		return domain.Customer{}, false
	}
	return *cu, true
}

// FindCustomerByPhone returns the customer whose stored phone equals
// phone. Callers pass normalized phones.
func (c *Cache) FindCustomerByPhone(phone string) (domain.Customer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findByPhoneLocked(phone)
}

func (c *Cache) findByPhoneLocked(phone string) (domain.Customer, bool) {
	for _, cu := range c.customers {
		if cu.Phone == phone {
			return *cu, true
		}
	}
	return domain.Customer{}, false
}

// PutCustomer stores cu. If another customer already holds the same phone,
// nothing is stored and that customer is returned with false: at most one
// customer per phone may exist.
func (c *Cache) PutCustomer(cu domain.Customer) (domain.Customer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.findByPhoneLocked(cu.Phone); ok && existing.ID != cu.ID {
		return existing, false
	}
	c.customers[cu.ID] = &cu
	return cu, true
}

// UpdateCustomer applies fn to the cached customer under the write lock.
func (c *Cache) UpdateCustomer(id string, fn func(*domain.Customer)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cu, ok := c.customers[id]
	if !ok {
		return false
	}
	fn(cu)
	return true
}

// Tables.

// GetTable returns a copy of a table.
func (c *Cache) GetTable(id string) (domain.Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tables {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Table{}, false
}

// UpdateTable applies fn to a table under the write lock.
func (c *Cache) UpdateTable(id string, fn func(*domain.Table)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tables {
		if c.tables[i].ID == id {
			fn(&c.tables[i])
			return true
		}
	}
	return false
}

// Payment transactions.

// SetPaymentTransactions replaces the transactions of an order and
// persists them.
func (c *Cache) SetPaymentTransactions(ctx context.Context, orderID string, txs []domain.PaymentTransaction) error {
	c.mu.Lock()
	c.payments[orderID] = slices.Clone(txs)
	c.mu.Unlock()
	return c.SaveCacheToStorage(ctx)
}

// GetPaymentTransactions returns the cached transactions of an order.
// They are available even if the order itself is not cached.
func (c *Cache) GetPaymentTransactions(orderID string) []domain.PaymentTransaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneOrEmpty(c.payments[orderID])
}

// Reconciliation.

// RewriteOrderID replaces a local-temporary order id with the server id
// everywhere the cache holds it: the order, its payment transactions,
// table occupancy and the modifying-order markers.
func (c *Cache) RewriteOrderID(oldID, newID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[oldID]
	if ok {
		delete(c.orders, oldID)
		o.ID = newID
		c.orders[newID] = o
	}
	if txs, ok := c.payments[oldID]; ok {
		delete(c.payments, oldID)
		c.payments[newID] = txs
	}
	for i := range c.tables {
		if c.tables[i].CurrentOrder == oldID {
			c.tables[i].CurrentOrder = newID
		}
	}
	for t, id := range c.modifying {
		if id == oldID {
			c.modifying[t] = newID
		}
	}
	return ok
}

// RewriteCustomerID replaces a local-temporary customer id with the server
// id on the customer, on every order that references it and in carts.
// If the server id already exists locally (another terminal created the
// same phone), the local record is merged into it.
func (c *Cache) RewriteCustomerID(oldID, newID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cu, ok := c.customers[oldID]
	if ok {
		delete(c.customers, oldID)
		if _, exists := c.customers[newID]; !exists {
			cu.ID = newID
			c.customers[newID] = cu
		}
	}
	for _, o := range c.orders {
		if o.CustomerID == oldID {
			o.CustomerID = newID
		}
	}
	for t, cart := range c.carts {
		if cart.Customer != nil && cart.Customer.ID == oldID {
			cp := *cart.Customer
			cp.ID = newID
			cart.Customer = &cp
			c.carts[t] = cart
		}
	}
	return ok
}
