package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Well-known storage keys.
const (
	KeySnapshot     = "cache:snapshot"
	KeyOrders       = "cache:orders"
	KeyCustomers    = "cache:customers"
	KeyTables       = "cache:tables"
	KeyPayments     = "cache:payments"
	CartKeyPrefix   = "cart:"
	ModifyingPrefix = "modifying_order:"
)

var orderTypes = []domain.OrderType{
	domain.OrderTypeWalkIn,
	domain.OrderTypeDelivery,
	domain.OrderTypeTakeaway,
}

// CartKey is the storage key of the cart of an order type.
func CartKey(t domain.OrderType) string { return CartKeyPrefix + string(t) }

// ModifyingKey is the storage key of the order being modified for an
// order type.
func ModifyingKey(t domain.OrderType) string { return ModifyingPrefix + string(t) }

func restoreKeys() []string {
	keys := []string{KeySnapshot, KeyOrders, KeyCustomers, KeyTables, KeyPayments}
	for _, t := range orderTypes {
		keys = append(keys, CartKey(t), ModifyingKey(t))
	}
	return keys
}

// SaveCacheToStorage writes the operational cache (orders, customers,
// tables, payment transactions) to the backend in one batch.
func (c *Cache) SaveCacheToStorage(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	tenant := c.tenant
	entries, err := c.encodeLocked(false)
	c.mu.RUnlock()
	if tenant == "" {
		return ErrNoTenant
	}
	if err != nil {
		return err
	}
	if err := c.backend.SetValues(ctx, tenant, entries); err != nil {
		return fmt.Errorf("save cache for %s: %w", tenant, err)
	}
	return nil
}

// encodeLocked serializes the operational fields, plus the reference
// snapshot when withSnapshot is set. Caller holds mu.
func (c *Cache) encodeLocked(withSnapshot bool) (map[string]string, error) {
	orders := make([]domain.Order, 0, len(c.orders))
	for _, o := range c.orders {
		orders = append(orders, *o)
	}
	slices.SortFunc(orders, compareOrders)

	customers := make([]domain.Customer, 0, len(c.customers))
	for _, cu := range c.customers {
		customers = append(customers, *cu)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int { return cmp.Compare(a.ID, b.ID) })

	fields := map[string]any{
		KeyOrders:    orders,
		KeyCustomers: customers,
		KeyTables:    cloneOrEmpty(c.tables),
		KeyPayments:  c.payments,
	}
	if withSnapshot {
		fields[KeySnapshot] = c.snapshot
	}

	entries := make(map[string]string, len(fields))
	for key, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		entries[key] = string(raw)
	}
	return entries, nil
}

// restoreLocked rebuilds state from persisted values. Each field is decoded
// on its own; a corrupt field is dropped and logged. Caller holds mu.
func (c *Cache) restoreLocked(values map[string]string) {
	var snap domain.Snapshot
	if c.decodeField(values, KeySnapshot, &snap) {
		c.applySnapshotLocked(snap)
		c.tables = cloneOrEmpty(snap.Tables)
		for i := range c.tables {
			c.tables[i].IsSynced = true
		}
		for _, cu := range snap.Customers {
			cu.IsSynced = true
			c.customers[cu.ID] = &cu
		}
		c.ready = !snap.LoadedAt.IsZero()
	}

	var tables []domain.Table
	if c.decodeField(values, KeyTables, &tables) {
		c.tables = tables
	}

	var customers []domain.Customer
	if c.decodeField(values, KeyCustomers, &customers) {
		c.customers = make(map[string]*domain.Customer, len(customers))
		for _, cu := range customers {
			if cu.ID == "" {
				continue
			}
			c.customers[cu.ID] = &cu
		}
	}

	var orders []domain.Order
	if c.decodeField(values, KeyOrders, &orders) {
		for _, o := range orders {
			if o.ID == "" {
				continue
			}
			c.orders[o.ID] = &o
		}
	}

	var payments map[string][]domain.PaymentTransaction
	if c.decodeField(values, KeyPayments, &payments) && payments != nil {
		c.payments = payments
	}

	for _, t := range orderTypes {
		var cart Cart
		if c.decodeField(values, CartKey(t), &cart) {
			c.carts[t] = cart
		}
		var id string
		if c.decodeField(values, ModifyingKey(t), &id) && id != "" {
			c.modifying[t] = id
		}
	}
}

// decodeField unmarshals values[key] into v. Absent, empty, "null" and
// "undefined" values are treated as missing.
func (c *Cache) decodeField(values map[string]string, key string, v any) bool {
	raw, ok := values[key]
	if !ok {
		return false
	}
	switch strings.TrimSpace(raw) {
	case "", "null":
		return false
	case "undefined":
		c.logger.Warn("dropping corrupt cache field", "tenant", c.tenant, "key", key, "value", "undefined")
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		c.logger.Warn("dropping corrupt cache field", "tenant", c.tenant, "key", key, "error", err)
		return false
	}
	return true
}

func compareOrders(a, b domain.Order) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}
