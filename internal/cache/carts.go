package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Cart is the in-progress order of one order type. It survives restarts
// and is never queued: discarding a cart sends nothing.
type Cart struct {
	Items        []domain.OrderItem `json:"items"`
	Customer     *domain.Customer   `json:"customer,omitempty"`
	Instructions string             `json:"instructions,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// GetCart returns the cart of an order type.
func (c *Cache) GetCart(t domain.OrderType) (Cart, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cart, ok := c.carts[t]
	if !ok {
		return Cart{}, false
	}
	cart.Items = slices.Clone(cart.Items)
	return cart, true
}

// SaveCart stores the cart of an order type and writes it through.
func (c *Cache) SaveCart(ctx context.Context, t domain.OrderType, cart Cart) error {
	if !t.Valid() {
		return fmt.Errorf("save cart: unknown order type %q", t)
	}
	cart.Items = slices.Clone(cart.Items)
	cart.UpdatedAt = c.now().UTC()
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	c.mu.Lock()
	tenant := c.tenant
	c.carts[t] = cart
	c.mu.Unlock()
	if tenant == "" {
		return ErrNoTenant
	}
	return c.backend.SetValues(ctx, tenant, map[string]string{CartKey(t): string(raw)})
}

// ClearCart drops the cart and the modifying-order marker of an order type.
func (c *Cache) ClearCart(ctx context.Context, t domain.OrderType) error {
	c.mu.Lock()
	tenant := c.tenant
	delete(c.carts, t)
	delete(c.modifying, t)
	c.mu.Unlock()
	if tenant == "" {
		return ErrNoTenant
	}
	return c.backend.DeleteValues(ctx, tenant, CartKey(t), ModifyingKey(t))
}

// SetModifyingOrder records that the cart of an order type edits an
// existing order.
func (c *Cache) SetModifyingOrder(ctx context.Context, t domain.OrderType, orderID string) error {
	raw, err := json.Marshal(orderID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	tenant := c.tenant
	c.modifying[t] = orderID
	c.mu.Unlock()
	if tenant == "" {
		return ErrNoTenant
	}
	return c.backend.SetValues(ctx, tenant, map[string]string{ModifyingKey(t): string(raw)})
}

// ModifyingOrder returns the order being edited under an order type.
func (c *Cache) ModifyingOrder(t domain.OrderType) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modifying[t]
}
