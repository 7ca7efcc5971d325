package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPlaced    OrderStatus = "Placed"
	StatusPreparing OrderStatus = "Preparing"
	StatusReady     OrderStatus = "Ready"
	StatusCompleted OrderStatus = "Completed"
	StatusCancelled OrderStatus = "Cancelled"
)

// statusRank orders the forward path. Cancelled is off the path.
var statusRank = map[OrderStatus]int{
	StatusPlaced:    1,
	StatusPreparing: 2,
	StatusReady:     3,
	StatusCompleted: 4,
}

// ParseOrderStatus accepts the canonical spelling only.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := statusRank[st]; ok || st == StatusCancelled {
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ErrIllegalTransition is matched by every TransitionError.
var ErrIllegalTransition = errors.New("illegal order status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition %s -> %s", e.From, e.To)
}

// Is lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// CheckTransition validates from -> to.
//
// The forward path may skip steps (a walk-in order often goes straight from
// Placed to Completed). Cancelled is reachable from any non-terminal state.
// Terminal states accept nothing but themselves. Same-state is allowed and
// callers treat it as a no-op.
func CheckTransition(from, to OrderStatus) error {
	if from == to {
		return nil
	}
	if from.IsTerminal() {
		return &TransitionError{From: from, To: to}
	}
	if to == StatusCancelled {
		return nil
	}
	fr, okFrom := statusRank[from]
	tr, okTo := statusRank[to]
	if !okFrom || !okTo || tr < fr {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// PaymentStatus of an order, independent of OrderStatus.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

// OrderType selects the cart key an order was built under.
type OrderType string

const (
	OrderTypeWalkIn   OrderType = "walkin"
	OrderTypeDelivery OrderType = "delivery"
	OrderTypeTakeaway OrderType = "takeaway"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeWalkIn, OrderTypeDelivery, OrderTypeTakeaway:
		return true
	}
	return false
}

// DealSelection is a resolved pick inside a deal line.
type DealSelection struct {
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	Variant         string          `json:"variant,omitempty"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

// OrderItem is either a product line or a deal line.
type OrderItem struct {
	LineID     string          `json:"line_id"`
	ProductID  string          `json:"product_id,omitempty"`
	VariantID  string          `json:"variant_id,omitempty"`
	DealID     string          `json:"deal_id,omitempty"`
	Name       string          `json:"name"`
	Selections []DealSelection `json:"deal_products,omitempty"`
	Quantity   int             `json:"quantity"`
	FinalPrice decimal.Decimal `json:"final_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// IsDeal reports whether the line is a deal line.
func (it OrderItem) IsDeal() bool {
	return it.DealID != ""
}

// Reprice recomputes TotalPrice from FinalPrice and Quantity.
func (it *OrderItem) Reprice() {
	it.TotalPrice = it.FinalPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Order is an operational order.
type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"order_number"`
	OrderType     OrderType       `json:"order_type"`
	Status        OrderStatus     `json:"status"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TableID       string          `json:"table_id,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	IsSynced      bool            `json:"_isSynced"`
	// NeedsInventoryReconciliation is set when the remote store rejected
	// the inventory deduction of a completed order.
	NeedsInventoryReconciliation bool `json:"needs_inventory_reconciliation,omitempty"`
	// InventoryScheduled records that the deduction was enqueued once.
	InventoryScheduled bool `json:"inventory_scheduled,omitempty"`
	// SideEffectsDeferred is set when the order was closed offline. Its
	// table release and inventory deduction are queued once the status
	// write is acknowledged.
	SideEffectsDeferred bool `json:"side_effects_deferred,omitempty"`
	// SyncConflict is set when another terminal changed the order first
	// and the remote store refused this terminal's write.
	SyncConflict bool `json:"sync_conflict,omitempty"`
	// Version increments on every local write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recalculate reprices every line and sums TotalAmount.
func (o *Order) Recalculate() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].Reprice()
		total = total.Add(o.Items[i].TotalPrice)
	}
	o.TotalAmount = total
}

// Clone returns a deep copy safe to hand out of the cache.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = it
			if it.Selections != nil {
				c.Items[i].Selections = append([]DealSelection(nil), it.Selections...)
			}
		}
	}
	return c
}

// FindItem returns the index of the line with lineID or -1.
func (o *Order) FindItem(lineID string) int {
	for i := range o.Items {
		if o.Items[i].LineID == lineID {
			return i
		}
	}
	return -1
}
