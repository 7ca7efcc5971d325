package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products on the menu.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
	IsActive  bool   `json:"is_active"`
}

// Product is a sellable menu item.
type Product struct {
	ID          string          `json:"id"`
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	BasePrice   decimal.Decimal `json:"base_price"`
	HasVariants bool            `json:"has_variants"`
	IsActive    bool            `json:"is_active"`
}

// ProductVariant is a size or flavour of a product with its own price.
type ProductVariant struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

// Deal is a bundle of products sold at a fixed price.
type Deal struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	IsActive bool            `json:"is_active"`
}

// DealProduct is one slot of a deal.
type DealProduct struct {
	ID        string `json:"id"`
	DealID    string `json:"deal_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	// VariantIDs lists the variants a cashier may pick for this slot.
	VariantIDs []string `json:"variant_ids,omitempty"`
}

// TableStatus is the occupancy state of a dine-in table.
type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
)

// Valid reports whether s is a known table status.
func (s TableStatus) Valid() bool {
	switch s {
	case TableAvailable, TableOccupied, TableReserved:
		return true
	}
	return false
}

// Table is a dine-in table. Its layout comes from the reference snapshot,
// its Status is operational data.
type Table struct {
	ID           string      `json:"id"`
	TableNumber  string      `json:"table_number"`
	Capacity     int         `json:"capacity"`
	Status       TableStatus `json:"status"`
	CurrentOrder string      `json:"current_order_id,omitempty"`
	IsSynced     bool        `json:"_isSynced"`
}

// Snapshot is the reference data set loaded on cache initialization.
type Snapshot struct {
	Categories      []Category       `json:"categories"`
	Products        []Product        `json:"products"`
	ProductVariants []ProductVariant `json:"product_variants"`
	Deals           []Deal           `json:"deals"`
	DealProducts    []DealProduct    `json:"deal_products"`
	Tables          []Table          `json:"tables"`
	Customers       []Customer       `json:"customers"`
	LoadedAt        time.Time        `json:"loaded_at"`
}

// Customer is keyed by normalized phone within a tenant.
type Customer struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	FullName  string    `json:"full_name"`
	Address   string    `json:"address,omitempty"`
	IsSynced  bool      `json:"_isSynced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentTransaction is one leg of a (possibly split) payment.
type PaymentTransaction struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NetworkStatus is the projection the UI polls to render connectivity.
type NetworkStatus struct {
	IsOnline       bool `json:"isOnline"`
	UnsyncedOrders int  `json:"unsyncedOrders"`
}
