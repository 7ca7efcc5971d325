package remote

import (
	"github.com/shopspring/decimal"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// DemoSnapshot is a small menu used by the in-memory remote kind and the
// scenario harness.
func DemoSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Categories: []domain.Category{
			{ID: "cat-1", Name: "Burgers", SortOrder: 1, IsActive: true},
			{ID: "cat-2", Name: "Sides", SortOrder: 2, IsActive: true},
		},
		Products: []domain.Product{
			{ID: "p-1", CategoryID: "cat-1", Name: "Zinger", BasePrice: decimal.NewFromInt(550), HasVariants: true, IsActive: true},
			{ID: "p-2", CategoryID: "cat-2", Name: "Fries", BasePrice: decimal.NewFromInt(200), IsActive: true},
			{ID: "p-3", CategoryID: "cat-2", Name: "Drink", BasePrice: decimal.NewFromInt(120), IsActive: true},
		},
		ProductVariants: []domain.ProductVariant{
			{ID: "v-1", ProductID: "p-1", Name: "Regular", Price: decimal.NewFromInt(550)},
			{ID: "v-2", ProductID: "p-1", Name: "Large", Price: decimal.NewFromInt(700)},
		},
		Deals: []domain.Deal{
			{ID: "d-1", Name: "Combo", Price: decimal.NewFromInt(900), IsActive: true},
		},
		DealProducts: []domain.DealProduct{
			{ID: "dp-1", DealID: "d-1", ProductID: "p-1", Name: "Zinger", Quantity: 1, VariantIDs: []string{"v-1", "v-2"}},
			{ID: "dp-2", DealID: "d-1", ProductID: "p-2", Name: "Fries", Quantity: 1},
			{ID: "dp-3", DealID: "d-1", ProductID: "p-3", Name: "Drink", Quantity: 1},
		},
		Tables: []domain.Table{
			{ID: "t-1", TableNumber: "1", Capacity: 4, Status: domain.TableAvailable},
			{ID: "t-2", TableNumber: "2", Capacity: 2, Status: domain.TableAvailable},
			{ID: "t-3", TableNumber: "3", Capacity: 6, Status: domain.TableAvailable},
		},
	}
}

// SeedDemo loads DemoSnapshot for tenantID into m.
func SeedDemo(m *Memory, tenantID string) {
	m.SetSnapshot(tenantID, DemoSnapshot())
}
