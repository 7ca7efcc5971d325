package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
	"github.com/airoxlab/bizposcash-sub002/internal/testutil"
)

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Categories: []domain.Category{{ID: "cat-1", Name: "Burgers", IsActive: true}},
		Products: []domain.Product{
			{ID: "p-1", CategoryID: "cat-1", Name: "Zinger", BasePrice: decimal.NewFromInt(550), HasVariants: true, IsActive: true},
			{ID: "p-2", CategoryID: "cat-1", Name: "Fries", BasePrice: decimal.NewFromInt(200), IsActive: true},
		},
		ProductVariants: []domain.ProductVariant{
			{ID: "v-1", ProductID: "p-1", Name: "Regular", Price: decimal.NewFromInt(550)},
			{ID: "v-2", ProductID: "p-1", Name: "Large", Price: decimal.NewFromInt(700)},
		},
		Deals:        []domain.Deal{{ID: "d-1", Name: "Combo", Price: decimal.NewFromInt(900), IsActive: true}},
		DealProducts: []domain.DealProduct{{ID: "dp-1", DealID: "d-1", ProductID: "p-1", Name: "Zinger", Quantity: 1, VariantIDs: []string{"v-1"}}},
		Tables: []domain.Table{
			{ID: "t-1", TableNumber: "1", Capacity: 4, Status: domain.TableAvailable},
			{ID: "t-2", TableNumber: "2", Capacity: 2, Status: domain.TableAvailable},
		},
		Customers: []domain.Customer{{ID: "c-1", Phone: "+923001111111", FullName: "Sara Khan", Address: "Gulberg III"}},
	}
}

type fixture struct {
	cache *Cache
	store *store.Store
	mem   *remote.Memory
	clock *testutil.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := remote.NewMemory()
	mem.SetSnapshot("tenant-a", testSnapshot())
	st := testutil.NewStore(t)
	clock := testutil.NewManualClock(time.Time{})
	return &fixture{
		cache: New(st, mem, WithNow(clock.Now)),
		store: st,
		mem:   mem,
		clock: clock,
	}
}

func testOrder(id string) domain.Order {
	o := domain.Order{
		ID:            id,
		OrderNumber:   "ORD-" + id,
		OrderType:     domain.OrderTypeWalkIn,
		Status:        domain.StatusPlaced,
		PaymentStatus: domain.PaymentPending,
		Items: []domain.OrderItem{
			{LineID: "l-1", ProductID: "p-2", Name: "Fries", Quantity: 2, FinalPrice: decimal.NewFromInt(200)},
		},
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch,
	}
	o.Recalculate()
	return o
}
