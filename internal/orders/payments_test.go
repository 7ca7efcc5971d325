package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

func TestMarkPaid(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "")
	_, err := f.orders.UpdateOrderStatus(ctx, id, domain.StatusCompleted)
	require.NoError(t, err)

	res, err := f.orders.MarkPaid(ctx, id, "cash")
	require.NoError(t, err)
	assert.True(t, res.Success)

	o, _ := f.cache.GetOrder(id)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "cash", o.PaymentMethod)
	assert.Equal(t, domain.StatusCompleted, o.Status)

	_, err = f.orders.MarkPaid(ctx, "nope", "cash")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRecordSplitPayment(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "")

	res, err := f.orders.RecordSplitPayment(ctx, id, []domain.PaymentTransaction{
		{Method: "cash", Amount: decimal.NewFromInt(500)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"paid 500.00 of 1300.00"}, res.Warnings)
	o, _ := f.cache.GetOrder(id)
	assert.Equal(t, domain.PaymentPartial, o.PaymentStatus)

	_, err = f.orders.RecordSplitPayment(ctx, id, []domain.PaymentTransaction{
		{Method: "cash", Amount: decimal.NewFromInt(500)},
		{Method: "card", Amount: decimal.NewFromInt(800), Reference: "AUTH-1"},
	})
	require.NoError(t, err)

	o, _ = f.cache.GetOrder(id)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "split", o.PaymentMethod)

	txs := f.cache.GetPaymentTransactions(id)
	require.Len(t, txs, 2)
	assert.Equal(t, "AUTH-1", txs[1].Reference)
	assert.False(t, txs[1].CreatedAt.IsZero())

	var setTx, setPay int
	for _, m := range f.mutations(t, domain.EntityOrder, id) {
		switch m.Operation {
		case domain.OpSetTransactions:
			setTx++
		case domain.OpSetPayment:
			setPay++
		}
	}
	assert.Equal(t, 1, setTx)
	assert.Equal(t, 1, setPay)
}

func TestRecordSplitPayment_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.placeOrder(t, "")

	_, err := f.orders.RecordSplitPayment(ctx, id, nil)
	assert.ErrorIs(t, err, ErrInvalidPayment)
	_, err = f.orders.RecordSplitPayment(ctx, id, []domain.PaymentTransaction{{Method: "cash", Amount: decimal.Zero}})
	assert.ErrorIs(t, err, ErrInvalidPayment)
	_, err = f.orders.RecordSplitPayment(ctx, id, []domain.PaymentTransaction{{Amount: decimal.NewFromInt(1)}})
	assert.ErrorIs(t, err, ErrInvalidPayment)
	assert.Empty(t, f.cache.GetPaymentTransactions(id))
}
