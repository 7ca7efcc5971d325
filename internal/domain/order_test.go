package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition_ForwardPath(t *testing.T) {
	assert.NoError(t, CheckTransition(StatusPlaced, StatusPreparing))
	assert.NoError(t, CheckTransition(StatusPreparing, StatusReady))
	assert.NoError(t, CheckTransition(StatusReady, StatusCompleted))
	assert.NoError(t, CheckTransition(StatusPlaced, StatusCompleted), "forward skips are allowed")
}

func TestCheckTransition_CancelFromNonTerminal(t *testing.T) {
	for _, from := range []OrderStatus{StatusPlaced, StatusPreparing, StatusReady} {
		assert.NoError(t, CheckTransition(from, StatusCancelled), "from %s", from)
	}
}

func TestCheckTransition_TerminalRejects(t *testing.T) {
	for _, from := range []OrderStatus{StatusCompleted, StatusCancelled} {
		for _, to := range []OrderStatus{StatusPlaced, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled} {
			if from == to {
				continue
			}
			err := CheckTransition(from, to)
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
		}
	}
}

func TestCheckTransition_BackwardRejected(t *testing.T) {
	err := CheckTransition(StatusReady, StatusPreparing)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusReady, te.From)
	assert.Equal(t, StatusPreparing, te.To)
}

func TestCheckTransition_SameStateIsNoop(t *testing.T) {
	assert.NoError(t, CheckTransition(StatusCompleted, StatusCompleted))
	assert.NoError(t, CheckTransition(StatusPlaced, StatusPlaced))
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("Completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st)

	_, err = ParseOrderStatus("completed")
	assert.Error(t, err)
}

func TestOrder_Recalculate(t *testing.T) {
	o := Order{Items: []OrderItem{
		{LineID: "a", Quantity: 2, FinalPrice: decimal.RequireFromString("150.50")},
		{LineID: "b", DealID: "d1", Quantity: 1, FinalPrice: decimal.NewFromInt(999)},
	}}
	o.Recalculate()

	assert.Equal(t, "301", o.Items[0].TotalPrice.String())
	assert.Equal(t, "1300", o.TotalAmount.String())
	assert.True(t, o.Items[1].IsDeal())
}

func TestOrder_CloneIsDeep(t *testing.T) {
	o := Order{ID: "1", Items: []OrderItem{{LineID: "a", Selections: []DealSelection{{Name: "Fries"}}}}}
	c := o.Clone()
	c.Items[0].Quantity = 5
	c.Items[0].Selections[0].Name = "Wedges"

	assert.Equal(t, 0, o.Items[0].Quantity)
	assert.Equal(t, "Fries", o.Items[0].Selections[0].Name)
}

func TestOperation_Collapsible(t *testing.T) {
	assert.False(t, OpCreate.Collapsible())
	assert.False(t, OpDeductInventory.Collapsible())
	assert.True(t, OpSetStatus.Collapsible())
	assert.True(t, OpUpdateItems.Collapsible())
}
