package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/queue"
)

// MarkPaid sets payment_status to Paid. Payment is independent of status:
// a completed or cancelled order can still be marked paid.
func (m *Manager) MarkPaid(ctx context.Context, orderID, method string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	if _, ok := m.cache.GetOrder(orderID); !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	mutID, err := m.setPaymentLocked(ctx, tenant, orderID, domain.PaymentPaid, method)
	if err != nil {
		return Result{}, err
	}
	return m.finish(ctx, orderID, mutID), nil
}

// RecordSplitPayment stores the transactions of a split payment and
// derives payment_status from their sum: Paid once it covers the total,
// Partial before that.
func (m *Manager) RecordSplitPayment(ctx context.Context, orderID string, txs []domain.PaymentTransaction) (Result, error) {
	if len(txs) == 0 {
		return Result{}, fmt.Errorf("%w: no transactions", ErrInvalidPayment)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, err := m.tenant()
	if err != nil {
		return Result{}, err
	}

	o, ok := m.cache.GetOrder(orderID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	now := m.now().UTC()
	paid := decimal.Zero
	stamped := make([]domain.PaymentTransaction, len(txs))
	for i, tx := range txs {
		if !tx.Amount.IsPositive() {
			return Result{}, fmt.Errorf("%w: transaction %d amount %s", ErrInvalidPayment, i, tx.Amount)
		}
		if tx.Method == "" {
			return Result{}, fmt.Errorf("%w: transaction %d has no method", ErrInvalidPayment, i)
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		paid = paid.Add(tx.Amount)
		stamped[i] = tx
	}

	if _, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   orderID,
		Operation:  domain.OpSetTransactions,
		Payload:    TransactionsPayload{OrderID: orderID, Transactions: stamped},
	}); err != nil {
		return Result{}, err
	}
	if err := m.cache.SetPaymentTransactions(ctx, orderID, stamped); err != nil {
		m.logger.Error("failed to persist payment transactions", "order_id", orderID, "error", err)
	}

	status := domain.PaymentPartial
	if paid.GreaterThanOrEqual(o.TotalAmount) {
		status = domain.PaymentPaid
	}
	mutID, err := m.setPaymentLocked(ctx, tenant, orderID, status, "split")
	if err != nil {
		return Result{}, err
	}
	res := m.finish(ctx, orderID, mutID)
	if status == domain.PaymentPartial {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("paid %s of %s", paid.StringFixed(2), o.TotalAmount.StringFixed(2)))
	}
	return res, nil
}

func (m *Manager) setPaymentLocked(ctx context.Context, tenant, orderID string, status domain.PaymentStatus, method string) (string, error) {
	o, _ := m.cache.GetOrder(orderID)
	if method == "" {
		method = o.PaymentMethod
	}
	now := m.now().UTC()
	expected := o.Version
	mut, err := m.queue.Enqueue(ctx, queue.Request{
		TenantID:   tenant,
		EntityType: domain.EntityOrder,
		EntityID:   orderID,
		Operation:  domain.OpSetPayment,
		Payload: PaymentPayload{
			PaymentStatus:   status,
			PaymentMethod:   method,
			ExpectedVersion: expected,
			TerminalID:      m.terminalID,
			UpdatedAt:       now,
		},
	})
	if err != nil {
		return "", err
	}
	m.cache.UpdateOrder(orderID, func(o *domain.Order) {
		o.PaymentStatus = status
		o.PaymentMethod = method
		o.Version = expected + 1
		o.IsSynced = false
		o.UpdatedAt = now
	})
	return mut.ID, nil
}
