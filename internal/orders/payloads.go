package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// CreatePayload is the body of an order create.
type CreatePayload struct {
	domain.Order
	TerminalID string `json:"terminal_id,omitempty"`
}

// StatusPayload is the body of an order set_status.
type StatusPayload struct {
	Status          domain.OrderStatus `json:"status"`
	ExpectedVersion int64              `json:"expected_version"`
	TerminalID      string             `json:"terminal_id,omitempty"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ItemsPayload is the body of an order update_items.
type ItemsPayload struct {
	Items           []domain.OrderItem `json:"items"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	ExpectedVersion int64              `json:"expected_version"`
	TerminalID      string             `json:"terminal_id,omitempty"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// PaymentPayload is the body of an order set_payment.
type PaymentPayload struct {
	PaymentStatus   domain.PaymentStatus `json:"payment_status"`
	PaymentMethod   string               `json:"payment_method,omitempty"`
	ExpectedVersion int64                `json:"expected_version"`
	TerminalID      string               `json:"terminal_id,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// CustomerPayload is the body of an order update that links a customer.
type CustomerPayload struct {
	CustomerID      string    `json:"customer_id"`
	ExpectedVersion int64     `json:"expected_version"`
	TerminalID      string    `json:"terminal_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TransactionsPayload is the body of an order set_transactions.
type TransactionsPayload struct {
	OrderID      string                      `json:"order_id"`
	Transactions []domain.PaymentTransaction `json:"transactions"`
}

// TablePayload is the body of a table set_status.
type TablePayload struct {
	Status         domain.TableStatus `json:"status"`
	CurrentOrderID string             `json:"current_order_id"`
	TerminalID     string             `json:"terminal_id,omitempty"`
}
