package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide distinguishes the two settlement flows.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus is the internal lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderWaitingPayment OrderStatus = "WAITING_PAYMENT"
	OrderPaid           OrderStatus = "PAID"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

// Exchange status codes as reported by the order detail endpoint.
const (
	ExchangeStatusCreated        = 5
	ExchangeStatusWaitingPayment = 10
	ExchangeStatusPaid           = 20
	ExchangeStatusCancelled      = 40
	ExchangeStatusCompleted      = 50
)

// StatusFromExchangeCode maps the exchange's numeric status onto the
// internal lifecycle. Unknown codes map to the zero value "".
func StatusFromExchangeCode(code int) OrderStatus {
	switch code {
	case ExchangeStatusCreated:
		return OrderCreated
	case ExchangeStatusWaitingPayment:
		return OrderWaitingPayment
	case ExchangeStatusPaid:
		return OrderPaid
	case ExchangeStatusCancelled:
		return OrderCancelled
	case ExchangeStatusCompleted:
		return OrderCompleted
	default:
		return ""
	}
}

// IsTerminal reports whether the order can no longer advance.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Order is a P2P exchange order owned by the user who placed it. The ID
// is the external exchange order id; mutation goes through the
// settlement usecase only.
type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Side             OrderSide       `json:"side"`
	Status           OrderStatus     `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	CurrencyID       string          `json:"currency_id"`
	TargetUserID     string          `json:"target_user_id,omitempty"`
	CounterpartyName string          `json:"counterparty_name,omitempty"`
	TransactionID    *string         `json:"transaction_id,omitempty"`
	Processing       bool            `json:"-"` // claim marker, set while a worker owns the order
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// OrderDetail is the state reported by the exchange for one order.
// Payee fields are only populated on buy orders once the counterparty
// shares payment details.
type OrderDetail struct {
	OrderID            string
	StatusCode         int
	Amount             decimal.Decimal
	Price              decimal.Decimal
	Quantity           decimal.Decimal
	CurrencyID         string
	CounterpartyName   string
	PayeeAccountNumber string
	PayeeBankCode      string
}
