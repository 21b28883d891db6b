package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositEvent is a parsed, signature-verified deposit confirmation
// delivered by a payment provider webhook. ExternalReference is the
// provider's unique event reference and doubles as the idempotency key.
type DepositEvent struct {
	ExternalReference string          `json:"external_reference"`
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PayerName         string          `json:"payer_name,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// PayoutEvent is a parsed payout confirmation webhook correlating back
// to a withdrawal by the gateway order number we stored at initiation.
type PayoutEvent struct {
	GatewayOrderNo string    `json:"gateway_order_no"`
	Succeeded      bool      `json:"succeeded"`
	Reason         string    `json:"reason,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// SettlementEvent is the record published to the settlement event stream
// for every terminal transaction outcome and order settlement.
type SettlementEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"` // transaction.completed, transaction.failed, order.settled, ledger.drift
	UserID        string          `json:"user_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	Type          string          `json:"type,omitempty"`
	Status        string          `json:"status,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Notification is a user-facing message queued on the notification
// channel; delivery (email/SMS/push) is another service's concern.
type Notification struct {
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
