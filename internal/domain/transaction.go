package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeDeposit          TransactionType = "deposit"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
	TransactionTypeExchange         TransactionType = "exchange"
	TransactionTypeInternalTransfer TransactionType = "internal_transfer"
	TransactionTypeCashback         TransactionType = "cashback"
	TransactionTypeReferralBonus    TransactionType = "referral_bonus"
)

// TransactionStatus represents the lifecycle state of a transaction.
// FAILED, COMPLETED and BELOW_MINIMUM are terminal.
type TransactionStatus string

const (
	StatusPending      TransactionStatus = "PENDING"
	StatusProcessing   TransactionStatus = "PROCESSING"
	StatusCompleted    TransactionStatus = "COMPLETED"
	StatusFailed       TransactionStatus = "FAILED"
	StatusBelowMinimum TransactionStatus = "BELOW_MINIMUM"
)

// transitions lists the allowed forward moves. Terminal states have no
// entry: nothing resurrects a completed or failed transaction.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusBelowMinimum},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s TransactionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// TransactionRecord is the unit-of-work record correlating an external
// reference (bank orderNo, tx hash, exchange order id) to exactly one
// balance mutation. ExternalReference, when set, is globally unique and
// is the idempotency key for webhook/poll redelivery.
type TransactionRecord struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Fee               decimal.Decimal   `json:"fee"`
	Currency          string            `json:"currency"`
	Status            TransactionStatus `json:"status"`
	ExternalReference *string           `json:"external_reference,omitempty"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	PaymentDetails    string            `json:"payment_details,omitempty"`
	FailureReason     *string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// TotalDebit is the full amount leaving the wallet: principal plus fee.
func (t *TransactionRecord) TotalDebit() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}
