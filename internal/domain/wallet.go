package domain

import (
	"time"

	"github.com/shopspring/decimal"

	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// WalletBalance is the fast-path balance row for one (user, currency)
// pair. Total must always equal Available + Frozen; the general ledger
// is the independent audit trail reconciled against Total.
type WalletBalance struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available_balance"`
	Frozen    decimal.Decimal `json:"frozen_balance"`
	Total     decimal.Decimal `json:"total_balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MutationKind identifies a wallet ledger operation.
type MutationKind string

const (
	MutationCredit   MutationKind = "credit"
	MutationDebit    MutationKind = "debit"
	MutationFreeze   MutationKind = "freeze"
	MutationUnfreeze MutationKind = "unfreeze"
)

// WalletMutation is one atomic wallet change request. Entries carry the
// general ledger journal that must be appended in the same database
// transaction as the balance update.
type WalletMutation struct {
	UserID        string
	Currency      string
	Kind          MutationKind
	Amount        decimal.Decimal
	Description   string
	TransactionID *string
	Entries       []*GLEntryRequest
}

// Validate checks the mutation request before any lock is taken.
func (m *WalletMutation) Validate() error {
	if m.UserID == "" || m.Currency == "" {
		return xerrors.ErrInvalidInput
	}
	if !m.Amount.IsPositive() {
		return xerrors.ErrInvalidAmount
	}
	switch m.Kind {
	case MutationCredit, MutationDebit, MutationFreeze, MutationUnfreeze:
	default:
		return xerrors.ErrInvalidInput
	}
	return ValidateJournal(m.Entries)
}

// Apply computes the balance after the mutation. It never mutates the
// receiver; callers persist the returned balance and the matching GL
// entries as one unit. Rejects any result that would leave available or
// frozen negative, leaving the stored row untouched on failure.
func (b *WalletBalance) Apply(kind MutationKind, amount decimal.Decimal) (WalletBalance, error) {
	if !amount.IsPositive() {
		return WalletBalance{}, xerrors.ErrInvalidAmount
	}

	next := *b
	switch kind {
	case MutationCredit:
		next.Available = b.Available.Add(amount)
	case MutationDebit:
		next.Available = b.Available.Sub(amount)
	case MutationFreeze:
		next.Available = b.Available.Sub(amount)
		next.Frozen = b.Frozen.Add(amount)
	case MutationUnfreeze:
		next.Available = b.Available.Add(amount)
		next.Frozen = b.Frozen.Sub(amount)
	default:
		return WalletBalance{}, xerrors.ErrInvalidInput
	}

	if next.Available.IsNegative() || next.Frozen.IsNegative() {
		return WalletBalance{}, xerrors.ErrInsufficientFunds
	}

	next.Total = next.Available.Add(next.Frozen)
	next.UpdatedAt = time.Now()
	return next, nil
}

// HasSufficient reports whether the available balance covers amount.
func (b *WalletBalance) HasSufficient(amount decimal.Decimal) bool {
	return b.Available.GreaterThanOrEqual(amount)
}

// CheckInvariant verifies total == available + frozen and no negatives.
func (b *WalletBalance) CheckInvariant() bool {
	if b.Available.IsNegative() || b.Frozen.IsNegative() || b.Total.IsNegative() {
		return false
	}
	return b.Total.Equal(b.Available.Add(b.Frozen))
}
