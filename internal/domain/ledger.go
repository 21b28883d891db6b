package domain

import (
	"time"

	"github.com/shopspring/decimal"

	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// EntryType represents the side of a general ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// GLAccountType classifies the account an entry posts to. USER entries
// carry a user id; FEE and SUSPENSE are platform accounts with no user.
type GLAccountType string

const (
	AccountUser     GLAccountType = "USER"
	AccountFee      GLAccountType = "FEE"
	AccountSuspense GLAccountType = "SUSPENSE"
)

// GLEntry is one immutable general ledger line. Entries are append-only;
// nothing updates or deletes them after creation.
type GLEntry struct {
	ID            int64           `json:"id"`
	UserID        *string         `json:"user_id,omitempty"` // nil for FEE/SUSPENSE
	EntryType     EntryType       `json:"entry_type"`
	AccountType   GLAccountType   `json:"account_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// GLEntryRequest describes a line to append within a wallet mutation.
type GLEntryRequest struct {
	UserID      *string
	EntryType   EntryType
	AccountType GLAccountType
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// ValidateJournal checks a set of entry requests forms a balanced
// journal: at least two lines, all positive, single currency, and
// total debits equal to total credits.
func ValidateJournal(entries []*GLEntryRequest) error {
	if len(entries) < 2 {
		return xerrors.ErrInvalidInput
	}

	var debits, credits decimal.Decimal
	currency := entries[0].Currency

	for _, e := range entries {
		if !e.Amount.IsPositive() {
			return xerrors.ErrInvalidAmount
		}
		if e.Currency != currency {
			return xerrors.ErrCurrencyMismatch
		}
		if e.AccountType == AccountUser && e.UserID == nil {
			return xerrors.ErrInvalidInput
		}
		switch e.EntryType {
		case EntryDebit:
			debits = debits.Add(e.Amount)
		case EntryCredit:
			credits = credits.Add(e.Amount)
		default:
			return xerrors.ErrInvalidInput
		}
	}

	if !debits.Equal(credits) {
		return xerrors.ErrInvalidInput
	}
	return nil
}

// UserCredit builds the standard journal for money arriving into a user
// wallet: debit suspense, credit the user account.
func UserCredit(userID string, amount decimal.Decimal, currency, description string) []*GLEntryRequest {
	return []*GLEntryRequest{
		{EntryType: EntryDebit, AccountType: AccountSuspense, Amount: amount, Currency: currency, Description: description},
		{UserID: &userID, EntryType: EntryCredit, AccountType: AccountUser, Amount: amount, Currency: currency, Description: description},
	}
}

// UserDebit builds the standard journal for money leaving a user wallet:
// debit the user account, credit suspense.
func UserDebit(userID string, amount decimal.Decimal, currency, description string) []*GLEntryRequest {
	return []*GLEntryRequest{
		{UserID: &userID, EntryType: EntryDebit, AccountType: AccountUser, Amount: amount, Currency: currency, Description: description},
		{EntryType: EntryCredit, AccountType: AccountSuspense, Amount: amount, Currency: currency, Description: description},
	}
}

// FeeDebit builds the journal charging a fee from a user to the platform
// fee account.
func FeeDebit(userID string, fee decimal.Decimal, currency, description string) []*GLEntryRequest {
	return []*GLEntryRequest{
		{UserID: &userID, EntryType: EntryDebit, AccountType: AccountUser, Amount: fee, Currency: currency, Description: description},
		{EntryType: EntryCredit, AccountType: AccountFee, Amount: fee, Currency: currency, Description: description},
	}
}

// FeeCredit builds the journal paying a user from the platform fee
// account (cashback, referral bonus).
func FeeCredit(userID string, amount decimal.Decimal, currency, description string) []*GLEntryRequest {
	return []*GLEntryRequest{
		{EntryType: EntryDebit, AccountType: AccountFee, Amount: amount, Currency: currency, Description: description},
		{UserID: &userID, EntryType: EntryCredit, AccountType: AccountUser, Amount: amount, Currency: currency, Description: description},
	}
}

// HoldMemo builds the net-zero journal recorded for freeze/unfreeze.
// Both lines post to the same user account so the GL-derived total is
// unchanged, matching the wallet total which freeze does not move.
func HoldMemo(userID string, amount decimal.Decimal, currency, description string) []*GLEntryRequest {
	return []*GLEntryRequest{
		{UserID: &userID, EntryType: EntryDebit, AccountType: AccountUser, Amount: amount, Currency: currency, Description: description},
		{UserID: &userID, EntryType: EntryCredit, AccountType: AccountUser, Amount: amount, Currency: currency, Description: description},
	}
}
