package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input provided")
)

// Wallet ledger
var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrWalletNotFound    = errors.New("wallet not found")
)

// Transaction records / idempotency
var (
	ErrDuplicateExternalReference = errors.New("duplicate external reference")
	ErrInvalidTransition          = errors.New("invalid transaction status transition")
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrBelowMinimumDeposit        = errors.New("deposit below configured minimum")
)

// Orders / settlement
var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderAlreadyClaimed    = errors.New("order already claimed by another worker")
	ErrOrderProcessingFailed  = errors.New("order processing failed")
	ErrReconciliationRequired = errors.New("outcome unknown, reconciliation required")
)

// External gateways
var (
	ErrGatewayUnavailable = errors.New("gateway unavailable") // circuit open
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrGatewayTimeout     = errors.New("gateway call timed out")
)

// KYC
var (
	ErrIdentityNotVerified = errors.New("identity not verified")
)
