package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// PayoutStatus is the gateway-reported state of a payout order.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutSucceeded PayoutStatus = "SUCCEEDED"
	PayoutRejected  PayoutStatus = "REJECTED"
	PayoutUnknown   PayoutStatus = "UNKNOWN"
)

// Payee identifies the beneficiary of a payout (bank account or crypto
// address; the concrete wire format is the provider adapter's concern).
type Payee struct {
	Name          string
	AccountNumber string
	BankCode      string
}

// PayoutResult is the gateway's answer to an initiation call.
type PayoutResult struct {
	GatewayOrderNo string
	Status         PayoutStatus
}

// PayoutGateway is the narrow interface the settlement engine depends
// on. Concrete provider clients implement it; they never call back into
// the engine directly.
type PayoutGateway interface {
	InitiatePayout(ctx context.Context, orderID string, payee Payee, amount decimal.Decimal, currency string) (*PayoutResult, error)
	QueryStatus(ctx context.Context, orderID, gatewayOrderNo string) (PayoutStatus, error)
}

// VirtualAccountGateway provisions provider-side deposit accounts.
type VirtualAccountGateway interface {
	CreateVirtualAccount(ctx context.Context, userID, currency string) (accountNo string, err error)
}

// ResilientPayout wraps a PayoutGateway with a circuit breaker and a
// bounded per-call timeout. A timeout surfaces as ErrGatewayTimeout:
// unknown outcome, never success, never an automatic failure.
type ResilientPayout struct {
	inner       PayoutGateway
	breaker     *Breaker
	callTimeout time.Duration
}

func NewResilientPayout(inner PayoutGateway, breakers *BreakerSet, callTimeout time.Duration) *ResilientPayout {
	return &ResilientPayout{
		inner:       inner,
		breaker:     breakers.For("payout"),
		callTimeout: callTimeout,
	}
}

// Ready reports whether the breaker currently admits calls. Callers
// that must not move money before dispatching use it to fail fast.
func (p *ResilientPayout) Ready() error {
	if p.breaker.State() == BreakerOpen {
		return xerrors.ErrGatewayUnavailable
	}
	return nil
}

func (p *ResilientPayout) InitiatePayout(ctx context.Context, orderID string, payee Payee, amount decimal.Decimal, currency string) (*PayoutResult, error) {
	var result *PayoutResult
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		var innerErr error
		result, innerErr = p.inner.InitiatePayout(callCtx, orderID, payee, amount, currency)
		return classifyTimeout(callCtx, innerErr)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *ResilientPayout) QueryStatus(ctx context.Context, orderID, gatewayOrderNo string) (PayoutStatus, error) {
	status := PayoutUnknown
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		var innerErr error
		status, innerErr = p.inner.QueryStatus(callCtx, orderID, gatewayOrderNo)
		return classifyTimeout(callCtx, innerErr)
	})
	if err != nil {
		return PayoutUnknown, err
	}
	return status, nil
}

// classifyTimeout maps a context deadline into ErrGatewayTimeout so
// callers can distinguish "unknown outcome" from a real provider error.
func classifyTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return xerrors.ErrGatewayTimeout
	}
	return err
}

// IsRetryable reports whether a gateway error may resolve on a later
// attempt (breaker open, timeout) as opposed to a terminal rejection.
func IsRetryable(err error) bool {
	return errors.Is(err, xerrors.ErrGatewayUnavailable) || errors.Is(err, xerrors.ErrGatewayTimeout)
}
