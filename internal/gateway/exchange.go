package gateway

import (
	"context"
	"time"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
)

// ExchangeClient is the narrow interface over the P2P exchange API.
// Signing and wire formats live in the concrete client.
type ExchangeClient interface {
	GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error)
	MarkPaid(ctx context.Context, orderID, paymentRef string) error
	ReleaseAssets(ctx context.Context, orderID string) error
	SendMessage(ctx context.Context, orderID, text string) error
}

// ResilientExchange wraps an ExchangeClient with the "exchange" breaker
// and a bounded per-call timeout.
type ResilientExchange struct {
	inner       ExchangeClient
	breaker     *Breaker
	callTimeout time.Duration
}

func NewResilientExchange(inner ExchangeClient, breakers *BreakerSet, callTimeout time.Duration) *ResilientExchange {
	return &ResilientExchange{
		inner:       inner,
		breaker:     breakers.For("exchange"),
		callTimeout: callTimeout,
	}
}

func (e *ResilientExchange) GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	var detail *domain.OrderDetail
	err := e.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		var innerErr error
		detail, innerErr = e.inner.GetOrderDetail(callCtx, orderID)
		return classifyTimeout(callCtx, innerErr)
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (e *ResilientExchange) MarkPaid(ctx context.Context, orderID, paymentRef string) error {
	return e.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return classifyTimeout(callCtx, e.inner.MarkPaid(callCtx, orderID, paymentRef))
	})
}

func (e *ResilientExchange) ReleaseAssets(ctx context.Context, orderID string) error {
	return e.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return classifyTimeout(callCtx, e.inner.ReleaseAssets(callCtx, orderID))
	})
}

func (e *ResilientExchange) SendMessage(ctx context.Context, orderID, text string) error {
	return e.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return classifyTimeout(callCtx, e.inner.SendMessage(callCtx, orderID, text))
	})
}
