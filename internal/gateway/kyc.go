package gateway

import (
	"context"
	"time"
)

// IdentityQuery carries the fields matched against the BVN registry.
type IdentityQuery struct {
	BVN         string
	Name        string
	DateOfBirth string
	Gender      string
}

// KYCVerifier is the opaque identity verification collaborator.
type KYCVerifier interface {
	VerifyIdentity(ctx context.Context, q IdentityQuery) (matched bool, err error)
}

// ResilientKYC wraps a KYCVerifier with the "kyc" breaker.
type ResilientKYC struct {
	inner       KYCVerifier
	breaker     *Breaker
	callTimeout time.Duration
}

func NewResilientKYC(inner KYCVerifier, breakers *BreakerSet, callTimeout time.Duration) *ResilientKYC {
	return &ResilientKYC{
		inner:       inner,
		breaker:     breakers.For("kyc"),
		callTimeout: callTimeout,
	}
}

func (k *ResilientKYC) VerifyIdentity(ctx context.Context, q IdentityQuery) (bool, error) {
	var matched bool
	err := k.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, k.callTimeout)
		defer cancel()

		var innerErr error
		matched, innerErr = k.inner.VerifyIdentity(callCtx, q)
		return classifyTimeout(callCtx, innerErr)
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}
