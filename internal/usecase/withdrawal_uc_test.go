package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

func withdrawalRequest(amount string) *WithdrawalRequest {
	return &WithdrawalRequest{
		UserID:   "user-1",
		Amount:   decimal.RequireFromString(amount),
		Currency: "NGN",
		Payee: gateway.Payee{
			Name:          "ADEBAYO OGUNLESI",
			AccountNumber: "0123456789",
			BankCode:      "058",
		},
		Identity: gateway.IdentityQuery{
			BVN:  "22212345678",
			Name: "ADEBAYO OGUNLESI",
		},
		PaymentMethod: "bank_transfer",
	}
}

func TestWithdrawalHappyPath(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	ctx := context.Background()

	rec, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ExternalReference)
	require.Equal(t, "GW-001", *rec.ExternalReference)

	// 5000 - 1000 - 12 fee
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(3988)), "got %s", b.Available)
}

func TestWithdrawalRejectedIsCompensatedInFull(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	env.payoutGW.initRes = &gateway.PayoutResult{GatewayOrderNo: "GW-002", Status: gateway.PayoutRejected}
	ctx := context.Background()

	rec, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, rec.Status)
	require.NotNil(t, rec.FailureReason)

	// Principal and fee both returned: balance back to 5000 exactly.
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(5000)),
		"refund must cover amount+fee, got %s", b.Available)

	// Ledger still reconciles after debit and refund.
	ledger := &fakeLedger{store: env.store}
	glTotal, err := ledger.BalanceOf(ctx, "user-1", "NGN")
	require.NoError(t, err)
	require.True(t, glTotal.Equal(decimal.NewFromInt(0)),
		"net GL movement should be zero, got %s", glTotal)
}

func TestWithdrawalTimeoutStaysProcessing(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	env.payoutGW.initErr = context.DeadlineExceeded
	ctx := context.Background()

	rec, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, rec.Status)

	// Funds stay debited until reconciliation resolves the outcome.
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(3988)), "got %s", b.Available)
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(1005), decimal.Zero)
	ctx := context.Background()

	// 1000 + 12 fee > 1005
	_, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.ErrorIs(t, err, xerrors.ErrInsufficientFunds)

	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(1005)))
}

func TestWithdrawalKYCGate(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	env.kycGW.matched = false
	ctx := context.Background()

	_, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.ErrorIs(t, err, xerrors.ErrIdentityNotVerified)

	// Nothing moved, nothing recorded.
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(5000)))
	require.Empty(t, env.store.records)
}

func TestWithdrawalFailsFastWhenCircuitOpen(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	ctx := context.Background()

	// Trip the payout breaker with confirmed failures.
	env.payoutGW.initErr = errors.New("connection refused")
	for i := 0; i < 3; i++ {
		_, _ = env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("100"))
	}

	before := env.store.balance("user-1", "NGN")
	recordsBefore := len(env.store.records)

	_, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.ErrorIs(t, err, xerrors.ErrGatewayUnavailable)

	// Open circuit rejects before any debit or record.
	after := env.store.balance("user-1", "NGN")
	require.True(t, after.Available.Equal(before.Available))
	require.Len(t, env.store.records, recordsBefore)
}

func TestPayoutWebhookResolvesProcessingWithdrawal(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	env.payoutGW.initRes = &gateway.PayoutResult{GatewayOrderNo: "GW-010", Status: gateway.PayoutPending}
	ctx := context.Background()

	rec, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, rec.Status)

	err = env.withdrawalUC.HandlePayoutEvent(ctx, &domain.PayoutEvent{
		GatewayOrderNo: "GW-010",
		Succeeded:      true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, env.store.record(rec.ID).Status)

	// Redelivered confirmation is a no-op on a terminal record.
	err = env.withdrawalUC.HandlePayoutEvent(ctx, &domain.PayoutEvent{
		GatewayOrderNo: "GW-010",
		Succeeded:      false,
		Reason:         "late duplicate",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, env.store.record(rec.ID).Status)
}

func TestPayoutWebhookFailureCompensates(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(5000), decimal.Zero)
	env.payoutGW.initRes = &gateway.PayoutResult{GatewayOrderNo: "GW-011", Status: gateway.PayoutPending}
	ctx := context.Background()

	rec, err := env.withdrawalUC.RequestWithdrawal(ctx, withdrawalRequest("1000"))
	require.NoError(t, err)

	err = env.withdrawalUC.HandlePayoutEvent(ctx, &domain.PayoutEvent{
		GatewayOrderNo: "GW-011",
		Succeeded:      false,
		Reason:         "beneficiary account closed",
	})
	require.NoError(t, err)

	got := env.store.record(rec.ID)
	require.Equal(t, domain.StatusFailed, got.Status)
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(5000)))
}
