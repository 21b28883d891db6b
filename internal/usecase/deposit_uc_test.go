package usecase

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

func depositEvent(ref string, amount string) *domain.DepositEvent {
	return &domain.DepositEvent{
		ExternalReference: ref,
		UserID:            "user-1",
		Amount:            decimal.RequireFromString(amount),
		Currency:          "NGN",
		PayerName:         "ADEBAYO OGUNLESI",
		PaymentMethod:     "bank_transfer",
	}
}

func TestHandleDepositCreditsWallet(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	rec, err := env.depositUC.HandleDeposit(ctx, depositEvent("PSP-100", "2500.00"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.Equal(t, domain.TransactionTypeDeposit, rec.Type)

	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.RequireFromString("2500.00")))
	require.True(t, b.Total.Equal(b.Available.Add(b.Frozen)))

	// Journal landed with the mutation.
	entries := env.store.journals[rec.ID]
	require.Len(t, entries, 2)
}

func TestHandleDepositRedeliveryIsNoOp(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.depositUC.HandleDeposit(ctx, depositEvent("PSP-200", "1000.00"))
	require.NoError(t, err)

	// Same reference delivered five more times.
	for i := 0; i < 5; i++ {
		again, err := env.depositUC.HandleDeposit(ctx, depositEvent("PSP-200", "1000.00"))
		require.NoError(t, err)
		require.Equal(t, first.ID, again.ID)
	}

	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.RequireFromString("1000.00")),
		"redelivery must not credit twice, got %s", b.Available)
}

func TestHandleDepositBelowMinimum(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	rec, err := env.depositUC.HandleDeposit(ctx, depositEvent("PSP-300", "3.50"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusBelowMinimum, rec.Status)
	require.NotNil(t, rec.FailureReason)

	// No credit, and BELOW_MINIMUM is terminal.
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.IsZero())
	require.True(t, rec.Status.IsTerminal())

	// Redelivery of the below-minimum reference is absorbed too.
	again, err := env.depositUC.HandleDeposit(ctx, depositEvent("PSP-300", "3.50"))
	require.NoError(t, err)
	require.Equal(t, rec.ID, again.ID)
}

func TestHandleDepositRejectsInvalidEvents(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.depositUC.HandleDeposit(ctx, &domain.DepositEvent{
		UserID: "user-1", Amount: decimal.NewFromInt(10), Currency: "NGN",
	})
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)

	ev := depositEvent("PSP-400", "10.00")
	ev.Amount = decimal.NewFromInt(-10)
	_, err = env.depositUC.HandleDeposit(ctx, ev)
	require.ErrorIs(t, err, xerrors.ErrInvalidAmount)
}

func TestHandleDepositConcurrentDeliveries(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	const n = 16
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := env.depositUC.HandleDeposit(ctx, depositEvent("PSP-500", "750.00"))
			done <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.RequireFromString("750.00")),
		"concurrent deliveries credited %s, want 750.00", b.Available)
}
