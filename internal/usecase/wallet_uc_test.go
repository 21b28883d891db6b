package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

func TestConcurrentDebitsDrainExactly(t *testing.T) {
	env := newTestEnv()
	const workers = 20
	total := decimal.NewFromInt(1000)
	each := total.Div(decimal.NewFromInt(workers))
	env.store.seedWallet("user-1", "NGN", total, decimal.Zero)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := env.walletUC.Mutate(ctx, &domain.WalletMutation{
				UserID:      "user-1",
				Currency:    "NGN",
				Kind:        domain.MutationDebit,
				Amount:      each,
				Description: "drain",
				Entries:     domain.UserDebit("user-1", each, "NGN", "drain"),
			}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.IsZero(), "got %s", b.Available)
	require.True(t, b.CheckInvariant())
}

func TestOverCapacityDebitsAreRejectedNotLost(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(100), decimal.Zero)
	ctx := context.Background()

	const workers = 10
	amount := decimal.NewFromInt(30) // only 3 can possibly fit
	var wg sync.WaitGroup
	results := make(chan error, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := env.walletUC.Mutate(ctx, &domain.WalletMutation{
				UserID:      "user-1",
				Currency:    "NGN",
				Kind:        domain.MutationDebit,
				Amount:      amount,
				Description: "contend",
				Entries:     domain.UserDebit("user-1", amount, "NGN", "contend"),
			}, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, xerrors.ErrInsufficientFunds)
		}
	}
	require.Equal(t, 3, succeeded)

	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(10)), "got %s", b.Available)
}

func TestFreezeUnfreezeRoundTrip(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(500), decimal.Zero)
	ctx := context.Background()

	b, err := env.walletUC.Freeze(ctx, "user-1", "NGN", decimal.NewFromInt(200), "dispute hold")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(decimal.NewFromInt(300)))
	require.True(t, b.Frozen.Equal(decimal.NewFromInt(200)))
	require.True(t, b.Total.Equal(decimal.NewFromInt(500)), "freeze must not change total")

	// Frozen funds are not spendable.
	_, err = env.walletUC.Mutate(ctx, &domain.WalletMutation{
		UserID:      "user-1",
		Currency:    "NGN",
		Kind:        domain.MutationDebit,
		Amount:      decimal.NewFromInt(400),
		Description: "overspend",
		Entries:     domain.UserDebit("user-1", decimal.NewFromInt(400), "NGN", "overspend"),
	}, nil)
	require.ErrorIs(t, err, xerrors.ErrInsufficientFunds)

	b, err = env.walletUC.Unfreeze(ctx, "user-1", "NGN", decimal.NewFromInt(200), "dispute resolved")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(decimal.NewFromInt(500)))
	require.True(t, b.Frozen.IsZero())
}

func TestMutateRejectsUnbalancedJournal(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", "NGN", decimal.NewFromInt(500), decimal.Zero)
	ctx := context.Background()

	userID := "user-1"
	_, err := env.walletUC.Mutate(ctx, &domain.WalletMutation{
		UserID:      "user-1",
		Currency:    "NGN",
		Kind:        domain.MutationDebit,
		Amount:      decimal.NewFromInt(100),
		Description: "bad journal",
		Entries: []*domain.GLEntryRequest{
			{UserID: &userID, EntryType: domain.EntryDebit, AccountType: domain.AccountUser, Amount: decimal.NewFromInt(100), Currency: "NGN"},
			{EntryType: domain.EntryCredit, AccountType: domain.AccountSuspense, Amount: decimal.NewFromInt(90), Currency: "NGN"},
		},
	}, nil)
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)

	b := env.store.balance("user-1", "NGN")
	require.True(t, b.Available.Equal(decimal.NewFromInt(500)))
}

func TestLedgerReconcilesWithWalletTotal(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// Build the wallet purely out of settled movements so the GL and
	// the balance grow in lockstep.
	_, err := env.depositUC.HandleDeposit(ctx, depositEvent("REF-R1", "800"))
	require.NoError(t, err)
	_, err = env.depositUC.HandleDeposit(ctx, depositEvent("REF-R2", "400"))
	require.NoError(t, err)

	_, err = env.walletUC.Mutate(ctx, &domain.WalletMutation{
		UserID:      "user-1",
		Currency:    "NGN",
		Kind:        domain.MutationDebit,
		Amount:      decimal.NewFromInt(300),
		Description: "spend",
		Entries:     domain.UserDebit("user-1", decimal.NewFromInt(300), "NGN", "spend"),
	}, nil)
	require.NoError(t, err)

	ledger := &fakeLedger{store: env.store}
	glTotal, err := ledger.BalanceOf(ctx, "user-1", "NGN")
	require.NoError(t, err)

	b := env.store.balance("user-1", "NGN")
	require.True(t, glTotal.Equal(b.Total), "gl %s wallet %s", glTotal, b.Total)
	require.True(t, glTotal.Equal(decimal.NewFromInt(900)))
}
