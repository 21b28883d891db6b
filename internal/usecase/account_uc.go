package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/locks"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// AccountUsecase provisions the deposit side of a wallet: the provider
// virtual account and the wallet balance row, created together on
// first use.
type AccountUsecase struct {
	accounts repository.AccountRepository
	wallets  repository.WalletRepository
	provider gateway.VirtualAccountGateway
	locks    *locks.Arena
	logger   *zap.Logger
}

func NewAccountUsecase(
	accounts repository.AccountRepository,
	wallets repository.WalletRepository,
	provider gateway.VirtualAccountGateway,
	arena *locks.Arena,
	logger *zap.Logger,
) *AccountUsecase {
	return &AccountUsecase{
		accounts: accounts,
		wallets:  wallets,
		provider: provider,
		locks:    arena,
		logger:   logger,
	}
}

// GetOrProvision returns the user's virtual account for a currency,
// creating it at the provider on first call. Concurrent first calls
// serialise on the wallet key so the provider is hit once; the unique
// index is the backstop if two processes race anyway.
func (uc *AccountUsecase) GetOrProvision(ctx context.Context, userID, currency string) (*repository.VirtualAccount, error) {
	if userID == "" || currency == "" {
		return nil, xerrors.ErrInvalidInput
	}

	if existing, err := uc.accounts.Get(ctx, userID, currency); err == nil {
		return existing, nil
	}

	release, err := uc.locks.Acquire(ctx, locks.WalletKey(userID, currency))
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-check under the lock.
	if existing, err := uc.accounts.Get(ctx, userID, currency); err == nil {
		return existing, nil
	}

	accountNo, err := uc.provider.CreateVirtualAccount(ctx, userID, currency)
	if err != nil {
		return nil, err
	}

	created, err := uc.accounts.Create(ctx, &repository.VirtualAccount{
		UserID:        userID,
		Currency:      currency,
		AccountNumber: accountNo,
	})
	if err != nil {
		return nil, err
	}
	if _, err := uc.wallets.GetOrCreate(ctx, userID, currency); err != nil {
		return nil, err
	}

	uc.logger.Info("[Account] virtual account provisioned",
		zap.String("user_id", userID),
		zap.String("currency", currency),
		zap.String("account_number", created.AccountNumber))
	return created, nil
}
