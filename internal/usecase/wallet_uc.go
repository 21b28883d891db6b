package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/locks"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// WalletUsecase is the single write path into wallet balances. Every
// mutation runs under the in-process lock for its (user, currency) key
// and settles atomically with its general ledger journal.
type WalletUsecase struct {
	settle  repository.SettlementRepository
	wallets repository.WalletRepository
	locks   *locks.Arena
	logger  *zap.Logger
}

func NewWalletUsecase(settle repository.SettlementRepository, wallets repository.WalletRepository, arena *locks.Arena, logger *zap.Logger) *WalletUsecase {
	return &WalletUsecase{settle: settle, wallets: wallets, locks: arena, logger: logger}
}

func (uc *WalletUsecase) GetBalance(ctx context.Context, userID, currency string) (*domain.WalletBalance, error) {
	return uc.wallets.GetByUserCurrency(ctx, userID, currency)
}

func (uc *WalletUsecase) GetOrCreateBalance(ctx context.Context, userID, currency string) (*domain.WalletBalance, error) {
	return uc.wallets.GetOrCreate(ctx, userID, currency)
}

// Freeze moves part of the available balance into the frozen bucket.
// The GL records a net-zero hold memo: the user's total is unchanged.
func (uc *WalletUsecase) Freeze(ctx context.Context, userID, currency string, amount decimal.Decimal, reason string) (*domain.WalletBalance, error) {
	return uc.Mutate(ctx, &domain.WalletMutation{
		UserID:      userID,
		Currency:    currency,
		Kind:        domain.MutationFreeze,
		Amount:      amount,
		Description: fmt.Sprintf("Freeze: %s", reason),
		Entries:     domain.HoldMemo(userID, amount, currency, reason),
	}, nil)
}

// Unfreeze returns frozen funds to the available balance.
func (uc *WalletUsecase) Unfreeze(ctx context.Context, userID, currency string, amount decimal.Decimal, reason string) (*domain.WalletBalance, error) {
	return uc.Mutate(ctx, &domain.WalletMutation{
		UserID:      userID,
		Currency:    currency,
		Kind:        domain.MutationUnfreeze,
		Amount:      amount,
		Description: fmt.Sprintf("Unfreeze: %s", reason),
		Entries:     domain.HoldMemo(userID, amount, currency, reason),
	}, nil)
}

// Mutate settles one wallet mutation under the wallet's lock. The
// optional status update rides in the same database transaction.
func (uc *WalletUsecase) Mutate(ctx context.Context, m *domain.WalletMutation, status *repository.StatusUpdate) (*domain.WalletBalance, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	release, err := uc.locks.Acquire(ctx, locks.WalletKey(m.UserID, m.Currency))
	if err != nil {
		return nil, err
	}
	defer release()

	balance, err := uc.settle.ApplyMutation(ctx, m, status)
	if err != nil {
		uc.logger.Warn("[Wallet] mutation rejected",
			zap.String("user_id", m.UserID),
			zap.String("currency", m.Currency),
			zap.String("kind", string(m.Kind)),
			zap.String("amount", m.Amount.String()),
			zap.Error(err))
		return nil, err
	}

	uc.logger.Info("[Wallet] mutation settled",
		zap.String("user_id", m.UserID),
		zap.String("currency", m.Currency),
		zap.String("kind", string(m.Kind)),
		zap.String("amount", m.Amount.String()),
		zap.String("available", balance.Available.String()))
	return balance, nil
}

// MutateAll settles several mutations as one unit. Wallet locks are
// taken in sorted key order so two transfers touching the same pair of
// wallets from opposite directions cannot deadlock.
func (uc *WalletUsecase) MutateAll(ctx context.Context, ms []*domain.WalletMutation, status *repository.StatusUpdate) error {
	if len(ms) == 0 {
		return xerrors.ErrInvalidInput
	}
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(ms))
	seen := make(map[string]struct{}, len(ms))
	for _, m := range ms {
		k := locks.WalletKey(m.UserID, m.Currency)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	releases := make([]func(), 0, len(keys))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, k := range keys {
		release, err := uc.locks.Acquire(ctx, k)
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}

	if err := uc.settle.ApplyMutations(ctx, ms, status); err != nil {
		uc.logger.Warn("[Wallet] batch mutation rejected",
			zap.Int("mutations", len(ms)),
			zap.Error(err))
		return err
	}
	return nil
}

// RecordAndMutate inserts a new transaction record and settles its
// mutation under the wallet lock, for flows where the record and the
// money move together (deposits).
func (uc *WalletUsecase) RecordAndMutate(ctx context.Context, rec *domain.TransactionRecord, m *domain.WalletMutation, final domain.TransactionStatus) (*domain.WalletBalance, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	release, err := uc.locks.Acquire(ctx, locks.WalletKey(m.UserID, m.Currency))
	if err != nil {
		return nil, err
	}
	defer release()

	return uc.settle.RecordAndApply(ctx, rec, m, final)
}
