package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/utils"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// TransferUsecase covers the internal money movements that never leave
// the platform: wallet-to-wallet transfers, currency exchange within a
// wallet, and platform-funded credits (cashback, referral bonus).
type TransferUsecase struct {
	wallets      *WalletUsecase
	settle       repository.SettlementRepository
	transactions repository.TransactionRepository
	tracker      *StatusTracker
	publisher    *pub.SettlementPublisher
	ids          *utils.ReferenceGenerator
	logger       *zap.Logger
}

func NewTransferUsecase(
	wallets *WalletUsecase,
	settle repository.SettlementRepository,
	transactions repository.TransactionRepository,
	tracker *StatusTracker,
	publisher *pub.SettlementPublisher,
	ids *utils.ReferenceGenerator,
	logger *zap.Logger,
) *TransferUsecase {
	return &TransferUsecase{
		wallets:      wallets,
		settle:       settle,
		transactions: transactions,
		tracker:      tracker,
		publisher:    publisher,
		ids:          ids,
		logger:       logger,
	}
}

// Transfer moves funds between two users in the same currency. Both
// wallet mutations and the status change land in one settlement unit;
// the suspense legs of the two journals net to zero.
func (uc *TransferUsecase) Transfer(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, currency, note string) (*domain.TransactionRecord, error) {
	if fromUserID == "" || toUserID == "" || currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if fromUserID == toUserID {
		return nil, xerrors.ErrInvalidInput
	}
	if !amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}

	rec := &domain.TransactionRecord{
		ID:             uc.ids.NewReference("TRF"),
		UserID:         fromUserID,
		Type:           domain.TransactionTypeInternalTransfer,
		Amount:         amount,
		Fee:            decimal.Zero,
		Currency:       currency,
		Status:         domain.StatusPending,
		PaymentDetails: note,
	}
	if err := uc.settle.RecordOnly(ctx, rec); err != nil {
		return nil, err
	}

	debit := &domain.WalletMutation{
		UserID:        fromUserID,
		Currency:      currency,
		Kind:          domain.MutationDebit,
		Amount:        amount,
		Description:   fmt.Sprintf("Transfer to %s", toUserID),
		TransactionID: &rec.ID,
		Entries:       domain.UserDebit(fromUserID, amount, currency, "internal transfer out"),
	}
	credit := &domain.WalletMutation{
		UserID:        toUserID,
		Currency:      currency,
		Kind:          domain.MutationCredit,
		Amount:        amount,
		Description:   fmt.Sprintf("Transfer from %s", fromUserID),
		TransactionID: &rec.ID,
		Entries:       domain.UserCredit(toUserID, amount, currency, "internal transfer in"),
	}

	err := uc.wallets.MutateAll(ctx, []*domain.WalletMutation{debit, credit}, &repository.StatusUpdate{
		TransactionID: rec.ID,
		To:            domain.StatusCompleted,
	})
	if err != nil {
		if stErr := uc.failRecord(ctx, rec, err.Error()); stErr != nil {
			uc.logger.Error("[Transfer] failed to mark record failed",
				zap.String("transaction_id", rec.ID), zap.Error(stErr))
		}
		return nil, err
	}
	rec.Status = domain.StatusCompleted
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusCompleted)
	_ = uc.publisher.PublishTransactionCompleted(ctx, rec)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    toUserID,
		EventType: "transfer.received",
		Title:     "Transfer received",
		Body:      fmt.Sprintf("You received %s %s.", amount, currency),
	})

	uc.logger.Info("[Transfer] settled",
		zap.String("transaction_id", rec.ID),
		zap.String("from", fromUserID),
		zap.String("to", toUserID),
		zap.String("amount", amount.String()),
		zap.String("currency", currency))
	return rec, nil
}

// Exchange converts an amount between two of the user's own currency
// wallets at the quoted rate. Each currency gets its own balanced
// journal against suspense.
func (uc *TransferUsecase) Exchange(ctx context.Context, userID string, amount decimal.Decimal, fromCurrency, toCurrency string, rate decimal.Decimal) (*domain.TransactionRecord, error) {
	if userID == "" || fromCurrency == "" || toCurrency == "" || fromCurrency == toCurrency {
		return nil, xerrors.ErrInvalidInput
	}
	if !amount.IsPositive() || !rate.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}
	converted := amount.Mul(rate)

	rec := &domain.TransactionRecord{
		ID:             uc.ids.NewReference("EXC"),
		UserID:         userID,
		Type:           domain.TransactionTypeExchange,
		Amount:         amount,
		Fee:            decimal.Zero,
		Currency:       fromCurrency,
		Status:         domain.StatusPending,
		PaymentDetails: fmt.Sprintf("%s -> %s @ %s", fromCurrency, toCurrency, rate),
	}
	if err := uc.settle.RecordOnly(ctx, rec); err != nil {
		return nil, err
	}

	debit := &domain.WalletMutation{
		UserID:        userID,
		Currency:      fromCurrency,
		Kind:          domain.MutationDebit,
		Amount:        amount,
		Description:   fmt.Sprintf("Exchange to %s", toCurrency),
		TransactionID: &rec.ID,
		Entries:       domain.UserDebit(userID, amount, fromCurrency, "exchange out"),
	}
	credit := &domain.WalletMutation{
		UserID:        userID,
		Currency:      toCurrency,
		Kind:          domain.MutationCredit,
		Amount:        converted,
		Description:   fmt.Sprintf("Exchange from %s", fromCurrency),
		TransactionID: &rec.ID,
		Entries:       domain.UserCredit(userID, converted, toCurrency, "exchange in"),
	}

	err := uc.wallets.MutateAll(ctx, []*domain.WalletMutation{debit, credit}, &repository.StatusUpdate{
		TransactionID: rec.ID,
		To:            domain.StatusCompleted,
	})
	if err != nil {
		if stErr := uc.failRecord(ctx, rec, err.Error()); stErr != nil {
			uc.logger.Error("[Exchange] failed to mark record failed",
				zap.String("transaction_id", rec.ID), zap.Error(stErr))
		}
		return nil, err
	}
	rec.Status = domain.StatusCompleted
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusCompleted)
	_ = uc.publisher.PublishTransactionCompleted(ctx, rec)

	uc.logger.Info("[Exchange] settled",
		zap.String("transaction_id", rec.ID),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("from", fromCurrency),
		zap.String("to", toCurrency),
		zap.String("converted", converted.String()))
	return rec, nil
}

// Cashback credits a user from the platform fee account.
func (uc *TransferUsecase) Cashback(ctx context.Context, userID string, amount decimal.Decimal, currency, note string) (*domain.TransactionRecord, error) {
	return uc.platformCredit(ctx, userID, amount, currency, note, domain.TransactionTypeCashback, "CB", "cashback")
}

// ReferralBonus credits a referrer from the platform fee account.
func (uc *TransferUsecase) ReferralBonus(ctx context.Context, userID string, amount decimal.Decimal, currency, note string) (*domain.TransactionRecord, error) {
	return uc.platformCredit(ctx, userID, amount, currency, note, domain.TransactionTypeReferralBonus, "REF", "referral bonus")
}

func (uc *TransferUsecase) platformCredit(ctx context.Context, userID string, amount decimal.Decimal, currency, note string, typ domain.TransactionType, prefix, memo string) (*domain.TransactionRecord, error) {
	if userID == "" || currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if !amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}

	rec := &domain.TransactionRecord{
		ID:             uc.ids.NewReference(prefix),
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		Fee:            decimal.Zero,
		Currency:       currency,
		Status:         domain.StatusPending,
		PaymentDetails: note,
	}
	credit := &domain.WalletMutation{
		UserID:        userID,
		Currency:      currency,
		Kind:          domain.MutationCredit,
		Amount:        amount,
		Description:   memo,
		TransactionID: &rec.ID,
		Entries:       domain.FeeCredit(userID, amount, currency, memo),
	}

	if _, err := uc.wallets.RecordAndMutate(ctx, rec, credit, domain.StatusCompleted); err != nil {
		return nil, err
	}
	rec.Status = domain.StatusCompleted
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusCompleted)
	_ = uc.publisher.PublishTransactionCompleted(ctx, rec)

	uc.logger.Info("[PlatformCredit] settled",
		zap.String("transaction_id", rec.ID),
		zap.String("type", string(typ)),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("currency", currency))
	return rec, nil
}

func (uc *TransferUsecase) failRecord(ctx context.Context, rec *domain.TransactionRecord, reason string) error {
	rec.Status = domain.StatusFailed
	rec.FailureReason = &reason
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusFailed)
	return uc.transactions.UpdateStatus(ctx, nil, rec.ID, domain.StatusFailed, &reason)
}
