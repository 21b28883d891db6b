package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/utils"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// DepositUsecase settles incoming deposit confirmations. Redelivered
// webhooks are absorbed twice over: a Redis seen-cache for the fast
// path and the unique index on external_reference as the backstop.
type DepositUsecase struct {
	wallets      *WalletUsecase
	transactions repository.TransactionRepository
	settle       repository.SettlementRepository
	tracker      *StatusTracker
	publisher    *pub.SettlementPublisher
	ids          *utils.ReferenceGenerator
	minDeposit   decimal.Decimal
	logger       *zap.Logger
}

func NewDepositUsecase(
	wallets *WalletUsecase,
	transactions repository.TransactionRepository,
	settle repository.SettlementRepository,
	tracker *StatusTracker,
	publisher *pub.SettlementPublisher,
	ids *utils.ReferenceGenerator,
	minDeposit decimal.Decimal,
	logger *zap.Logger,
) *DepositUsecase {
	return &DepositUsecase{
		wallets:      wallets,
		transactions: transactions,
		settle:       settle,
		tracker:      tracker,
		publisher:    publisher,
		ids:          ids,
		minDeposit:   minDeposit,
		logger:       logger,
	}
}

// HandleDeposit processes one provider confirmation. Safe to call any
// number of times with the same external reference: only the first
// delivery settles, the rest return the already-settled record.
func (uc *DepositUsecase) HandleDeposit(ctx context.Context, ev *domain.DepositEvent) (*domain.TransactionRecord, error) {
	if ev.ExternalReference == "" || ev.UserID == "" || ev.Currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if !ev.Amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}

	// Fast path: seen in cache, fetch and return without touching locks.
	if txID, ok := uc.tracker.ReferenceSeen(ctx, ev.ExternalReference); ok {
		uc.logger.Info("[Deposit] duplicate delivery absorbed (cache)",
			zap.String("external_reference", ev.ExternalReference),
			zap.String("transaction_id", txID))
		return uc.transactions.GetByID(ctx, txID)
	}

	// Slow path existence check before any lock is taken.
	exists, err := uc.transactions.ExistsByExternalReference(ctx, ev.ExternalReference)
	if err != nil {
		return nil, err
	}
	if exists {
		uc.logger.Info("[Deposit] duplicate delivery absorbed (db)",
			zap.String("external_reference", ev.ExternalReference))
		return uc.transactions.GetByExternalReference(ctx, ev.ExternalReference)
	}

	if ev.Amount.LessThan(uc.minDeposit) {
		return uc.recordBelowMinimum(ctx, ev)
	}

	ref := ev.ExternalReference
	rec := &domain.TransactionRecord{
		ID:                uc.ids.NewReference("DEP"),
		UserID:            ev.UserID,
		Type:              domain.TransactionTypeDeposit,
		Amount:            ev.Amount,
		Fee:               decimal.Zero,
		Currency:          ev.Currency,
		Status:            domain.StatusPending,
		ExternalReference: &ref,
		PaymentMethod:     ev.PaymentMethod,
		PaymentDetails:    ev.PayerName,
	}
	mutation := &domain.WalletMutation{
		UserID:        ev.UserID,
		Currency:      ev.Currency,
		Kind:          domain.MutationCredit,
		Amount:        ev.Amount,
		Description:   fmt.Sprintf("Deposit %s", ev.ExternalReference),
		TransactionID: &rec.ID,
		Entries:       domain.UserCredit(ev.UserID, ev.Amount, ev.Currency, "deposit"),
	}

	balance, err := uc.wallets.RecordAndMutate(ctx, rec, mutation, domain.StatusCompleted)
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateExternalReference) {
			// Lost the race against a concurrent delivery.
			uc.logger.Info("[Deposit] duplicate delivery absorbed (unique index)",
				zap.String("external_reference", ev.ExternalReference))
			return uc.transactions.GetByExternalReference(ctx, ev.ExternalReference)
		}
		return nil, err
	}
	rec.Status = domain.StatusCompleted

	uc.tracker.MarkReferenceSeen(ctx, ev.ExternalReference, rec.ID)
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusCompleted)
	_ = uc.publisher.PublishTransactionCompleted(ctx, rec)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    ev.UserID,
		EventType: "deposit.completed",
		Title:     "Deposit received",
		Body:      fmt.Sprintf("%s %s has been credited to your wallet.", ev.Amount, ev.Currency),
	})

	uc.logger.Info("[Deposit] settled",
		zap.String("transaction_id", rec.ID),
		zap.String("user_id", ev.UserID),
		zap.String("amount", ev.Amount.String()),
		zap.String("currency", ev.Currency),
		zap.String("available", balance.Available.String()))
	return rec, nil
}

// recordBelowMinimum keeps an audit record for sub-floor deposits. No
// balance is credited and the record lands terminal immediately.
func (uc *DepositUsecase) recordBelowMinimum(ctx context.Context, ev *domain.DepositEvent) (*domain.TransactionRecord, error) {
	ref := ev.ExternalReference
	reason := fmt.Sprintf("amount below minimum deposit of %s", uc.minDeposit)
	rec := &domain.TransactionRecord{
		ID:                uc.ids.NewReference("DEP"),
		UserID:            ev.UserID,
		Type:              domain.TransactionTypeDeposit,
		Amount:            ev.Amount,
		Fee:               decimal.Zero,
		Currency:          ev.Currency,
		Status:            domain.StatusBelowMinimum,
		ExternalReference: &ref,
		PaymentMethod:     ev.PaymentMethod,
		FailureReason:     &reason,
	}

	if err := uc.settle.RecordOnly(ctx, rec); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateExternalReference) {
			return uc.transactions.GetByExternalReference(ctx, ev.ExternalReference)
		}
		return nil, err
	}

	uc.tracker.MarkReferenceSeen(ctx, ev.ExternalReference, rec.ID)
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusBelowMinimum)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    ev.UserID,
		EventType: "deposit.below_minimum",
		Title:     "Deposit not credited",
		Body:      fmt.Sprintf("Your deposit of %s %s is below the minimum of %s and was not credited. Contact support for assistance.", ev.Amount, ev.Currency, uc.minDeposit),
	})

	uc.logger.Warn("[Deposit] below minimum",
		zap.String("transaction_id", rec.ID),
		zap.String("user_id", ev.UserID),
		zap.String("amount", ev.Amount.String()),
		zap.String("currency", ev.Currency))
	return rec, nil
}
