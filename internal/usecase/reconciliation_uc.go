package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

const reconcileBatchSize = 200

// ReconciliationUsecase is the safety net for money in flight. It
// re-queries the gateway for every PROCESSING withdrawal and order
// payment until each one resolves to COMPLETED or FAILED, and it
// cross-checks every wallet total against the general ledger.
type ReconciliationUsecase struct {
	transactions repository.TransactionRepository
	orders       repository.OrderRepository
	wallets      repository.WalletRepository
	ledger       repository.LedgerRepository
	withdrawals  *WithdrawalUsecase
	orderUC      *OrderUsecase
	payout       *gateway.ResilientPayout
	publisher    *pub.SettlementPublisher
	logger       *zap.Logger
}

func NewReconciliationUsecase(
	transactions repository.TransactionRepository,
	orders repository.OrderRepository,
	wallets repository.WalletRepository,
	ledger repository.LedgerRepository,
	withdrawals *WithdrawalUsecase,
	orderUC *OrderUsecase,
	payout *gateway.ResilientPayout,
	publisher *pub.SettlementPublisher,
	logger *zap.Logger,
) *ReconciliationUsecase {
	return &ReconciliationUsecase{
		transactions: transactions,
		orders:       orders,
		wallets:      wallets,
		ledger:       ledger,
		withdrawals:  withdrawals,
		orderUC:      orderUC,
		payout:       payout,
		publisher:    publisher,
		logger:       logger,
	}
}

// Run executes one reconciliation cycle. Each stage is independent; a
// failure in one does not stop the others.
func (uc *ReconciliationUsecase) Run(ctx context.Context) {
	uc.resolveWithdrawals(ctx)
	uc.resolveOrderPayments(ctx)
	uc.checkLedgerDrift(ctx)
}

func (uc *ReconciliationUsecase) resolveWithdrawals(ctx context.Context) {
	pending, err := uc.transactions.ListByTypeAndStatus(ctx, domain.TransactionTypeWithdrawal, domain.StatusProcessing, reconcileBatchSize)
	if err != nil {
		uc.logger.Error("[Reconcile] failed to list processing withdrawals", zap.Error(err))
		return
	}

	for _, rec := range pending {
		ref := ""
		if rec.ExternalReference != nil {
			ref = *rec.ExternalReference
		}
		status, err := uc.payout.QueryStatus(ctx, rec.ID, ref)
		if err != nil {
			if !gateway.IsRetryable(err) {
				uc.logger.Error("[Reconcile] withdrawal status query failed",
					zap.String("transaction_id", rec.ID), zap.Error(err))
			}
			continue
		}
		if err := uc.withdrawals.Resolve(ctx, rec, status); err != nil {
			uc.logger.Error("[Reconcile] withdrawal resolution failed",
				zap.String("transaction_id", rec.ID),
				zap.String("status", string(status)),
				zap.Error(err))
		}
	}
	if len(pending) > 0 {
		uc.logger.Info("[Reconcile] withdrawal pass done", zap.Int("checked", len(pending)))
	}
}

func (uc *ReconciliationUsecase) resolveOrderPayments(ctx context.Context) {
	pending, err := uc.transactions.ListByTypeAndStatus(ctx, domain.TransactionTypeExchange, domain.StatusProcessing, reconcileBatchSize)
	if err != nil {
		uc.logger.Error("[Reconcile] failed to list processing order payments", zap.Error(err))
		return
	}

	for _, rec := range pending {
		order, err := uc.orders.GetByTransactionID(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, xerrors.ErrOrderNotFound) {
				uc.logger.Error("[Reconcile] processing payment with no order",
					zap.String("transaction_id", rec.ID))
			}
			continue
		}
		if err := uc.orderUC.ResolveOrderTransaction(ctx, order, rec); err != nil {
			if errors.Is(err, xerrors.ErrOrderProcessingFailed) {
				// Terminal rejection: the refund landed, nothing left
				// to resolve.
				uc.logger.Warn("[Reconcile] order payment compensated",
					zap.String("order_id", order.ID),
					zap.String("transaction_id", rec.ID),
					zap.Error(err))
				continue
			}
			uc.logger.Error("[Reconcile] order payment resolution failed",
				zap.String("order_id", order.ID),
				zap.String("transaction_id", rec.ID),
				zap.Error(err))
		}
	}
	if len(pending) > 0 {
		uc.logger.Info("[Reconcile] order payment pass done", zap.Int("checked", len(pending)))
	}
}

// checkLedgerDrift verifies two invariants for every wallet: total
// equals available plus frozen, and total equals the GL-derived
// balance. Drift is alerted, never auto-corrected.
func (uc *ReconciliationUsecase) checkLedgerDrift(ctx context.Context) {
	balances, err := uc.wallets.ListAll(ctx)
	if err != nil {
		uc.logger.Error("[Reconcile] failed to list wallets", zap.Error(err))
		return
	}

	drifted := 0
	for _, b := range balances {
		if !b.CheckInvariant() {
			drifted++
			uc.logger.Error("[Reconcile] wallet invariant violated",
				zap.String("user_id", b.UserID),
				zap.String("currency", b.Currency),
				zap.String("available", b.Available.String()),
				zap.String("frozen", b.Frozen.String()),
				zap.String("total", b.Total.String()))
			_ = uc.publisher.PublishLedgerDrift(ctx, b.UserID, b.Currency, b.Total, b.Available.Add(b.Frozen))
			continue
		}

		ledgerTotal, err := uc.ledger.BalanceOf(ctx, b.UserID, b.Currency)
		if err != nil {
			uc.logger.Error("[Reconcile] ledger balance query failed",
				zap.String("user_id", b.UserID),
				zap.String("currency", b.Currency),
				zap.Error(err))
			continue
		}
		if !ledgerTotal.Equal(b.Total) {
			drifted++
			uc.logger.Error("[Reconcile] ledger drift detected",
				zap.String("user_id", b.UserID),
				zap.String("currency", b.Currency),
				zap.String("wallet_total", b.Total.String()),
				zap.String("ledger_total", ledgerTotal.String()))
			_ = uc.publisher.PublishLedgerDrift(ctx, b.UserID, b.Currency, b.Total, ledgerTotal)
		}
	}

	uc.logger.Info("[Reconcile] ledger pass done",
		zap.Int("wallets", len(balances)),
		zap.Int("drifted", drifted))
}
