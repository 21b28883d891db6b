package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/utils"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// WithdrawalRequest is the validated intent to move money out to a
// bank account.
type WithdrawalRequest struct {
	UserID        string
	Amount        decimal.Decimal
	Currency      string
	Payee         gateway.Payee
	Identity      gateway.IdentityQuery
	PaymentMethod string
}

// WithdrawalUsecase debits a wallet and dispatches a payout. The order
// of operations is fixed: verify identity, check the gateway admits
// calls, debit principal plus fee, then dispatch. A payout that is
// confirmed rejected is compensated in full; a payout with an unknown
// outcome stays PROCESSING until reconciliation resolves it.
type WithdrawalUsecase struct {
	wallets      *WalletUsecase
	transactions repository.TransactionRepository
	payout       *gateway.ResilientPayout
	kyc          *gateway.ResilientKYC
	tracker      *StatusTracker
	publisher    *pub.SettlementPublisher
	ids          *utils.ReferenceGenerator
	fee          decimal.Decimal
	logger       *zap.Logger
}

func NewWithdrawalUsecase(
	wallets *WalletUsecase,
	transactions repository.TransactionRepository,
	payout *gateway.ResilientPayout,
	kyc *gateway.ResilientKYC,
	tracker *StatusTracker,
	publisher *pub.SettlementPublisher,
	ids *utils.ReferenceGenerator,
	fee decimal.Decimal,
	logger *zap.Logger,
) *WithdrawalUsecase {
	return &WithdrawalUsecase{
		wallets:      wallets,
		transactions: transactions,
		payout:       payout,
		kyc:          kyc,
		tracker:      tracker,
		publisher:    publisher,
		ids:          ids,
		fee:          fee,
		logger:       logger,
	}
}

// RequestWithdrawal runs the full withdrawal flow. It returns the
// transaction record in whatever state the flow reached: COMPLETED,
// PROCESSING (outcome pending) or FAILED (compensated).
func (uc *WithdrawalUsecase) RequestWithdrawal(ctx context.Context, req *WithdrawalRequest) (*domain.TransactionRecord, error) {
	if req.UserID == "" || req.Currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if !req.Amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}

	// Identity gate before anything moves.
	matched, err := uc.kyc.VerifyIdentity(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, xerrors.ErrIdentityNotVerified
	}

	// Fail fast while the payout circuit is open; nothing has been
	// debited yet so there is nothing to unwind.
	if err := uc.payout.Ready(); err != nil {
		uc.logger.Warn("[Withdrawal] rejected, payout circuit open",
			zap.String("user_id", req.UserID))
		return nil, err
	}

	rec := &domain.TransactionRecord{
		ID:            uc.ids.NewReference("WD"),
		UserID:        req.UserID,
		Type:          domain.TransactionTypeWithdrawal,
		Amount:        req.Amount,
		Fee:           uc.fee,
		Currency:      req.Currency,
		Status:        domain.StatusPending,
		PaymentMethod: req.PaymentMethod,
		PaymentDetails: fmt.Sprintf("%s %s (%s)",
			req.Payee.BankCode, req.Payee.AccountNumber, req.Payee.Name),
	}

	debit := &domain.WalletMutation{
		UserID:        req.UserID,
		Currency:      req.Currency,
		Kind:          domain.MutationDebit,
		Amount:        rec.TotalDebit(),
		Description:   fmt.Sprintf("Withdrawal %s", rec.ID),
		TransactionID: &rec.ID,
		Entries:       withdrawalJournal(req.UserID, req.Amount, uc.fee, req.Currency),
	}

	if _, err := uc.wallets.RecordAndMutate(ctx, rec, debit, domain.StatusProcessing); err != nil {
		return nil, err
	}
	rec.Status = domain.StatusProcessing
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusProcessing)

	result, err := uc.payout.InitiatePayout(ctx, rec.ID, req.Payee, req.Amount, req.Currency)
	switch {
	case err == nil:
		if bindErr := uc.transactions.BindExternalReference(ctx, rec.ID, result.GatewayOrderNo); bindErr != nil {
			uc.logger.Error("[Withdrawal] failed to bind gateway order no",
				zap.String("transaction_id", rec.ID),
				zap.String("gateway_order_no", result.GatewayOrderNo),
				zap.Error(bindErr))
		} else {
			rec.ExternalReference = &result.GatewayOrderNo
		}

		switch result.Status {
		case gateway.PayoutSucceeded:
			return uc.complete(ctx, rec)
		case gateway.PayoutRejected:
			return uc.compensate(ctx, rec, "payout rejected by gateway")
		default:
			// Dispatched, outcome pending; reconciliation takes over.
			uc.logger.Info("[Withdrawal] payout dispatched, awaiting confirmation",
				zap.String("transaction_id", rec.ID),
				zap.String("gateway_order_no", result.GatewayOrderNo))
			return rec, nil
		}

	case errors.Is(err, xerrors.ErrGatewayTimeout):
		// Unknown outcome: the provider may have executed the payout.
		// Funds stay debited, status stays PROCESSING.
		uc.logger.Warn("[Withdrawal] payout outcome unknown after timeout",
			zap.String("transaction_id", rec.ID))
		return rec, nil

	case errors.Is(err, xerrors.ErrGatewayUnavailable):
		// Breaker rejected the call before dispatch: confirmed not sent.
		return uc.compensate(ctx, rec, "payment gateway unavailable")

	default:
		// Provider answered with a definitive error: confirmed failure.
		return uc.compensate(ctx, rec, err.Error())
	}
}

// HandlePayoutEvent settles a payout confirmation webhook. Redelivery
// is absorbed by the terminal-status check.
func (uc *WithdrawalUsecase) HandlePayoutEvent(ctx context.Context, ev *domain.PayoutEvent) error {
	rec, err := uc.transactions.GetByExternalReference(ctx, ev.GatewayOrderNo)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		uc.logger.Info("[Withdrawal] duplicate payout event absorbed",
			zap.String("transaction_id", rec.ID),
			zap.String("gateway_order_no", ev.GatewayOrderNo))
		return nil
	}

	if ev.Succeeded {
		_, err = uc.complete(ctx, rec)
		return err
	}
	reason := ev.Reason
	if reason == "" {
		reason = "payout failed"
	}
	_, err = uc.compensate(ctx, rec, reason)
	return err
}

// Resolve finishes a PROCESSING withdrawal from a queried gateway
// status. Called by reconciliation.
func (uc *WithdrawalUsecase) Resolve(ctx context.Context, rec *domain.TransactionRecord, status gateway.PayoutStatus) error {
	switch status {
	case gateway.PayoutSucceeded:
		_, err := uc.complete(ctx, rec)
		return err
	case gateway.PayoutRejected:
		_, err := uc.compensate(ctx, rec, "payout rejected by gateway")
		return err
	default:
		// Still pending or unknown; try again next cycle.
		return nil
	}
}

func (uc *WithdrawalUsecase) complete(ctx context.Context, rec *domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if err := uc.transactions.UpdateStatus(ctx, nil, rec.ID, domain.StatusCompleted, nil); err != nil {
		return nil, err
	}
	rec.Status = domain.StatusCompleted

	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusCompleted)
	_ = uc.publisher.PublishTransactionCompleted(ctx, rec)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    rec.UserID,
		EventType: "withdrawal.completed",
		Title:     "Withdrawal completed",
		Body:      fmt.Sprintf("%s %s has been sent to your bank account.", rec.Amount, rec.Currency),
	})

	uc.logger.Info("[Withdrawal] completed",
		zap.String("transaction_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.String("amount", rec.Amount.String()))
	return rec, nil
}

// compensate refunds principal plus fee and marks the record FAILED in
// one settlement unit. The refund journal mirrors the original debit.
func (uc *WithdrawalUsecase) compensate(ctx context.Context, rec *domain.TransactionRecord, reason string) (*domain.TransactionRecord, error) {
	refund := &domain.WalletMutation{
		UserID:        rec.UserID,
		Currency:      rec.Currency,
		Kind:          domain.MutationCredit,
		Amount:        rec.TotalDebit(),
		Description:   fmt.Sprintf("Refund %s", rec.ID),
		TransactionID: &rec.ID,
		Entries:       refundJournal(rec.UserID, rec.Amount, rec.Fee, rec.Currency),
	}

	if _, err := uc.wallets.Mutate(ctx, refund, &repository.StatusUpdate{
		TransactionID: rec.ID,
		To:            domain.StatusFailed,
		FailureReason: &reason,
	}); err != nil {
		// Refund did not land; the record stays PROCESSING and
		// reconciliation retries the whole resolution.
		uc.logger.Error("[Withdrawal] compensation failed",
			zap.String("transaction_id", rec.ID),
			zap.Error(err))
		return nil, err
	}
	rec.Status = domain.StatusFailed
	rec.FailureReason = &reason

	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusFailed)
	_ = uc.publisher.PublishTransactionFailed(ctx, rec, reason)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    rec.UserID,
		EventType: "withdrawal.failed",
		Title:     "Withdrawal failed",
		Body:      fmt.Sprintf("Your withdrawal of %s %s could not be completed. %s %s has been returned to your wallet.", rec.Amount, rec.Currency, rec.TotalDebit(), rec.Currency),
	})

	uc.logger.Warn("[Withdrawal] compensated",
		zap.String("transaction_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.String("refunded", rec.TotalDebit().String()),
		zap.String("reason", reason))
	return rec, nil
}

// withdrawalJournal debits principal to suspense and fee to the
// platform fee account.
func withdrawalJournal(userID string, amount, fee decimal.Decimal, currency string) []*domain.GLEntryRequest {
	entries := domain.UserDebit(userID, amount, currency, "withdrawal")
	if fee.IsPositive() {
		entries = append(entries, domain.FeeDebit(userID, fee, currency, "withdrawal fee")...)
	}
	return entries
}

// refundJournal reverses withdrawalJournal leg for leg.
func refundJournal(userID string, amount, fee decimal.Decimal, currency string) []*domain.GLEntryRequest {
	entries := domain.UserCredit(userID, amount, currency, "withdrawal refund")
	if fee.IsPositive() {
		entries = append(entries, domain.FeeCredit(userID, fee, currency, "withdrawal fee refund")...)
	}
	return entries
}
