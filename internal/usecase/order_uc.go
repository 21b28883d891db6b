package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/utils"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// OrderUsecase drives P2P exchange orders to settlement.
//
// Buy side: once the counterparty shares payment details, debit the
// buyer's wallet (amount plus fee), pay the counterparty's bank
// account, then mark the exchange order paid. A payout that is
// confirmed rejected is refunded in full; a payout with an unknown
// outcome parks the order until reconciliation resolves it.
//
// Sell side: once the exchange reports the buyer paid, look for a
// matching settled deposit and release the escrowed assets.
type OrderUsecase struct {
	orders       repository.OrderRepository
	wallets      *WalletUsecase
	transactions repository.TransactionRepository
	exchange     *gateway.ResilientExchange
	payout       *gateway.ResilientPayout
	tracker      *StatusTracker
	publisher    *pub.SettlementPublisher
	ids          *utils.ReferenceGenerator
	fee          decimal.Decimal
	logger       *zap.Logger
}

func NewOrderUsecase(
	orders repository.OrderRepository,
	wallets *WalletUsecase,
	transactions repository.TransactionRepository,
	exchange *gateway.ResilientExchange,
	payout *gateway.ResilientPayout,
	tracker *StatusTracker,
	publisher *pub.SettlementPublisher,
	ids *utils.ReferenceGenerator,
	fee decimal.Decimal,
	logger *zap.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		orders:       orders,
		wallets:      wallets,
		transactions: transactions,
		exchange:     exchange,
		payout:       payout,
		tracker:      tracker,
		publisher:    publisher,
		ids:          ids,
		fee:          fee,
		logger:       logger,
	}
}

// ProcessOrder advances one order by one step. Exactly one worker holds
// the claim at a time; a lost claim race is a silent skip, the winner
// is already doing the work. Gateway trouble leaves the order where it
// is for the next poll cycle.
func (uc *OrderUsecase) ProcessOrder(ctx context.Context, orderID string) error {
	if err := uc.orders.Claim(ctx, orderID); err != nil {
		if errors.Is(err, xerrors.ErrOrderAlreadyClaimed) {
			return nil
		}
		return err
	}
	defer func() {
		if err := uc.orders.ReleaseClaim(context.WithoutCancel(ctx), orderID); err != nil {
			uc.logger.Error("[Order] failed to release claim",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	order, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return nil
	}

	detail, err := uc.exchange.GetOrderDetail(ctx, orderID)
	if err != nil {
		uc.logger.Warn("[Order] detail fetch failed, retrying next cycle",
			zap.String("order_id", orderID), zap.Error(err))
		return err
	}

	reported := domain.StatusFromExchangeCode(detail.StatusCode)
	if reported != "" && reported != order.Status {
		if err := uc.orders.UpdateStatus(ctx, nil, orderID, reported); err != nil {
			return err
		}
		order.Status = reported
	}

	switch {
	case order.Status == domain.OrderCancelled:
		return uc.handleCancelled(ctx, order)
	case order.Side == domain.OrderSideBuy:
		return uc.advanceBuy(ctx, order, detail)
	case order.Side == domain.OrderSideSell:
		return uc.advanceSell(ctx, order, detail)
	default:
		return nil
	}
}

// ===============================
// Buy side
// ===============================

func (uc *OrderUsecase) advanceBuy(ctx context.Context, order *domain.Order, detail *domain.OrderDetail) error {
	switch order.Status {
	case domain.OrderWaitingPayment:
		if order.TransactionID == nil {
			return uc.settleBuyPayment(ctx, order, detail)
		}
		// Debited on a previous cycle but never confirmed; hand the
		// transaction back to resolution.
		rec, err := uc.transactions.GetByID(ctx, *order.TransactionID)
		if err != nil {
			return err
		}
		return uc.ResolveOrderTransaction(ctx, order, rec)

	case domain.OrderPaid:
		// Waiting for the counterparty to release; nothing to do.
		return nil

	case domain.OrderCompleted:
		return uc.finishOrder(ctx, order)

	default:
		return nil
	}
}

// settleBuyPayment runs the full buy-side payment step: debit, payout,
// mark paid.
func (uc *OrderUsecase) settleBuyPayment(ctx context.Context, order *domain.Order, detail *domain.OrderDetail) error {
	if detail.PayeeAccountNumber == "" {
		// Counterparty has not shared payment details yet.
		return nil
	}
	if err := uc.payout.Ready(); err != nil {
		uc.logger.Warn("[Order] buy payment deferred, payout circuit open",
			zap.String("order_id", order.ID))
		return nil
	}

	rec := &domain.TransactionRecord{
		ID:             uc.ids.NewReference("ORD"),
		UserID:         order.UserID,
		Type:           domain.TransactionTypeExchange,
		Amount:         order.Amount,
		Fee:            uc.fee,
		Currency:       order.CurrencyID,
		Status:         domain.StatusPending,
		PaymentDetails: fmt.Sprintf("order %s payout to %s", order.ID, detail.CounterpartyName),
	}
	debit := &domain.WalletMutation{
		UserID:        order.UserID,
		Currency:      order.CurrencyID,
		Kind:          domain.MutationDebit,
		Amount:        rec.TotalDebit(),
		Description:   fmt.Sprintf("Order %s payment", order.ID),
		TransactionID: &rec.ID,
		Entries:       withdrawalJournal(order.UserID, order.Amount, uc.fee, order.CurrencyID),
	}

	if _, err := uc.wallets.RecordAndMutate(ctx, rec, debit, domain.StatusProcessing); err != nil {
		if errors.Is(err, xerrors.ErrInsufficientFunds) {
			uc.publisher.Notify(ctx, &domain.Notification{
				UserID:    order.UserID,
				EventType: "order.insufficient_funds",
				Title:     "Order payment failed",
				Body:      fmt.Sprintf("Your wallet balance cannot cover order %s (%s %s plus fee).", order.ID, order.Amount, order.CurrencyID),
			})
		}
		return err
	}
	rec.Status = domain.StatusProcessing
	if err := uc.orders.BindTransaction(ctx, nil, order.ID, rec.ID); err != nil {
		return err
	}
	order.TransactionID = &rec.ID
	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusProcessing)

	payee := gateway.Payee{
		Name:          detail.CounterpartyName,
		AccountNumber: detail.PayeeAccountNumber,
		BankCode:      detail.PayeeBankCode,
	}
	result, err := uc.payout.InitiatePayout(ctx, rec.ID, payee, order.Amount, order.CurrencyID)
	switch {
	case err == nil:
		if bindErr := uc.transactions.BindExternalReference(ctx, rec.ID, result.GatewayOrderNo); bindErr != nil {
			uc.logger.Error("[Order] failed to bind gateway order no",
				zap.String("transaction_id", rec.ID), zap.Error(bindErr))
		} else {
			rec.ExternalReference = &result.GatewayOrderNo
		}
		switch result.Status {
		case gateway.PayoutSucceeded:
			return uc.confirmBuyPaid(ctx, order, rec)
		case gateway.PayoutRejected:
			return uc.compensateOrder(ctx, order, rec, "payout rejected by gateway")
		default:
			uc.logger.Info("[Order] payout dispatched, awaiting confirmation",
				zap.String("order_id", order.ID),
				zap.String("transaction_id", rec.ID))
			return nil
		}

	case errors.Is(err, xerrors.ErrGatewayTimeout):
		uc.logger.Warn("[Order] payout outcome unknown after timeout",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", rec.ID))
		return nil

	case errors.Is(err, xerrors.ErrGatewayUnavailable):
		return uc.compensateOrder(ctx, order, rec, "payment gateway unavailable")

	default:
		return uc.compensateOrder(ctx, order, rec, err.Error())
	}
}

// confirmBuyPaid completes the buy payment after a successful payout:
// mark the exchange order paid and close the transaction. A mark-paid
// failure here is not compensated, the counterparty already has the
// money; the transaction stays PROCESSING and reconciliation retries
// the notification.
func (uc *OrderUsecase) confirmBuyPaid(ctx context.Context, order *domain.Order, rec *domain.TransactionRecord) error {
	if err := uc.exchange.MarkPaid(ctx, order.ID, rec.ID); err != nil {
		uc.logger.Error("[Order] payout succeeded but mark-paid failed",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", rec.ID),
			zap.Error(err))
		return xerrors.ErrReconciliationRequired
	}

	if err := uc.transactions.UpdateStatus(ctx, nil, rec.ID, domain.StatusCompleted, nil); err != nil {
		return err
	}
	rec.Status = domain.StatusCompleted
	if err := uc.orders.UpdateStatus(ctx, nil, order.ID, domain.OrderPaid); err != nil {
		return err
	}
	order.Status = domain.OrderPaid

	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusCompleted)
	_ = uc.publisher.PublishTransactionCompleted(ctx, rec)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    order.UserID,
		EventType: "order.paid",
		Title:     "Order payment sent",
		Body:      fmt.Sprintf("Payment of %s %s for order %s has been sent. Awaiting asset release.", order.Amount, order.CurrencyID, order.ID),
	})

	uc.logger.Info("[Order] buy payment confirmed",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", rec.ID))
	return nil
}

// compensateOrder refunds the buy-side debit in full (principal plus
// fee) and fails the transaction. The order itself stays open; the
// user may retry or cancel on the exchange. Returns
// ErrOrderProcessingFailed so callers see the payment terminally
// failed rather than a normal advance.
func (uc *OrderUsecase) compensateOrder(ctx context.Context, order *domain.Order, rec *domain.TransactionRecord, reason string) error {
	refund := &domain.WalletMutation{
		UserID:        rec.UserID,
		Currency:      rec.Currency,
		Kind:          domain.MutationCredit,
		Amount:        rec.TotalDebit(),
		Description:   fmt.Sprintf("Refund order %s", order.ID),
		TransactionID: &rec.ID,
		Entries:       refundJournal(rec.UserID, rec.Amount, rec.Fee, rec.Currency),
	}

	if _, err := uc.wallets.Mutate(ctx, refund, &repository.StatusUpdate{
		TransactionID: rec.ID,
		To:            domain.StatusFailed,
		FailureReason: &reason,
	}); err != nil {
		uc.logger.Error("[Order] compensation failed",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", rec.ID),
			zap.Error(err))
		return err
	}
	rec.Status = domain.StatusFailed
	rec.FailureReason = &reason

	uc.tracker.SetStatus(ctx, rec.ID, domain.StatusFailed)
	_ = uc.publisher.PublishTransactionFailed(ctx, rec, reason)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    order.UserID,
		EventType: "order.payment_failed",
		Title:     "Order payment failed",
		Body:      fmt.Sprintf("Payment for order %s could not be completed. %s %s has been returned to your wallet.", order.ID, rec.TotalDebit(), rec.Currency),
	})

	uc.logger.Warn("[Order] buy payment compensated",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", rec.ID),
		zap.String("refunded", rec.TotalDebit().String()),
		zap.String("reason", reason))
	return fmt.Errorf("%w: %s", xerrors.ErrOrderProcessingFailed, reason)
}

// ResolveOrderTransaction finishes a parked buy payment from a queried
// payout status. Called on the next poll cycle and by reconciliation.
// A missing gateway order number does not prove non-dispatch; an
// initiation timeout may still have gone through, so the gateway is
// queried by merchant request id and the debit is only refunded on a
// confirmed rejection or a confirmed never-received answer.
func (uc *OrderUsecase) ResolveOrderTransaction(ctx context.Context, order *domain.Order, rec *domain.TransactionRecord) error {
	if rec.Status.IsTerminal() {
		return nil
	}

	ref := ""
	if rec.ExternalReference != nil {
		ref = *rec.ExternalReference
	}
	status, err := uc.payout.QueryStatus(ctx, rec.ID, ref)
	if err != nil {
		if ref == "" && errors.Is(err, xerrors.ErrGatewayRejected) {
			// Provider has no record of the request id: the payout
			// never left the platform.
			return uc.compensateOrder(ctx, order, rec, "payout was never received by gateway")
		}
		return err
	}
	switch status {
	case gateway.PayoutSucceeded:
		return uc.confirmBuyPaid(ctx, order, rec)
	case gateway.PayoutRejected:
		return uc.compensateOrder(ctx, order, rec, "payout rejected by gateway")
	default:
		return nil
	}
}

// ===============================
// Sell side
// ===============================

func (uc *OrderUsecase) advanceSell(ctx context.Context, order *domain.Order, detail *domain.OrderDetail) error {
	switch order.Status {
	case domain.OrderPaid:
		return uc.settleSellRelease(ctx, order, detail)
	case domain.OrderCompleted:
		return uc.finishOrder(ctx, order)
	default:
		return nil
	}
}

// settleSellRelease releases escrowed assets once the buyer's payment
// is found in the deposit history: exact amount, received after the
// order was created, payer name containing the counterparty name.
func (uc *OrderUsecase) settleSellRelease(ctx context.Context, order *domain.Order, detail *domain.OrderDetail) error {
	if order.TransactionID == nil {
		deposits, err := uc.transactions.ListCompletedDeposits(ctx, order.UserID, order.Amount, order.CurrencyID, order.CreatedAt)
		if err != nil {
			return err
		}

		matched := matchDeposit(deposits, detail.CounterpartyName)
		if matched == nil {
			uc.logger.Info("[Order] no matching deposit yet",
				zap.String("order_id", order.ID),
				zap.String("amount", order.Amount.String()),
				zap.String("counterparty", detail.CounterpartyName))
			return nil
		}

		// Binding consumes the deposit; other orders stop seeing it.
		if err := uc.orders.BindTransaction(ctx, nil, order.ID, matched.ID); err != nil {
			return err
		}
		order.TransactionID = &matched.ID
	}

	if err := uc.exchange.ReleaseAssets(ctx, order.ID); err != nil {
		uc.logger.Warn("[Order] asset release failed, retrying next cycle",
			zap.String("order_id", order.ID), zap.Error(err))
		return err
	}

	if err := uc.orders.UpdateStatus(ctx, nil, order.ID, domain.OrderCompleted); err != nil {
		return err
	}
	order.Status = domain.OrderCompleted
	return uc.finishOrder(ctx, order)
}

// matchDeposit picks the earliest deposit whose payer name contains the
// counterparty name, case-insensitively. An empty counterparty name
// never matches.
func matchDeposit(deposits []*domain.TransactionRecord, counterpartyName string) *domain.TransactionRecord {
	name := strings.ToLower(strings.TrimSpace(counterpartyName))
	if name == "" {
		return nil
	}
	var matched *domain.TransactionRecord
	for _, d := range deposits {
		if strings.Contains(strings.ToLower(d.PaymentDetails), name) {
			if matched == nil || d.CreatedAt.Before(matched.CreatedAt) {
				matched = d
			}
		}
	}
	return matched
}

// ===============================
// Shared
// ===============================

func (uc *OrderUsecase) finishOrder(ctx context.Context, order *domain.Order) error {
	_ = uc.publisher.PublishOrderSettled(ctx, order)
	uc.publisher.Notify(ctx, &domain.Notification{
		UserID:    order.UserID,
		EventType: "order.settled",
		Title:     "Order settled",
		Body:      fmt.Sprintf("Order %s has been settled.", order.ID),
	})
	uc.logger.Info("[Order] settled",
		zap.String("order_id", order.ID),
		zap.String("side", string(order.Side)))
	return nil
}

// handleCancelled unwinds a cancelled order. A buy debit whose payout
// the gateway confirms it never received or rejected is refunded;
// anything already paid out is left to reconciliation.
func (uc *OrderUsecase) handleCancelled(ctx context.Context, order *domain.Order) error {
	if order.Side != domain.OrderSideBuy || order.TransactionID == nil {
		return nil
	}
	rec, err := uc.transactions.GetByID(ctx, *order.TransactionID)
	if err != nil {
		return err
	}
	if rec.Status != domain.StatusProcessing {
		return nil
	}
	return uc.ResolveOrderTransaction(ctx, order, rec)
}
