package usecase

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/locks"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/utils"
)

// testEnv wires every usecase over the in-memory fakes. Gateways sit
// behind real resilient wrappers so the breaker path is exercised too.
type testEnv struct {
	store *memStore

	payoutGW *fakePayoutGateway
	kycGW    *fakeKYC
	exGW     *fakeExchange
	breakers *gateway.BreakerSet

	walletUC     *WalletUsecase
	depositUC    *DepositUsecase
	withdrawalUC *WithdrawalUsecase
	transferUC   *TransferUsecase
	orderUC      *OrderUsecase
	reconUC      *ReconciliationUsecase
}

func newTestEnv() *testEnv {
	store := newMemStore()
	settle := &fakeSettlement{store: store}
	txs := &fakeTransactions{store: store}
	orders := &fakeOrders{store: store}
	wallets := &fakeWallets{store: store}

	logger := zap.NewNop()
	arena := locks.NewArena()
	ids := utils.NewReferenceGenerator()
	tracker := NewStatusTracker(nil)
	publisher := pub.NewSettlementPublisher(nil, nil, logger)

	breakers := gateway.NewBreakerSet(gateway.BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     50 * time.Millisecond,
		SuccessThreshold: 2,
	})
	payoutGW := &fakePayoutGateway{}
	kycGW := &fakeKYC{matched: true}
	exGW := &fakeExchange{}
	payout := gateway.NewResilientPayout(payoutGW, breakers, time.Second)
	kyc := gateway.NewResilientKYC(kycGW, breakers, time.Second)
	exchange := gateway.NewResilientExchange(exGW, breakers, time.Second)

	minDeposit := decimal.RequireFromString("5.00")
	fee := decimal.RequireFromString("12")

	walletUC := NewWalletUsecase(settle, wallets, arena, logger)
	depositUC := NewDepositUsecase(walletUC, txs, settle, tracker, publisher, ids, minDeposit, logger)
	withdrawalUC := NewWithdrawalUsecase(walletUC, txs, payout, kyc, tracker, publisher, ids, fee, logger)
	transferUC := NewTransferUsecase(walletUC, settle, txs, tracker, publisher, ids, logger)
	orderUC := NewOrderUsecase(orders, walletUC, txs, exchange, payout, tracker, publisher, ids, fee, logger)
	ledger := &fakeLedger{store: store}
	reconUC := NewReconciliationUsecase(txs, orders, wallets, ledger, withdrawalUC, orderUC, payout, publisher, logger)

	return &testEnv{
		store:        store,
		payoutGW:     payoutGW,
		kycGW:        kycGW,
		exGW:         exGW,
		breakers:     breakers,
		walletUC:     walletUC,
		depositUC:    depositUC,
		withdrawalUC: withdrawalUC,
		transferUC:   transferUC,
		orderUC:      orderUC,
		reconUC:      reconUC,
	}
}
