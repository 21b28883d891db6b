package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/config"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	hrest "github.com/Barsmiko1/papaymoni-middleware-sub000/internal/handler/rest"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/locks"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/pub"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/service"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/usecase"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/utils"
)

// Run wires the whole settlement service and blocks until shutdown.
func Run(cfg config.AppConfig) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// --- DB connection ---
	dbpool, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbpool.Close()

	ids := utils.NewReferenceGenerator()

	// --- Redis client ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})
	defer rdb.Close()

	// --- Kafka writer ---
	kafkaWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	defer kafkaWriter.Close()

	// --- External gateways behind circuit breakers ---
	breakers := gateway.NewBreakerSet(gateway.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	})
	exchangeAPI := gateway.NewExchangeAPI(cfg.ExchangeBaseURL, cfg.ExchangeAPIKey, cfg.ExchangeAPISecret)
	bankAPI := gateway.NewBankAPI(cfg.BankBaseURL, cfg.BankAPIKey)

	exchange := gateway.NewResilientExchange(exchangeAPI, breakers, cfg.GatewayCallTimeout)
	payout := gateway.NewResilientPayout(bankAPI, breakers, cfg.GatewayCallTimeout)
	kyc := gateway.NewResilientKYC(bankAPI, breakers, cfg.GatewayCallTimeout)

	// --- Repositories ---
	walletRepo := repository.NewWalletRepo(dbpool)
	ledgerRepo := repository.NewLedgerRepo(dbpool)
	transactionRepo := repository.NewTransactionRepo(dbpool)
	orderRepo := repository.NewOrderRepo(dbpool)
	accountRepo := repository.NewAccountRepo(dbpool)
	settlementRepo := repository.NewSettlementRepo(dbpool, walletRepo, ledgerRepo, transactionRepo)

	// --- Infrastructure ---
	arena := locks.NewArena()
	publisher := pub.NewSettlementPublisher(kafkaWriter, rdb, logger)
	tracker := usecase.NewStatusTracker(rdb)

	// --- Usecases ---
	walletUC := usecase.NewWalletUsecase(settlementRepo, walletRepo, arena, logger)
	depositUC := usecase.NewDepositUsecase(walletUC, transactionRepo, settlementRepo, tracker, publisher, ids, cfg.MinDeposit, logger)
	withdrawalUC := usecase.NewWithdrawalUsecase(walletUC, transactionRepo, payout, kyc, tracker, publisher, ids, cfg.WithdrawalFee, logger)
	transferUC := usecase.NewTransferUsecase(walletUC, settlementRepo, transactionRepo, tracker, publisher, ids, logger)
	orderUC := usecase.NewOrderUsecase(orderRepo, walletUC, transactionRepo, exchange, payout, tracker, publisher, ids, cfg.WithdrawalFee, logger)
	reconUC := usecase.NewReconciliationUsecase(transactionRepo, orderRepo, walletRepo, ledgerRepo, withdrawalUC, orderUC, payout, publisher, logger)
	accountUC := usecase.NewAccountUsecase(accountRepo, walletRepo, bankAPI, arena, logger)

	// --- Background loops ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := service.NewScheduler(orderRepo, orderUC, reconUC,
		cfg.OrderPollInterval, cfg.ReconcileInterval, cfg.OrderWorkers, logger)
	scheduler.Start(ctx)

	// --- HTTP server ---
	restHandler := hrest.NewSettlementRestHandler(walletUC, depositUC, withdrawalUC, transferUC, accountUC)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	restHandler.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("[Server] settlement HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("[Server] HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("[Server] shutting down")
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("[Server] stopped")
}
