package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/usecase"
)

// Scheduler owns the two background loops: the order poller that
// advances open exchange orders every cycle, and the reconciler that
// resolves in-flight money and checks ledger drift.
type Scheduler struct {
	orders  repository.OrderRepository
	orderUC *usecase.OrderUsecase
	reconUC *usecase.ReconciliationUsecase

	pollInterval      time.Duration
	reconcileInterval time.Duration
	workers           int

	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(
	orders repository.OrderRepository,
	orderUC *usecase.OrderUsecase,
	reconUC *usecase.ReconciliationUsecase,
	pollInterval, reconcileInterval time.Duration,
	workers int,
	logger *zap.Logger,
) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		orders:            orders,
		orderUC:           orderUC,
		reconUC:           reconUC,
		pollInterval:      pollInterval,
		reconcileInterval: reconcileInterval,
		workers:           workers,
		logger:            logger,
		stopChan:          make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.runOrderPoller(ctx)
	go s.runReconciler(ctx)
	s.logger.Info("[Scheduler] started",
		zap.Duration("poll_interval", s.pollInterval),
		zap.Duration("reconcile_interval", s.reconcileInterval),
		zap.Int("workers", s.workers))
}

// Stop signals both loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("[Scheduler] stopped")
}

func (s *Scheduler) runOrderPoller(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollOrders(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollOrders fans open orders out over a bounded worker group. Claims
// keep concurrent pollers (or a second instance) off the same order.
func (s *Scheduler) pollOrders(ctx context.Context) {
	open, err := s.orders.ListOpen(ctx, 0)
	if err != nil {
		s.logger.Error("[Scheduler] failed to list open orders", zap.Error(err))
		return
	}
	if len(open) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, order := range open {
		id := order.ID
		g.Go(func() error {
			if err := s.orderUC.ProcessOrder(gctx, id); err != nil {
				s.logger.Warn("[Scheduler] order step failed",
					zap.String("order_id", id), zap.Error(err))
			}
			// Errors never cancel the group; every order gets its turn.
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("[Scheduler] order poll cycle done", zap.Int("orders", len(open)))
}

func (s *Scheduler) runReconciler(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconUC.Run(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
