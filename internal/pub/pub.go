package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
)

const (
	NotificationsChannel = "settlement_notifications"
)

// SettlementPublisher fans settlement outcomes out to the event stream
// (Kafka) and user notifications (Redis pub/sub). Both sinks are
// best-effort: a publish failure is logged, never surfaced to the
// settlement path that triggered it.
type SettlementPublisher struct {
	writer *kafka.Writer
	rdb    *redis.Client
	logger *zap.Logger
}

func NewSettlementPublisher(writer *kafka.Writer, rdb *redis.Client, logger *zap.Logger) *SettlementPublisher {
	return &SettlementPublisher{writer: writer, rdb: rdb, logger: logger}
}

func (p *SettlementPublisher) PublishEvent(ctx context.Context, event *domain.SettlementEvent) error {
	if p.writer == nil {
		return nil
	}
	event.EventID = uuid.NewString()
	event.Timestamp = time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.TransactionID
	if key == "" {
		key = event.OrderID
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		p.logger.Warn("[SettlementEvent] publish failed",
			zap.String("event_type", event.EventType),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("[SettlementEvent] published",
		zap.String("event_type", event.EventType),
		zap.String("key", key))
	return nil
}

func (p *SettlementPublisher) PublishTransactionCompleted(ctx context.Context, rec *domain.TransactionRecord) error {
	return p.PublishEvent(ctx, &domain.SettlementEvent{
		EventType:     "transaction.completed",
		UserID:        rec.UserID,
		TransactionID: rec.ID,
		Type:          string(rec.Type),
		Status:        string(domain.StatusCompleted),
		Amount:        rec.Amount,
		Currency:      rec.Currency,
	})
}

func (p *SettlementPublisher) PublishTransactionFailed(ctx context.Context, rec *domain.TransactionRecord, reason string) error {
	return p.PublishEvent(ctx, &domain.SettlementEvent{
		EventType:     "transaction.failed",
		UserID:        rec.UserID,
		TransactionID: rec.ID,
		Type:          string(rec.Type),
		Status:        string(domain.StatusFailed),
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		ErrorMessage:  reason,
	})
}

func (p *SettlementPublisher) PublishOrderSettled(ctx context.Context, order *domain.Order) error {
	return p.PublishEvent(ctx, &domain.SettlementEvent{
		EventType: "order.settled",
		UserID:    order.UserID,
		OrderID:   order.ID,
		Status:    string(order.Status),
		Amount:    order.Amount,
		Currency:  order.CurrencyID,
	})
}

func (p *SettlementPublisher) PublishLedgerDrift(ctx context.Context, userID, currency string, walletTotal, ledgerTotal decimal.Decimal) error {
	return p.PublishEvent(ctx, &domain.SettlementEvent{
		EventType:    "ledger.drift",
		UserID:       userID,
		Currency:     currency,
		Amount:       walletTotal.Sub(ledgerTotal),
		ErrorMessage: fmt.Sprintf("wallet total %s diverges from ledger total %s", walletTotal, ledgerTotal),
	})
}

// Notify queues a user-facing message on the notification channel.
// Delivery is another service's concern.
func (p *SettlementPublisher) Notify(ctx context.Context, n *domain.Notification) {
	if p.rdb == nil {
		return
	}
	n.Timestamp = time.Now()

	payload, err := json.Marshal(n)
	if err != nil {
		p.logger.Warn("[Notification] marshal failed", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, NotificationsChannel, payload).Err(); err != nil {
		p.logger.Warn("[Notification] publish failed",
			zap.String("user_id", n.UserID),
			zap.String("event_type", n.EventType),
			zap.Error(err))
		return
	}
	p.logger.Info("[Notification] published",
		zap.String("user_id", n.UserID),
		zap.String("event_type", n.EventType))
}
