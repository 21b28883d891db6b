package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
)

const (
	statusKeyPrefix    = "settlement:tx:status:"
	referenceKeyPrefix = "settlement:tx:ref:"
	trackerTTL         = 24 * time.Hour
)

// StatusTracker caches transaction status and seen external references
// in Redis. It is a fast path only: the database unique index on
// external_reference stays authoritative, so a cold or flushed cache
// degrades to the slow path, never to double processing.
type StatusTracker struct {
	rdb *redis.Client
}

func NewStatusTracker(rdb *redis.Client) *StatusTracker {
	return &StatusTracker{rdb: rdb}
}

// MarkReferenceSeen records that externalRef settled into transactionID.
func (t *StatusTracker) MarkReferenceSeen(ctx context.Context, externalRef, transactionID string) {
	if t.rdb == nil || externalRef == "" {
		return
	}
	t.rdb.Set(ctx, referenceKeyPrefix+externalRef, transactionID, trackerTTL)
}

// ReferenceSeen returns the transaction id previously recorded for
// externalRef, or false on a cache miss. A miss is not proof of
// absence; callers must still rely on the unique index.
func (t *StatusTracker) ReferenceSeen(ctx context.Context, externalRef string) (string, bool) {
	if t.rdb == nil || externalRef == "" {
		return "", false
	}
	id, err := t.rdb.Get(ctx, referenceKeyPrefix+externalRef).Result()
	if err != nil {
		return "", false
	}
	return id, true
}

// SetStatus mirrors the stored transaction status for cheap polling.
func (t *StatusTracker) SetStatus(ctx context.Context, transactionID string, status domain.TransactionStatus) {
	if t.rdb == nil {
		return
	}
	t.rdb.Set(ctx, statusKeyPrefix+transactionID, string(status), trackerTTL)
}

func (t *StatusTracker) GetStatus(ctx context.Context, transactionID string) (domain.TransactionStatus, error) {
	if t.rdb == nil {
		return "", errors.New("status tracker is not configured")
	}
	val, err := t.rdb.Get(ctx, statusKeyPrefix+transactionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("status not cached for transaction %s", transactionID)
		}
		return "", fmt.Errorf("failed to read cached status: %w", err)
	}
	return domain.TransactionStatus(val), nil
}
