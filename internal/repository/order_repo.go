package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

type OrderRepository interface {
	Upsert(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Order, error)
	ListOpen(ctx context.Context, limit int) ([]*domain.Order, error)

	// Claim marks the order as owned by the calling worker. At most one
	// caller wins; losers get ErrOrderAlreadyClaimed. The claim must be
	// released with ReleaseClaim unless the order reached a terminal
	// status in the meantime.
	Claim(ctx context.Context, id string) error
	ReleaseClaim(ctx context.Context, id string) error

	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status domain.OrderStatus) error
	BindTransaction(ctx context.Context, tx pgx.Tx, id, transactionID string) error
}

type orderRepo struct {
	db *pgxpool.Pool
}

func NewOrderRepo(db *pgxpool.Pool) OrderRepository {
	return &orderRepo{db: db}
}

const orderColumns = `id, user_id, side, status, amount, price, quantity, currency_id, target_user_id, counterparty_name, transaction_id, processing, created_at, completed_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Side, &o.Status, &o.Amount, &o.Price, &o.Quantity,
		&o.CurrencyID, &o.TargetUserID, &o.CounterpartyName, &o.TransactionID, &o.Processing,
		&o.CreatedAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}

func (r *orderRepo) Upsert(ctx context.Context, o *domain.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders
			(id, user_id, side, status, amount, price, quantity, currency_id, target_user_id, counterparty_name, transaction_id, processing, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			amount=EXCLUDED.amount,
			price=EXCLUDED.price,
			quantity=EXCLUDED.quantity,
			counterparty_name=EXCLUDED.counterparty_name,
			completed_at=COALESCE(orders.completed_at, EXCLUDED.completed_at)
	`, o.ID, o.UserID, o.Side, o.Status, o.Amount, o.Price, o.Quantity, o.CurrencyID,
		o.TargetUserID, o.CounterpartyName, o.TransactionID, o.CreatedAt, o.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (r *orderRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id=$1`, transactionID)
	return scanOrder(row)
}

func (r *orderRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *orderRepo) Claim(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET processing=true
		WHERE id=$1 AND processing=false AND status NOT IN ('COMPLETED', 'CANCELLED')
	`, id)
	if err != nil {
		return fmt.Errorf("failed to claim order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrOrderAlreadyClaimed
	}
	return nil
}

func (r *orderRepo) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE orders SET processing=false WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to release order claim: %w", err)
	}
	return nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status domain.OrderStatus) error {
	query := `
		UPDATE orders
		SET status=$1, completed_at=CASE WHEN $1 IN ('COMPLETED', 'CANCELLED') THEN NOW() ELSE completed_at END
		WHERE id=$2
	`
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, status, id)
	} else {
		_, err = r.db.Exec(ctx, query, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

func (r *orderRepo) BindTransaction(ctx context.Context, tx pgx.Tx, id, transactionID string) error {
	query := `UPDATE orders SET transaction_id=$1 WHERE id=$2`
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, transactionID, id)
	} else {
		_, err = r.db.Exec(ctx, query, transactionID, id)
	}
	if err != nil {
		return fmt.Errorf("failed to bind order transaction: %w", err)
	}
	return nil
}
