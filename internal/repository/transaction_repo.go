package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, rec *domain.TransactionRecord) error
	GetByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
	GetByExternalReference(ctx context.Context, ref string) (*domain.TransactionRecord, error)
	ExistsByExternalReference(ctx context.Context, ref string) (bool, error)

	// UpdateStatus moves the record forward through the status machine.
	// Illegal moves return ErrInvalidTransition; the guard is re-checked
	// against the stored row under lock, not against stale reads.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next domain.TransactionStatus, failureReason *string) error

	// BindExternalReference stamps the provider-side reference on an
	// existing record. A reference already bound to another record
	// returns ErrDuplicateExternalReference.
	BindExternalReference(ctx context.Context, id, ref string) error

	ListByTypeAndStatus(ctx context.Context, typ domain.TransactionType, status domain.TransactionStatus, limit int) ([]*domain.TransactionRecord, error)

	// ListCompletedDeposits returns settled deposits for one user at an
	// exact amount for sell-order payment matching. Deposits already
	// bound to an order are excluded so one payment never settles two
	// orders.
	ListCompletedDeposits(ctx context.Context, userID string, amount decimal.Decimal, currency string, since time.Time) ([]*domain.TransactionRecord, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `id, user_id, type, amount, fee, currency, status, external_reference, payment_method, payment_details, failure_reason, created_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.TransactionRecord, error) {
	var t domain.TransactionRecord
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Fee, &t.Currency, &t.Status,
		&t.ExternalReference, &t.PaymentMethod, &t.PaymentDetails, &t.FailureReason,
		&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &t, nil
}

func (r *transactionRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.TransactionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO transactions
			(id, user_id, type, amount, fee, currency, status, external_reference, payment_method, payment_details, failure_reason, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	args := []any{rec.ID, rec.UserID, rec.Type, rec.Amount, rec.Fee, rec.Currency, rec.Status,
		rec.ExternalReference, rec.PaymentMethod, rec.PaymentDetails, rec.FailureReason,
		rec.CreatedAt, rec.CompletedAt}

	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.db.Exec(ctx, query, args...)
	}
	if err != nil {
		// Unique index on external_reference is the idempotency
		// backstop for redelivered webhooks.
		if xerrors.IsUniqueViolation(err) {
			return xerrors.ErrDuplicateExternalReference
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) GetByExternalReference(ctx context.Context, ref string) (*domain.TransactionRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_reference=$1`, ref)
	return scanTransaction(row)
}

func (r *transactionRepo) ExistsByExternalReference(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE external_reference=$1)`, ref).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check external reference: %w", err)
	}
	return exists, nil
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next domain.TransactionStatus, failureReason *string) error {
	var row pgx.Row
	lockQuery := `SELECT ` + transactionColumns + ` FROM transactions WHERE id=$1 FOR UPDATE`
	if tx != nil {
		row = tx.QueryRow(ctx, lockQuery, id)
	} else {
		row = r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id)
	}
	current, err := scanTransaction(row)
	if err != nil {
		return err
	}
	if current.Status == next {
		// Redelivery landing on the status we already hold is a no-op.
		return nil
	}
	if !current.Status.CanTransition(next) {
		return xerrors.ErrInvalidTransition
	}

	var completedAt *time.Time
	if next == domain.StatusCompleted || next == domain.StatusFailed {
		now := time.Now()
		completedAt = &now
	}

	updateQuery := `
		UPDATE transactions
		SET status=$1, failure_reason=COALESCE($2, failure_reason), completed_at=COALESCE($3, completed_at)
		WHERE id=$4 AND status=$5
	`
	var cmdTag pgconn.CommandTag
	if tx != nil {
		cmdTag, err = tx.Exec(ctx, updateQuery, next, failureReason, completedAt, id, current.Status)
	} else {
		cmdTag, err = r.db.Exec(ctx, updateQuery, next, failureReason, completedAt, id, current.Status)
	}
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

func (r *transactionRepo) BindExternalReference(ctx context.Context, id, ref string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE transactions SET external_reference=$1 WHERE id=$2`, ref, id)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return xerrors.ErrDuplicateExternalReference
		}
		return fmt.Errorf("failed to bind external reference: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrTransactionNotFound
	}
	return nil
}

func (r *transactionRepo) ListByTypeAndStatus(ctx context.Context, typ domain.TransactionType, status domain.TransactionStatus, limit int) ([]*domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type=$1 AND status=$2
		ORDER BY created_at
		LIMIT $3
	`, typ, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var records []*domain.TransactionRecord
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, rows.Err()
}

func (r *transactionRepo) ListCompletedDeposits(ctx context.Context, userID string, amount decimal.Decimal, currency string, since time.Time) ([]*domain.TransactionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id=$1 AND type=$2 AND status=$3 AND amount=$4 AND currency=$5 AND created_at >= $6
		  AND NOT EXISTS (SELECT 1 FROM orders WHERE orders.transaction_id = transactions.id)
		ORDER BY created_at
	`, userID, domain.TransactionTypeDeposit, domain.StatusCompleted, amount, currency, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits for matching: %w", err)
	}
	defer rows.Close()

	var records []*domain.TransactionRecord
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, rows.Err()
}
