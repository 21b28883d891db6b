package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
)

type LedgerRepository interface {
	// AppendJournal validates and persists a balanced set of entries
	// inside the caller's transaction, stamped with the transaction
	// record they belong to.
	AppendJournal(ctx context.Context, tx pgx.Tx, transactionID string, entries []*domain.GLEntryRequest) error

	// BalanceOf returns sum(CREDIT) - sum(DEBIT) over the user's GL
	// account for one currency. Used by reconciliation to cross-check
	// wallet totals.
	BalanceOf(ctx context.Context, userID, currency string) (decimal.Decimal, error)

	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.GLEntry, error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) AppendJournal(ctx context.Context, tx pgx.Tx, transactionID string, entries []*domain.GLEntryRequest) error {
	if tx == nil {
		return errors.New("transaction cannot be nil for journal append")
	}
	if err := domain.ValidateJournal(entries); err != nil {
		return err
	}

	// Standalone holds carry no transaction record; store NULL, not "".
	var txID *string
	if transactionID != "" {
		txID = &transactionID
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO gl_entries
				(user_id, entry_type, account_type, amount, currency, description, transaction_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`, e.UserID, e.EntryType, e.AccountType, e.Amount, e.Currency, e.Description, txID)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to append journal entry: %w", err)
		}
	}
	return nil
}

func (r *ledgerRepo) BalanceOf(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type='CREDIT' THEN amount ELSE -amount END), 0)
		FROM gl_entries
		WHERE account_type='USER' AND user_id=$1 AND currency=$2
	`, userID, currency).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute ledger balance: %w", err)
	}
	return balance, nil
}

func (r *ledgerRepo) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.GLEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, entry_type, account_type, amount, currency, description, transaction_id, created_at
		FROM gl_entries
		WHERE transaction_id=$1
		ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.GLEntry
	for rows.Next() {
		var e domain.GLEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryType, &e.AccountType,
			&e.Amount, &e.Currency, &e.Description, &e.TransactionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
