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

type WalletRepository interface {
	// Read paths
	GetByUserCurrency(ctx context.Context, userID, currency string) (*domain.WalletBalance, error)
	ListAll(ctx context.Context) ([]*domain.WalletBalance, error)

	// GetOrCreate lazily initialises the (user, currency) row with zero
	// balances. Safe under concurrent callers: creation happens under a
	// per-key advisory lock and the second caller returns the existing row.
	GetOrCreate(ctx context.Context, userID, currency string) (*domain.WalletBalance, error)

	// In-transaction paths used by the settlement repository
	GetWithLock(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.WalletBalance, error)
	EnsureExists(ctx context.Context, tx pgx.Tx, userID, currency string) error
	UpdateBalance(ctx context.Context, tx pgx.Tx, b *domain.WalletBalance) error
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `id, user_id, currency, available_balance, frozen_balance, total_balance, updated_at`

func scanWallet(row pgx.Row) (*domain.WalletBalance, error) {
	var b domain.WalletBalance
	err := row.Scan(&b.ID, &b.UserID, &b.Currency, &b.Available, &b.Frozen, &b.Total, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to scan wallet balance: %w", err)
	}
	return &b, nil
}

func (r *walletRepo) GetByUserCurrency(ctx context.Context, userID, currency string) (*domain.WalletBalance, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallet_balances
		WHERE user_id=$1 AND currency=$2
	`, userID, currency)
	return scanWallet(row)
}

func (r *walletRepo) ListAll(ctx context.Context) ([]*domain.WalletBalance, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+walletColumns+`
		FROM wallet_balances
		ORDER BY user_id, currency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet balances: %w", err)
	}
	defer rows.Close()

	var balances []*domain.WalletBalance
	for rows.Next() {
		b, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *walletRepo) GetOrCreate(ctx context.Context, userID, currency string) (*domain.WalletBalance, error) {
	existing, err := r.GetByUserCurrency(ctx, userID, currency)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, xerrors.ErrWalletNotFound) {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Creation lock: both concurrent get-or-create callers serialise
	// here, the loser re-checks and returns the now-existing row.
	if err := acquireCreationLock(ctx, tx, userID, currency); err != nil {
		return nil, err
	}
	if err := r.EnsureExists(ctx, tx, userID, currency); err != nil {
		return nil, err
	}

	b, err := scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallet_balances
		WHERE user_id=$1 AND currency=$2
	`, userID, currency))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return b, nil
}

func (r *walletRepo) GetWithLock(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.WalletBalance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil for locked query")
	}
	row := tx.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallet_balances
		WHERE user_id=$1 AND currency=$2
		FOR UPDATE
	`, userID, currency)
	return scanWallet(row)
}

func (r *walletRepo) EnsureExists(ctx context.Context, tx pgx.Tx, userID, currency string) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_balances (user_id, currency, available_balance, frozen_balance, total_balance, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3)
		ON CONFLICT (user_id, currency) DO NOTHING
	`, userID, currency, time.Now())
	if err != nil {
		return fmt.Errorf("failed to ensure wallet exists: %w", err)
	}
	return nil
}

func (r *walletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, b *domain.WalletBalance) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	cmdTag, err := tx.Exec(ctx, `
		UPDATE wallet_balances
		SET available_balance=$1, frozen_balance=$2, total_balance=$3, updated_at=$4
		WHERE user_id=$5 AND currency=$6
	`, b.Available, b.Frozen, b.Total, b.UpdatedAt, b.UserID, b.Currency)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrWalletNotFound
	}
	return nil
}

// acquireCreationLock takes a transaction-scoped advisory lock on the
// (user, currency) key; released automatically at commit/rollback.
func acquireCreationLock(ctx context.Context, tx pgx.Tx, userID, currency string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID+":"+currency)
	if err != nil {
		return fmt.Errorf("failed to acquire creation lock: %w", err)
	}
	return nil
}
