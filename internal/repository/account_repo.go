package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// VirtualAccount is a provider-side deposit account bound to one
// (user, currency) pair. Bank transfers into it become deposit events.
type VirtualAccount struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Currency      string    `json:"currency"`
	AccountNumber string    `json:"account_number"`
	CreatedAt     time.Time `json:"created_at"`
}

type AccountRepository interface {
	Get(ctx context.Context, userID, currency string) (*VirtualAccount, error)

	// Create persists a provisioned account. The unique index on
	// (user_id, currency) makes double provisioning impossible; the
	// loser of a race gets the winner's row back.
	Create(ctx context.Context, a *VirtualAccount) (*VirtualAccount, error)
}

type accountRepo struct {
	db *pgxpool.Pool
}

func NewAccountRepo(db *pgxpool.Pool) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) Get(ctx context.Context, userID, currency string) (*VirtualAccount, error) {
	var a VirtualAccount
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, currency, account_number, created_at
		FROM virtual_accounts
		WHERE user_id=$1 AND currency=$2
	`, userID, currency).Scan(&a.ID, &a.UserID, &a.Currency, &a.AccountNumber, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get virtual account: %w", err)
	}
	return &a, nil
}

func (r *accountRepo) Create(ctx context.Context, a *VirtualAccount) (*VirtualAccount, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO virtual_accounts (user_id, currency, account_number, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, currency) DO NOTHING
		RETURNING id, created_at
	`, a.UserID, a.Currency, a.AccountNumber).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race; return the existing row.
			return r.Get(ctx, a.UserID, a.Currency)
		}
		return nil, fmt.Errorf("failed to create virtual account: %w", err)
	}
	return a, nil
}
