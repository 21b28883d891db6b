package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// StatusUpdate moves a transaction record inside the same database
// transaction as the wallet mutation it settles.
type StatusUpdate struct {
	TransactionID string
	To            domain.TransactionStatus
	FailureReason *string
}

// SettlementRepository performs the atomic settlement unit: wallet
// balance mutation, general ledger journal append and transaction
// status change commit or roll back together. Balances are locked
// with SELECT FOR UPDATE in deterministic key order; serializable
// isolation is kept as a second line of defence.
type SettlementRepository interface {
	// ApplyMutation settles one wallet mutation. When status is non-nil
	// the transaction record moves in the same database transaction.
	ApplyMutation(ctx context.Context, m *domain.WalletMutation, status *StatusUpdate) (*domain.WalletBalance, error)

	// ApplyMutations settles several mutations as one unit, locking the
	// touched wallets in sorted key order to avoid lock cycles. Used by
	// internal transfers and order settlement.
	ApplyMutations(ctx context.Context, ms []*domain.WalletMutation, status *StatusUpdate) error

	// RecordAndApply inserts a new transaction record and settles its
	// mutation in one unit. A duplicate external reference aborts the
	// whole unit with ErrDuplicateExternalReference.
	RecordAndApply(ctx context.Context, rec *domain.TransactionRecord, m *domain.WalletMutation, final domain.TransactionStatus) (*domain.WalletBalance, error)

	// RecordOnly inserts a transaction record with no balance effect,
	// e.g. a below-minimum deposit kept for audit.
	RecordOnly(ctx context.Context, rec *domain.TransactionRecord) error
}

type settlementRepo struct {
	db           *pgxpool.Pool
	wallets      WalletRepository
	ledger       LedgerRepository
	transactions TransactionRepository
}

func NewSettlementRepo(db *pgxpool.Pool, wallets WalletRepository, ledger LedgerRepository, transactions TransactionRepository) SettlementRepository {
	return &settlementRepo{db: db, wallets: wallets, ledger: ledger, transactions: transactions}
}

func (r *settlementRepo) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func (r *settlementRepo) ApplyMutation(ctx context.Context, m *domain.WalletMutation, status *StatusUpdate) (*domain.WalletBalance, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updated, err := r.applyOne(ctx, tx, m)
	if err != nil {
		return nil, err
	}
	if err := r.applyStatus(ctx, tx, status); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return updated, nil
}

func (r *settlementRepo) ApplyMutations(ctx context.Context, ms []*domain.WalletMutation, status *StatusUpdate) error {
	if len(ms) == 0 {
		return xerrors.ErrInvalidInput
	}
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	// Deterministic lock order across all touched wallets.
	ordered := make([]*domain.WalletMutation, len(ms))
	copy(ordered, ms)
	sort.SliceStable(ordered, func(i, j int) bool {
		return walletKey(ordered[i]) < walletKey(ordered[j])
	})

	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range ordered {
		if _, err := r.applyOne(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := r.applyStatus(ctx, tx, status); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

func (r *settlementRepo) RecordAndApply(ctx context.Context, rec *domain.TransactionRecord, m *domain.WalletMutation, final domain.TransactionStatus) (*domain.WalletBalance, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := r.transactions.Create(ctx, tx, rec); err != nil {
		return nil, err
	}

	updated, err := r.applyOne(ctx, tx, m)
	if err != nil {
		return nil, err
	}

	if final != rec.Status {
		if err := r.transactions.UpdateStatus(ctx, tx, rec.ID, final, nil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return updated, nil
}

func (r *settlementRepo) RecordOnly(ctx context.Context, rec *domain.TransactionRecord) error {
	return r.transactions.Create(ctx, nil, rec)
}

// applyOne locks the wallet row, computes the new balance, persists it
// and appends the GL journal. The wallet is created lazily under a
// creation lock when the mutation targets a wallet that does not exist
// yet, which only makes sense for credits.
func (r *settlementRepo) applyOne(ctx context.Context, tx pgx.Tx, m *domain.WalletMutation) (*domain.WalletBalance, error) {
	balance, err := r.wallets.GetWithLock(ctx, tx, m.UserID, m.Currency)
	if errors.Is(err, xerrors.ErrWalletNotFound) {
		if m.Kind != domain.MutationCredit {
			return nil, xerrors.ErrWalletNotFound
		}
		if err := acquireCreationLock(ctx, tx, m.UserID, m.Currency); err != nil {
			return nil, err
		}
		if err := r.wallets.EnsureExists(ctx, tx, m.UserID, m.Currency); err != nil {
			return nil, err
		}
		balance, err = r.wallets.GetWithLock(ctx, tx, m.UserID, m.Currency)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	next, err := balance.Apply(m.Kind, m.Amount)
	if err != nil {
		return nil, err
	}
	if err := r.wallets.UpdateBalance(ctx, tx, &next); err != nil {
		return nil, err
	}
	txID := ""
	if m.TransactionID != nil {
		txID = *m.TransactionID
	}
	if err := r.ledger.AppendJournal(ctx, tx, txID, m.Entries); err != nil {
		return nil, err
	}
	return &next, nil
}

func (r *settlementRepo) applyStatus(ctx context.Context, tx pgx.Tx, status *StatusUpdate) error {
	if status == nil {
		return nil
	}
	return r.transactions.UpdateStatus(ctx, tx, status.TransactionID, status.To, status.FailureReason)
}

func walletKey(m *domain.WalletMutation) string {
	return m.UserID + ":" + m.Currency
}
