package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/gateway"
	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/repository"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// memStore backs all the repository fakes with one in-memory dataset so
// the settlement fake can mutate balances, journals and records as one
// unit, the same contract the real composite repository provides.
type memStore struct {
	mu       sync.Mutex
	wallets  map[string]*domain.WalletBalance // key user:currency
	records  map[string]*domain.TransactionRecord
	byRef    map[string]string // external ref -> record id
	journals map[string][]*domain.GLEntryRequest
	orders   map[string]*domain.Order
}

func newMemStore() *memStore {
	return &memStore{
		wallets:  make(map[string]*domain.WalletBalance),
		records:  make(map[string]*domain.TransactionRecord),
		byRef:    make(map[string]string),
		journals: make(map[string][]*domain.GLEntryRequest),
		orders:   make(map[string]*domain.Order),
	}
}

func (s *memStore) seedWallet(userID, currency string, available, frozen decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[userID+":"+currency] = &domain.WalletBalance{
		UserID:    userID,
		Currency:  currency,
		Available: available,
		Frozen:    frozen,
		Total:     available.Add(frozen),
		UpdatedAt: time.Now(),
	}
}

func (s *memStore) balance(userID, currency string) domain.WalletBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.wallets[userID+":"+currency]
	if !ok {
		return domain.WalletBalance{UserID: userID, Currency: currency}
	}
	return *b
}

func (s *memStore) record(id string) *domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		cp := *r
		return &cp
	}
	return nil
}

func (s *memStore) insertRecordLocked(rec *domain.TransactionRecord) error {
	if rec.ExternalReference != nil {
		if _, dup := s.byRef[*rec.ExternalReference]; dup {
			return xerrors.ErrDuplicateExternalReference
		}
		s.byRef[*rec.ExternalReference] = rec.ID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memStore) applyLocked(m *domain.WalletMutation) error {
	key := m.UserID + ":" + m.Currency
	b, ok := s.wallets[key]
	if !ok {
		if m.Kind != domain.MutationCredit {
			return xerrors.ErrWalletNotFound
		}
		b = &domain.WalletBalance{UserID: m.UserID, Currency: m.Currency}
		s.wallets[key] = b
	}
	next, err := b.Apply(m.Kind, m.Amount)
	if err != nil {
		return err
	}
	*b = next
	txID := ""
	if m.TransactionID != nil {
		txID = *m.TransactionID
	}
	s.journals[txID] = append(s.journals[txID], m.Entries...)
	return nil
}

func (s *memStore) updateStatusLocked(id string, next domain.TransactionStatus, reason *string) error {
	rec, ok := s.records[id]
	if !ok {
		return xerrors.ErrTransactionNotFound
	}
	if rec.Status == next {
		return nil
	}
	if !rec.Status.CanTransition(next) {
		return xerrors.ErrInvalidTransition
	}
	rec.Status = next
	if reason != nil {
		rec.FailureReason = reason
	}
	if next == domain.StatusCompleted || next == domain.StatusFailed {
		now := time.Now()
		rec.CompletedAt = &now
	}
	return nil
}

// ===============================
// SettlementRepository fake
// ===============================

type fakeSettlement struct{ store *memStore }

func (f *fakeSettlement) ApplyMutation(ctx context.Context, m *domain.WalletMutation, status *repository.StatusUpdate) (*domain.WalletBalance, error) {
	return f.applyAll(ctx, []*domain.WalletMutation{m}, status)
}

func (f *fakeSettlement) ApplyMutations(ctx context.Context, ms []*domain.WalletMutation, status *repository.StatusUpdate) error {
	_, err := f.applyAll(ctx, ms, status)
	return err
}

func (f *fakeSettlement) applyAll(_ context.Context, ms []*domain.WalletMutation, status *repository.StatusUpdate) (*domain.WalletBalance, error) {
	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// All-or-nothing: snapshot, restore on failure.
	snapshot := make(map[string]domain.WalletBalance, len(s.wallets))
	for k, v := range s.wallets {
		snapshot[k] = *v
	}
	restore := func() {
		for k := range s.wallets {
			if old, ok := snapshot[k]; ok {
				*s.wallets[k] = old
			} else {
				delete(s.wallets, k)
			}
		}
	}

	var last *domain.WalletBalance
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			restore()
			return nil, err
		}
		if err := s.applyLocked(m); err != nil {
			restore()
			return nil, err
		}
		b := *s.wallets[m.UserID+":"+m.Currency]
		last = &b
	}
	if status != nil {
		if err := s.updateStatusLocked(status.TransactionID, status.To, status.FailureReason); err != nil {
			restore()
			return nil, err
		}
	}
	return last, nil
}

func (f *fakeSettlement) RecordAndApply(ctx context.Context, rec *domain.TransactionRecord, m *domain.WalletMutation, final domain.TransactionStatus) (*domain.WalletBalance, error) {
	s := f.store
	s.mu.Lock()
	if err := s.insertRecordLocked(rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	balance, err := f.ApplyMutation(ctx, m, &repository.StatusUpdate{TransactionID: rec.ID, To: final})
	if err != nil {
		// Mirror the atomic unit: roll the record back too.
		s.mu.Lock()
		delete(s.records, rec.ID)
		if rec.ExternalReference != nil {
			delete(s.byRef, *rec.ExternalReference)
		}
		s.mu.Unlock()
		return nil, err
	}
	return balance, nil
}

func (f *fakeSettlement) RecordOnly(_ context.Context, rec *domain.TransactionRecord) error {
	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRecordLocked(rec)
}

// ===============================
// TransactionRepository fake
// ===============================

type fakeTransactions struct{ store *memStore }

func (f *fakeTransactions) Create(_ context.Context, _ pgx.Tx, rec *domain.TransactionRecord) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.insertRecordLocked(rec)
}

func (f *fakeTransactions) GetByID(_ context.Context, id string) (*domain.TransactionRecord, error) {
	if rec := f.store.record(id); rec != nil {
		return rec, nil
	}
	return nil, xerrors.ErrTransactionNotFound
}

func (f *fakeTransactions) GetByExternalReference(_ context.Context, ref string) (*domain.TransactionRecord, error) {
	f.store.mu.Lock()
	id, ok := f.store.byRef[ref]
	f.store.mu.Unlock()
	if !ok {
		return nil, xerrors.ErrTransactionNotFound
	}
	return f.store.record(id), nil
}

func (f *fakeTransactions) ExistsByExternalReference(_ context.Context, ref string) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	_, ok := f.store.byRef[ref]
	return ok, nil
}

func (f *fakeTransactions) UpdateStatus(_ context.Context, _ pgx.Tx, id string, next domain.TransactionStatus, reason *string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.updateStatusLocked(id, next, reason)
}

func (f *fakeTransactions) BindExternalReference(_ context.Context, id, ref string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, dup := f.store.byRef[ref]; dup {
		return xerrors.ErrDuplicateExternalReference
	}
	rec, ok := f.store.records[id]
	if !ok {
		return xerrors.ErrTransactionNotFound
	}
	rec.ExternalReference = &ref
	f.store.byRef[ref] = id
	return nil
}

func (f *fakeTransactions) ListByTypeAndStatus(_ context.Context, typ domain.TransactionType, status domain.TransactionStatus, _ int) ([]*domain.TransactionRecord, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []*domain.TransactionRecord
	for _, r := range f.store.records {
		if r.Type == typ && r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTransactions) ListCompletedDeposits(_ context.Context, userID string, amount decimal.Decimal, currency string, since time.Time) ([]*domain.TransactionRecord, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	bound := make(map[string]bool)
	for _, o := range f.store.orders {
		if o.TransactionID != nil {
			bound[*o.TransactionID] = true
		}
	}
	var out []*domain.TransactionRecord
	for _, r := range f.store.records {
		if r.UserID == userID && r.Type == domain.TransactionTypeDeposit &&
			r.Status == domain.StatusCompleted && r.Amount.Equal(amount) &&
			r.Currency == currency && !r.CreatedAt.Before(since) && !bound[r.ID] {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ===============================
// OrderRepository fake
// ===============================

type fakeOrders struct{ store *memStore }

func (f *fakeOrders) Upsert(_ context.Context, o *domain.Order) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	cp := *o
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	f.store.orders[o.ID] = &cp
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o, ok := f.store.orders[id]
	if !ok {
		return nil, xerrors.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByTransactionID(_ context.Context, transactionID string) (*domain.Order, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, o := range f.store.orders {
		if o.TransactionID != nil && *o.TransactionID == transactionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, xerrors.ErrOrderNotFound
}

func (f *fakeOrders) ListOpen(_ context.Context, _ int) ([]*domain.Order, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []*domain.Order
	for _, o := range f.store.orders {
		if !o.Status.IsTerminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeOrders) Claim(_ context.Context, id string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o, ok := f.store.orders[id]
	if !ok || o.Processing || o.Status.IsTerminal() {
		return xerrors.ErrOrderAlreadyClaimed
	}
	o.Processing = true
	return nil
}

func (f *fakeOrders) ReleaseClaim(_ context.Context, id string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if o, ok := f.store.orders[id]; ok {
		o.Processing = false
	}
	return nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status domain.OrderStatus) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o, ok := f.store.orders[id]
	if !ok {
		return xerrors.ErrOrderNotFound
	}
	o.Status = status
	if status.IsTerminal() && o.CompletedAt == nil {
		now := time.Now()
		o.CompletedAt = &now
	}
	return nil
}

func (f *fakeOrders) BindTransaction(_ context.Context, _ pgx.Tx, id, transactionID string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o, ok := f.store.orders[id]
	if !ok {
		return xerrors.ErrOrderNotFound
	}
	o.TransactionID = &transactionID
	return nil
}

// ===============================
// WalletRepository fake (reconciliation only needs reads)
// ===============================

type fakeWallets struct{ store *memStore }

func (f *fakeWallets) GetByUserCurrency(_ context.Context, userID, currency string) (*domain.WalletBalance, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	b, ok := f.store.wallets[userID+":"+currency]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeWallets) ListAll(_ context.Context) ([]*domain.WalletBalance, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []*domain.WalletBalance
	for _, b := range f.store.wallets {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeWallets) GetOrCreate(ctx context.Context, userID, currency string) (*domain.WalletBalance, error) {
	if b, err := f.GetByUserCurrency(ctx, userID, currency); err == nil {
		return b, nil
	}
	f.store.seedWallet(userID, currency, decimal.Zero, decimal.Zero)
	return f.GetByUserCurrency(ctx, userID, currency)
}

func (f *fakeWallets) GetWithLock(ctx context.Context, _ pgx.Tx, userID, currency string) (*domain.WalletBalance, error) {
	return f.GetByUserCurrency(ctx, userID, currency)
}

func (f *fakeWallets) EnsureExists(_ context.Context, _ pgx.Tx, userID, currency string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	key := userID + ":" + currency
	if _, ok := f.store.wallets[key]; !ok {
		f.store.wallets[key] = &domain.WalletBalance{UserID: userID, Currency: currency}
	}
	return nil
}

func (f *fakeWallets) UpdateBalance(_ context.Context, _ pgx.Tx, b *domain.WalletBalance) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	cp := *b
	f.store.wallets[b.UserID+":"+b.Currency] = &cp
	return nil
}

// ===============================
// Gateway fakes
// ===============================

type fakePayoutGateway struct {
	mu        sync.Mutex
	initErr   error
	initRes   *gateway.PayoutResult
	queryRes  gateway.PayoutStatus
	queryErr  error
	initCalls int
}

func (f *fakePayoutGateway) InitiatePayout(_ context.Context, _ string, _ gateway.Payee, _ decimal.Decimal, _ string) (*gateway.PayoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.initRes != nil {
		return f.initRes, nil
	}
	return &gateway.PayoutResult{GatewayOrderNo: "GW-001", Status: gateway.PayoutSucceeded}, nil
}

func (f *fakePayoutGateway) QueryStatus(_ context.Context, _, _ string) (gateway.PayoutStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return gateway.PayoutUnknown, f.queryErr
	}
	if f.queryRes == "" {
		return gateway.PayoutUnknown, nil
	}
	return f.queryRes, nil
}

type fakeKYC struct {
	matched bool
	err     error
}

func (f *fakeKYC) VerifyIdentity(_ context.Context, _ gateway.IdentityQuery) (bool, error) {
	return f.matched, f.err
}

type fakeExchange struct {
	mu          sync.Mutex
	detail      *domain.OrderDetail
	detailErr   error
	markPaidErr error
	releaseErr  error
	markPaid    []string
	released    []string
}

func (f *fakeExchange) GetOrderDetail(_ context.Context, _ string) (*domain.OrderDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detail, nil
}

func (f *fakeExchange) MarkPaid(_ context.Context, orderID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markPaidErr != nil {
		return f.markPaidErr
	}
	f.markPaid = append(f.markPaid, orderID)
	return nil
}

func (f *fakeExchange) ReleaseAssets(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, orderID)
	return nil
}

func (f *fakeExchange) SendMessage(_ context.Context, _, _ string) error { return nil }

// ===============================
// LedgerRepository fake
// ===============================

type fakeLedger struct{ store *memStore }

func (f *fakeLedger) AppendJournal(_ context.Context, _ pgx.Tx, transactionID string, entries []*domain.GLEntryRequest) error {
	if err := domain.ValidateJournal(entries); err != nil {
		return err
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.journals[transactionID] = append(f.store.journals[transactionID], entries...)
	return nil
}

// BalanceOf folds every journal: credits add, debits subtract, user
// entries only. The same derivation the SQL aggregate performs.
func (f *fakeLedger) BalanceOf(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	total := decimal.Zero
	for _, entries := range f.store.journals {
		for _, e := range entries {
			if e.AccountType != domain.AccountUser || e.UserID == nil || *e.UserID != userID || e.Currency != currency {
				continue
			}
			if e.EntryType == domain.EntryCredit {
				total = total.Add(e.Amount)
			} else {
				total = total.Sub(e.Amount)
			}
		}
	}
	return total, nil
}

func (f *fakeLedger) ListByTransaction(_ context.Context, transactionID string) ([]*domain.GLEntry, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []*domain.GLEntry
	for _, e := range f.store.journals[transactionID] {
		tid := transactionID
		out = append(out, &domain.GLEntry{
			UserID:        e.UserID,
			EntryType:     e.EntryType,
			AccountType:   e.AccountType,
			Amount:        e.Amount,
			Currency:      e.Currency,
			Description:   e.Description,
			TransactionID: &tid,
		})
	}
	return out, nil
}
