/**
 * @description
 * Ledger is the authoritative store for clients, products, branches, tellers,
 * accounts and the append-only transaction log. It implements `Repository`.
 *
 * Key features:
 * - Every mutation is written to the Journal before it becomes visible, and the
 *   whole state is rebuilt from the journal by Open.
 * - Postings serialize per account. Postings on different accounts only share the
 *   short commit section that publishes their legs.
 * - Readers take O(1) snapshots of the committed log and scan outside any lock.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Amounts and balances.
 * - github.com/tidwall/btree: Per-account history ordered by (timestamp, id).
 * - go.uber.org/zap: Structured logging.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"github.com/transfa/ledger-service/internal/domain"
	"go.uber.org/zap"
)

// Options configures a Ledger.
type Options struct {
	Logger *zap.Logger
	// LockTimeout bounds how long Append waits for account locks. Zero waits until
	// the caller's context is done.
	LockTimeout time.Duration
	Clock       func() time.Time
}

type accountState struct {
	account   domain.Account
	overdraft decimal.Decimal
	gate      gate
	history   *btree.BTreeG[domain.Transaction]
}

type idempotencyRecord struct {
	fingerprint string
	posting     Posting
}

type flight struct {
	done chan struct{}
}

// Ledger is the in-memory ledger backed by a Journal.
type Ledger struct {
	journal     Journal
	logger      *zap.Logger
	lockTimeout time.Duration
	clock       func() time.Time

	// provMu serializes provisioning so duplicate checks and journal order agree.
	provMu sync.Mutex

	idemMu   sync.Mutex
	inflight map[string]*flight

	nextTxID atomic.Int64

	// mu guards everything below. Lock order: idemMu, then mu.
	mu             sync.RWMutex
	clients        map[string]domain.Client
	products       map[string]domain.Product
	branches       map[string]domain.Branch
	tellers        map[string]domain.Teller
	accounts       map[string]*accountState
	productOrder   []string
	branchOrder    []string
	tellerOrder    []string
	clientAccounts map[string][]string
	log            []domain.Transaction
	totals         domain.Summary
	idempotency    map[string]idempotencyRecord
}

var _ Repository = (*Ledger)(nil)

func newLedger(journal Journal, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		journal:        journal,
		logger:         logger.With(zap.String("component", "ledger")),
		lockTimeout:    opts.LockTimeout,
		clock:          clock,
		inflight:       make(map[string]*flight),
		clients:        make(map[string]domain.Client),
		products:       make(map[string]domain.Product),
		branches:       make(map[string]domain.Branch),
		tellers:        make(map[string]domain.Teller),
		accounts:       make(map[string]*accountState),
		clientAccounts: make(map[string][]string),
		idempotency:    make(map[string]idempotencyRecord),
	}
}

// Open rebuilds a Ledger by replaying every record in journal.
func Open(ctx context.Context, journal Journal, opts Options) (*Ledger, error) {
	l := newLedger(journal, opts)

	started := time.Now()
	records := 0

	l.mu.Lock()
	err := journal.Replay(ctx, func(rec Record) error {
		records++
		return l.applyRecordLocked(rec)
	})
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	l.logger.Info("ledger replayed",
		zap.Int("records", records),
		zap.Int("accounts", len(l.accounts)),
		zap.Int("transactions", len(l.log)),
		zap.Int64("last_transaction_id", l.nextTxID.Load()),
		zap.Duration("took", time.Since(started)),
	)
	return l, nil
}

// Close closes the underlying journal.
func (l *Ledger) Close() error {
	return l.journal.Close()
}

// Append validates entry and commits its legs atomically. On success every leg has
// a fresh id and, for transfers, a PairID pointing at the other leg.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Posting, error) {
	if err := validateEntry(entry); err != nil {
		return Posting{}, err
	}

	if entry.IdempotencyKey != "" {
		replayed, release, err := l.reserve(ctx, entry.IdempotencyKey, entry.Fingerprint)
		if err != nil {
			return Posting{}, err
		}
		if replayed != nil {
			return *replayed, nil
		}
		defer release()
	}

	states, err := l.statesFor(entry.Legs)
	if err != nil {
		return Posting{}, err
	}

	unlock, err := lockAccounts(ctx, l.lockTimeout, states)
	if err != nil {
		return Posting{}, err
	}
	defer unlock()

	// last point at which the caller can abandon the posting without effect
	if err := ctx.Err(); err != nil {
		return Posting{}, err
	}

	if err := checkFunds(states, entry.Legs); err != nil {
		return Posting{}, err
	}

	rec := Record{
		Kind:       RecordPosting,
		RecordedAt: l.clock().UTC(),
		Posting: &PostingRecord{
			Transactions:   l.assignIDs(entry.Legs),
			IdempotencyKey: entry.IdempotencyKey,
			Fingerprint:    entry.Fingerprint,
		},
	}
	if err := l.journal.Append(ctx, rec); err != nil {
		l.logger.Error("journal append failed", zap.Error(err))
		return Posting{}, fmt.Errorf("%w: %w", ErrJournal, err)
	}

	l.mu.Lock()
	posting := l.applyPostingLocked(*rec.Posting)
	l.mu.Unlock()

	return posting, nil
}

func validateEntry(entry Entry) error {
	if len(entry.Legs) == 0 || len(entry.Legs) > 2 {
		return fmt.Errorf("%w: expected one or two legs, got %d", ErrInvalidEntry, len(entry.Legs))
	}
	for _, leg := range entry.Legs {
		if leg.AccountID == "" {
			return fmt.Errorf("%w: leg without account", ErrInvalidEntry)
		}
		if !leg.Type.Valid() {
			return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidEntry, leg.Type)
		}
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
		}
	}
	if len(entry.Legs) == 2 {
		a, b := entry.Legs[0], entry.Legs[1]
		if a.AccountID == b.AccountID {
			return fmt.Errorf("%w: transfer legs on the same account", ErrInvalidEntry)
		}
		if a.Type == b.Type {
			return fmt.Errorf("%w: transfer needs one debit and one credit", ErrInvalidEntry)
		}
		if !a.Amount.Equal(b.Amount) {
			return fmt.Errorf("%w: transfer legs differ in amount", ErrInvalidEntry)
		}
	}
	return nil
}

// reserve claims key for the caller. It returns the original posting when key was
// already committed with the same fingerprint, and blocks while another caller is
// in the middle of posting with the same key.
func (l *Ledger) reserve(ctx context.Context, key, fingerprint string) (*Posting, func(), error) {
	for {
		l.idemMu.Lock()

		l.mu.RLock()
		rec, committed := l.idempotency[key]
		l.mu.RUnlock()
		if committed {
			l.idemMu.Unlock()
			if rec.fingerprint != fingerprint {
				return nil, nil, ErrIdempotencyConflict
			}
			replayed := clonePosting(rec.posting)
			replayed.Replayed = true
			return &replayed, nil, nil
		}

		if f, busy := l.inflight[key]; busy {
			l.idemMu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		f := &flight{done: make(chan struct{})}
		l.inflight[key] = f
		l.idemMu.Unlock()

		release := func() {
			l.idemMu.Lock()
			delete(l.inflight, key)
			l.idemMu.Unlock()
			close(f.done)
		}
		return nil, release, nil
	}
}

// statesFor resolves the distinct accounts touched by legs.
func (l *Ledger) statesFor(legs []domain.Transaction) ([]*accountState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	states := make([]*accountState, 0, len(legs))
	for _, leg := range legs {
		st, ok := l.accounts[leg.AccountID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, leg.AccountID)
		}
		states = append(states, st)
	}
	return states, nil
}

// checkFunds must run with the gates of every touched account held.
func checkFunds(states []*accountState, legs []domain.Transaction) error {
	for _, st := range states {
		delta := decimal.Zero
		for _, leg := range legs {
			if leg.AccountID == st.account.ID {
				delta = delta.Add(leg.Signed())
			}
		}
		if !delta.IsNegative() {
			continue
		}
		if st.account.Balance.Add(delta).LessThan(st.overdraft.Neg()) {
			return fmt.Errorf("%w: account %s", ErrInsufficientFunds, st.account.ID)
		}
	}
	return nil
}

func (l *Ledger) assignIDs(legs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(legs))
	now := l.clock().UTC()
	for i, leg := range legs {
		leg.ID = l.nextTxID.Add(1)
		if leg.Timestamp.IsZero() {
			leg.Timestamp = now
		}
		out[i] = leg
	}
	if len(out) == 2 {
		out[0].PairID = out[1].ID
		out[1].PairID = out[0].ID
	}
	return out
}

// applyPostingLocked publishes committed legs. Caller holds mu for writing.
func (l *Ledger) applyPostingLocked(rec PostingRecord) Posting {
	balances := make(map[string]decimal.Decimal, len(rec.Transactions))
	for _, tx := range rec.Transactions {
		st := l.accounts[tx.AccountID]
		st.account.Balance = st.account.Balance.Add(tx.Signed())
		st.history.Set(tx)
		l.log = append(l.log, tx)
		l.totals.Apply(tx)
		balances[tx.AccountID] = st.account.Balance
	}

	posting := Posting{
		Transactions: append([]domain.Transaction(nil), rec.Transactions...),
		Balances:     balances,
	}
	if rec.IdempotencyKey != "" {
		l.idempotency[rec.IdempotencyKey] = idempotencyRecord{
			fingerprint: rec.Fingerprint,
			posting:     clonePosting(posting),
		}
	}
	if last := rec.Transactions[len(rec.Transactions)-1].ID; last > l.nextTxID.Load() {
		// only reachable during replay; live ids come from the same counter
		l.nextTxID.Store(last)
	}
	return posting
}

func clonePosting(p Posting) Posting {
	out := Posting{
		Transactions: append([]domain.Transaction(nil), p.Transactions...),
		Balances:     make(map[string]decimal.Decimal, len(p.Balances)),
		Replayed:     p.Replayed,
	}
	for k, v := range p.Balances {
		out.Balances[k] = v
	}
	return out
}

// applyRecordLocked applies one journal record. It is the only place state
// changes, both when replaying and after a live journal write.
func (l *Ledger) applyRecordLocked(rec Record) error {
	switch rec.Kind {
	case RecordClient:
		if rec.Client == nil {
			return fmt.Errorf("%w: client record without payload", ErrInvalidEntry)
		}
		l.clients[rec.Client.ID] = rec.Client.client()

	case RecordProduct:
		if rec.Product == nil {
			return fmt.Errorf("%w: product record without payload", ErrInvalidEntry)
		}
		if _, exists := l.products[rec.Product.ID]; !exists {
			l.productOrder = append(l.productOrder, rec.Product.ID)
		}
		l.products[rec.Product.ID] = *rec.Product

	case RecordBranch:
		if rec.Branch == nil {
			return fmt.Errorf("%w: branch record without payload", ErrInvalidEntry)
		}
		if _, exists := l.branches[rec.Branch.ID]; !exists {
			l.branchOrder = append(l.branchOrder, rec.Branch.ID)
		}
		l.branches[rec.Branch.ID] = *rec.Branch

	case RecordTeller:
		if rec.Teller == nil {
			return fmt.Errorf("%w: teller record without payload", ErrInvalidEntry)
		}
		if _, exists := l.tellers[rec.Teller.EmployeeID]; !exists {
			l.tellerOrder = append(l.tellerOrder, rec.Teller.EmployeeID)
		}
		l.tellers[rec.Teller.EmployeeID] = rec.Teller.teller()

	case RecordAccount:
		acc := rec.Account
		if acc == nil {
			return fmt.Errorf("%w: account record without payload", ErrInvalidEntry)
		}
		if _, exists := l.accounts[acc.ID]; exists {
			return fmt.Errorf("%w: account %s", ErrDuplicateID, acc.ID)
		}
		product, ok := l.products[acc.ProductID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, acc.ProductID)
		}
		l.accounts[acc.ID] = &accountState{
			account: domain.Account{
				ID:        acc.ID,
				ClientID:  acc.ClientID,
				ProductID: acc.ProductID,
				Balance:   decimal.Zero,
				CreatedAt: acc.CreatedAt,
			},
			overdraft: product.OverdraftLimit,
			gate:      newGate(),
			history: btree.NewBTreeGOptions(func(a, b domain.Transaction) bool {
				return a.Before(b)
			}, btree.Options{NoLocks: true}),
		}
		l.clientAccounts[acc.ClientID] = append(l.clientAccounts[acc.ClientID], acc.ID)

	case RecordPosting:
		if rec.Posting == nil || len(rec.Posting.Transactions) == 0 {
			return fmt.Errorf("%w: posting record without legs", ErrInvalidEntry)
		}
		for _, tx := range rec.Posting.Transactions {
			if _, ok := l.accounts[tx.AccountID]; !ok {
				return fmt.Errorf("%w: posting references %s", ErrAccountNotFound, tx.AccountID)
			}
		}
		l.applyPostingLocked(*rec.Posting)

	default:
		return fmt.Errorf("%w: unknown record kind %q", ErrInvalidEntry, rec.Kind)
	}
	return nil
}

// persist journals rec and then applies it. Callers hold provMu.
func (l *Ledger) persist(ctx context.Context, rec Record) error {
	rec.RecordedAt = l.clock().UTC()
	if err := l.journal.Append(ctx, rec); err != nil {
		l.logger.Error("journal append failed", zap.String("kind", string(rec.Kind)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrJournal, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyRecordLocked(rec)
}

func (l *Ledger) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return domain.Account{}, ErrAccountNotFound
	}
	return st.account, nil
}

// History returns every leg of the account ordered by timestamp, then id.
func (l *Ledger) History(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	items := make([]domain.Transaction, 0, st.history.Len())
	st.history.Scan(func(tx domain.Transaction) bool {
		items = append(items, tx)
		return true
	})
	return items, nil
}

// ListTransactions returns one page of the account's history. The cursor is the
// NextCursor of the previous page; an empty cursor starts from the beginning.
func (l *Ledger) ListTransactions(ctx context.Context, accountID string, page PageRequest) (domain.TransactionPage, error) {
	limit := normalizeLimit(page.Limit)

	var (
		after    domain.Transaction
		hasAfter bool
	)
	if page.Cursor != "" {
		ts, id, err := decodeCursor(page.Cursor)
		if err != nil {
			return domain.TransactionPage{}, err
		}
		after = domain.Transaction{ID: id, Timestamp: ts}
		hasAfter = true
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return domain.TransactionPage{}, ErrAccountNotFound
	}

	items := make([]domain.Transaction, 0, limit+1)
	collect := func(tx domain.Transaction) bool {
		if hasAfter && !after.Before(tx) {
			return true
		}
		items = append(items, tx)
		return len(items) <= limit
	}
	if hasAfter {
		st.history.Ascend(after, collect)
	} else {
		st.history.Scan(collect)
	}

	result := domain.TransactionPage{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.NextCursor = encodeCursor(items[limit-1])
	}
	return result, nil
}

// Snapshot captures the committed log prefix and the totals at the same commit point.
func (l *Ledger) Snapshot(ctx context.Context) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.log)
	return Snapshot{
		Transactions: l.log[:n:n],
		Totals:       l.totals,
	}
}

// Verify re-derives every balance from the log and compares it with the cached one.
func (l *Ledger) Verify(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	derived := make(map[string]decimal.Decimal, len(l.accounts))
	for _, tx := range l.log {
		derived[tx.AccountID] = derived[tx.AccountID].Add(tx.Signed())
	}

	var errs []error
	for id, st := range l.accounts {
		if !st.account.Balance.Equal(derived[id]) {
			errs = append(errs, fmt.Errorf("%w: account %s cached %s, ledger %s",
				ErrBalanceMismatch, id, st.account.Balance.StringFixed(2), derived[id].StringFixed(2)))
		}
		indexed := decimal.Zero
		st.history.Scan(func(tx domain.Transaction) bool {
			indexed = indexed.Add(tx.Signed())
			return true
		})
		if !indexed.Equal(derived[id]) {
			errs = append(errs, fmt.Errorf("%w: account %s history index sums to %s",
				ErrBalanceMismatch, id, indexed.StringFixed(2)))
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) FindClient(ctx context.Context, clientID string) (domain.Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.clients[clientID]
	if !ok {
		return domain.Client{}, ErrClientNotFound
	}
	return c, nil
}

// AccountsForClient returns the client's accounts in creation order.
func (l *Ledger) AccountsForClient(ctx context.Context, clientID string) ([]domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.clients[clientID]; !ok {
		return nil, ErrClientNotFound
	}
	ids := l.clientAccounts[clientID]
	accounts := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, l.accounts[id].account)
	}
	return accounts, nil
}

// Products returns every product in creation order.
func (l *Ledger) Products(ctx context.Context) []domain.Product {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Product, 0, len(l.productOrder))
	for _, id := range l.productOrder {
		out = append(out, l.products[id])
	}
	return out
}

// Branches returns every branch in creation order.
func (l *Ledger) Branches(ctx context.Context) []domain.Branch {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Branch, 0, len(l.branchOrder))
	for _, id := range l.branchOrder {
		out = append(out, l.branches[id])
	}
	return out
}

// Tellers returns every teller in creation order.
func (l *Ledger) Tellers(ctx context.Context) []domain.Teller {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Teller, 0, len(l.tellerOrder))
	for _, id := range l.tellerOrder {
		out = append(out, l.tellers[id])
	}
	return out
}

func (l *Ledger) FindTeller(ctx context.Context, employeeID string) (domain.Teller, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.tellers[employeeID]
	if !ok {
		return domain.Teller{}, ErrTellerNotFound
	}
	return t, nil
}

func (l *Ledger) CreateClient(ctx context.Context, client domain.Client) error {
	if client.ID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidEntry)
	}

	l.provMu.Lock()
	defer l.provMu.Unlock()

	l.mu.RLock()
	_, exists := l.clients[client.ID]
	l.mu.RUnlock()
	if exists {
		return ErrDuplicateID
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = l.clock().UTC()
	}
	return l.persist(ctx, Record{Kind: RecordClient, Client: clientRecord(client)})
}

func (l *Ledger) CreateProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidEntry)
	}
	if product.OverdraftLimit.IsNegative() {
		return fmt.Errorf("%w: overdraft limit cannot be negative", ErrInvalidEntry)
	}

	l.provMu.Lock()
	defer l.provMu.Unlock()

	l.mu.RLock()
	_, exists := l.products[product.ID]
	l.mu.RUnlock()
	if exists {
		return ErrDuplicateID
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = l.clock().UTC()
	}
	return l.persist(ctx, Record{Kind: RecordProduct, Product: &product})
}

func (l *Ledger) CreateBranch(ctx context.Context, branch domain.Branch) error {
	if branch.ID == "" {
		return fmt.Errorf("%w: branch id is required", ErrInvalidEntry)
	}

	l.provMu.Lock()
	defer l.provMu.Unlock()

	l.mu.RLock()
	_, exists := l.branches[branch.ID]
	l.mu.RUnlock()
	if exists {
		return ErrDuplicateID
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = l.clock().UTC()
	}
	return l.persist(ctx, Record{Kind: RecordBranch, Branch: &branch})
}

func (l *Ledger) CreateTeller(ctx context.Context, teller domain.Teller) error {
	if teller.EmployeeID == "" {
		return fmt.Errorf("%w: employee id is required", ErrInvalidEntry)
	}

	l.provMu.Lock()
	defer l.provMu.Unlock()

	l.mu.RLock()
	_, exists := l.tellers[teller.EmployeeID]
	_, branchOK := l.branches[teller.BranchID]
	l.mu.RUnlock()
	if exists {
		return ErrDuplicateID
	}
	if teller.BranchID != "" && !branchOK {
		return ErrBranchNotFound
	}
	if teller.CreatedAt.IsZero() {
		teller.CreatedAt = l.clock().UTC()
	}
	return l.persist(ctx, Record{Kind: RecordTeller, Teller: tellerRecord(teller)})
}

// CreateAccount opens an account with a zero balance. Any balance on the argument is ignored.
func (l *Ledger) CreateAccount(ctx context.Context, account domain.Account) error {
	if account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidEntry)
	}

	l.provMu.Lock()
	defer l.provMu.Unlock()

	l.mu.RLock()
	_, exists := l.accounts[account.ID]
	_, clientOK := l.clients[account.ClientID]
	_, productOK := l.products[account.ProductID]
	l.mu.RUnlock()
	switch {
	case exists:
		return ErrDuplicateID
	case !clientOK:
		return ErrClientNotFound
	case !productOK:
		return ErrProductNotFound
	}

	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = l.clock().UTC()
	}
	return l.persist(ctx, Record{
		Kind: RecordAccount,
		Account: &AccountRecord{
			ID:        account.ID,
			ClientID:  account.ClientID,
			ProductID: account.ProductID,
			CreatedAt: createdAt,
		},
	})
}
