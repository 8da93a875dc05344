package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/ledger-service/internal/domain"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedLedger(t *testing.T, journal Journal, accounts ...string) *Ledger {
	t.Helper()
	ctx := context.Background()

	l, err := Open(ctx, journal, Options{})
	require.NoError(t, err)

	require.NoError(t, l.CreateClient(ctx, domain.Client{ID: "C1", FirstName: "Ada", LastName: "Obi", CredentialHash: "x"}))
	require.NoError(t, l.CreateProduct(ctx, domain.Product{ID: "P1", Name: "Checking"}))
	for _, id := range accounts {
		require.NoError(t, l.CreateAccount(ctx, domain.Account{ID: id, ClientID: "C1", ProductID: "P1"}))
	}
	return l
}

func deposit(account, amt string) Entry {
	return Entry{Legs: []domain.Transaction{{
		Type: domain.TypeCredit, Kind: domain.KindDeposit, AccountID: account, Amount: amount(amt),
	}}}
}

func withdrawal(account, amt string) Entry {
	return Entry{Legs: []domain.Transaction{{
		Type: domain.TypeDebit, Kind: domain.KindWithdrawal, AccountID: account, Amount: amount(amt),
	}}}
}

func transfer(from, to, amt string) Entry {
	return Entry{Legs: []domain.Transaction{
		{Type: domain.TypeDebit, Kind: domain.KindTransfer, AccountID: from, ToAccountID: to, Amount: amount(amt)},
		{Type: domain.TypeCredit, Kind: domain.KindTransfer, AccountID: to, FromAccountID: from, Amount: amount(amt)},
	}}
}

func balanceOf(t *testing.T, l *Ledger, id string) decimal.Decimal {
	t.Helper()
	acc, err := l.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func TestAppendDepositWithdrawTransfer(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1", "A2")

	_, err := l.Append(ctx, deposit("A1", "100"))
	require.NoError(t, err)
	p, err := l.Append(ctx, transfer("A1", "A2", "30"))
	require.NoError(t, err)

	require.Len(t, p.Transactions, 2)
	debit, credit := p.Transactions[0], p.Transactions[1]
	assert.Equal(t, credit.ID, debit.PairID)
	assert.Equal(t, debit.ID, credit.PairID)
	assert.Equal(t, "A2", debit.ToAccountID)
	assert.Equal(t, "A1", credit.FromAccountID)
	assert.True(t, p.Balances["A1"].Equal(amount("70")))
	assert.True(t, p.Balances["A2"].Equal(amount("30")))

	assert.True(t, balanceOf(t, l, "A1").Equal(amount("70")))
	assert.True(t, balanceOf(t, l, "A2").Equal(amount("30")))
	require.NoError(t, l.Verify(ctx))
}

func TestAppendRejectsInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1")

	_, err := l.Append(ctx, deposit("A1", "10"))
	require.NoError(t, err)

	_, err = l.Append(ctx, withdrawal("A1", "50"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, balanceOf(t, l, "A1").Equal(amount("10")))
	assert.Len(t, l.Snapshot(ctx).Transactions, 1)
}

func TestAppendHonoursOverdraftLimit(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal())
	require.NoError(t, l.CreateProduct(ctx, domain.Product{ID: "OD", Name: "Overdraft", OverdraftLimit: amount("25")}))
	require.NoError(t, l.CreateAccount(ctx, domain.Account{ID: "A9", ClientID: "C1", ProductID: "OD"}))

	_, err := l.Append(ctx, withdrawal("A9", "25"))
	require.NoError(t, err)
	_, err = l.Append(ctx, withdrawal("A9", "0.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, balanceOf(t, l, "A9").Equal(amount("-25")))
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1", "A2")

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{name: "no legs", entry: Entry{}, want: ErrInvalidEntry},
		{name: "zero amount", entry: deposit("A1", "0"), want: ErrInvalidEntry},
		{name: "negative amount", entry: deposit("A1", "-5"), want: ErrInvalidEntry},
		{name: "same account transfer", entry: transfer("A1", "A1", "5"), want: ErrInvalidEntry},
		{name: "unknown account", entry: deposit("NOPE", "5"), want: ErrAccountNotFound},
		{name: "unknown transfer target", entry: transfer("A1", "NOPE", "5"), want: ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, tt.entry)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, l.Snapshot(ctx).Transactions)
}

func TestAppendCancelledBeforeJournalLeavesNoTrace(t *testing.T) {
	journal := NewMemoryJournal()
	l := seedLedger(t, journal, "A1")
	before := journal.Len()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, deposit("A1", "5"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, journal.Len())
	assert.True(t, balanceOf(t, l, "A1").IsZero())
}

func TestAppendLockTimeout(t *testing.T) {
	l := seedLedger(t, NewMemoryJournal(), "A1")
	l.lockTimeout = 20 * time.Millisecond

	st := l.accounts["A1"]
	require.NoError(t, st.gate.acquire(context.Background()))
	defer st.gate.release()

	_, err := l.Append(context.Background(), deposit("A1", "5"))
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestAppendWithoutLockTimeoutWaitsForRelease(t *testing.T) {
	l := seedLedger(t, NewMemoryJournal(), "A1")

	st := l.accounts["A1"]
	require.NoError(t, st.gate.acquire(context.Background()))
	go func() {
		time.Sleep(50 * time.Millisecond)
		st.gate.release()
	}()

	_, err := l.Append(context.Background(), deposit("A1", "5"))
	require.NoError(t, err)
	assert.True(t, balanceOf(t, l, "A1").Equal(amount("5")))
}

func TestConcurrentCreditsSumUp(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1")

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, deposit("A1", "1.25"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, balanceOf(t, l, "A1").Equal(amount("250")))
	history, err := l.History(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, history, n)
	require.NoError(t, l.Verify(ctx))
}

func TestTransferVisibilityIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1", "A2")
	_, err := l.Append(ctx, deposit("A1", "1000"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := l.Append(ctx, transfer("A1", "A2", "1"))
			assert.NoError(t, err)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		snap := l.Snapshot(ctx)
		var debits, credits int
		for _, tx := range snap.Transactions {
			if tx.Kind != domain.KindTransfer {
				continue
			}
			if tx.Type == domain.TypeDebit {
				debits++
			} else {
				credits++
			}
		}
		require.Equal(t, debits, credits)
	}
}

func TestIdempotentAppend(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1")

	entry := deposit("A1", "40")
	entry.IdempotencyKey = "req-1"
	entry.Fingerprint = "A1|credit|40"

	first, err := l.Append(ctx, entry)
	require.NoError(t, err)
	again, err := l.Append(ctx, entry)
	require.NoError(t, err)

	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transactions[0].ID, again.Transactions[0].ID)
	assert.True(t, balanceOf(t, l, "A1").Equal(amount("40")))

	entry.Fingerprint = "A1|credit|41"
	_, err = l.Append(ctx, entry)
	require.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestConcurrentIdempotentAppendPostsOnce(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1")

	entry := deposit("A1", "5")
	entry.IdempotencyKey = "same"
	entry.Fingerprint = "fp"

	var wg sync.WaitGroup
	ids := make([]int64, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := l.Append(ctx, entry)
			if assert.NoError(t, err) {
				ids[i] = p.Transactions[0].ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.True(t, balanceOf(t, l, "A1").Equal(amount("5")))
}

func TestSnapshotTotalsMatchLog(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1", "A2")

	for _, e := range []Entry{deposit("A1", "100"), transfer("A1", "A2", "30"), withdrawal("A2", "10")} {
		_, err := l.Append(ctx, e)
		require.NoError(t, err)
	}

	snap := l.Snapshot(ctx)
	var scanned domain.Summary
	for _, tx := range snap.Transactions {
		scanned.Apply(tx)
	}
	assert.True(t, scanned.Equal(snap.Totals))
	assert.True(t, snap.Totals.NetCashFlow.Equal(amount("90")))
	assert.Equal(t, int64(3), snap.Totals.TotalTransactions)
}

func TestListTransactionsPagination(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	l := seedLedger(t, NewMemoryJournal(), "A1")

	// out-of-order timestamps with ties
	offsets := []int{5, 1, 3, 1, 0, 4}
	for _, off := range offsets {
		e := deposit("A1", "1")
		e.Legs[0].Timestamp = base.Add(time.Duration(off) * time.Minute)
		_, err := l.Append(ctx, e)
		require.NoError(t, err)
	}

	var (
		all    []domain.Transaction
		cursor string
		pages  int
	)
	for {
		page, err := l.ListTransactions(ctx, "A1", PageRequest{Cursor: cursor, Limit: 4})
		require.NoError(t, err)
		all = append(all, page.Items...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 2, pages)
	require.Len(t, all, len(offsets))
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Before(all[i]), "page order broken at %d", i)
	}

	history, err := l.History(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, history, all)

	_, err = l.ListTransactions(ctx, "A1", PageRequest{Cursor: "garbage"})
	require.ErrorIs(t, err, ErrInvalidCursor)
	_, err = l.ListTransactions(ctx, "NOPE", PageRequest{})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestProvisioningRules(t *testing.T) {
	ctx := context.Background()
	l := seedLedger(t, NewMemoryJournal(), "A1")

	require.ErrorIs(t, l.CreateClient(ctx, domain.Client{ID: "C1"}), ErrDuplicateID)
	require.ErrorIs(t, l.CreateAccount(ctx, domain.Account{ID: "A1", ClientID: "C1", ProductID: "P1"}), ErrDuplicateID)
	require.ErrorIs(t, l.CreateAccount(ctx, domain.Account{ID: "A2", ClientID: "CX", ProductID: "P1"}), ErrClientNotFound)
	require.ErrorIs(t, l.CreateAccount(ctx, domain.Account{ID: "A2", ClientID: "C1", ProductID: "PX"}), ErrProductNotFound)
	require.ErrorIs(t, l.CreateTeller(ctx, domain.Teller{EmployeeID: "100001", BranchID: "B404"}), ErrBranchNotFound)
	require.ErrorIs(t, l.CreateProduct(ctx, domain.Product{ID: "P2", OverdraftLimit: amount("-1")}), ErrInvalidEntry)

	require.NoError(t, l.CreateBranch(ctx, domain.Branch{ID: "B1", Name: "Main"}))
	require.NoError(t, l.CreateTeller(ctx, domain.Teller{EmployeeID: "100001", BranchID: "B1"}))

	teller, err := l.FindTeller(ctx, "100001")
	require.NoError(t, err)
	assert.Equal(t, "B1", teller.BranchID)

	accounts, err := l.AccountsForClient(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "A1", accounts[0].ID)
}

func TestReplayRestoresState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	journal, err := OpenFileJournal(path)
	require.NoError(t, err)
	l := seedLedger(t, journal, "A1", "A2")
	require.NoError(t, l.CreateBranch(ctx, domain.Branch{ID: "B1", Name: "Main"}))

	keyed := deposit("A1", "100")
	keyed.IdempotencyKey = "k1"
	keyed.Fingerprint = "fp1"
	first, err := l.Append(ctx, keyed)
	require.NoError(t, err)
	_, err = l.Append(ctx, transfer("A1", "A2", "30.50"))
	require.NoError(t, err)
	before := l.Snapshot(ctx)
	require.NoError(t, l.Close())

	journal, err = OpenFileJournal(path)
	require.NoError(t, err)
	reopened, err := Open(ctx, journal, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, balanceOf(t, reopened, "A1").Equal(amount("69.50")))
	assert.True(t, balanceOf(t, reopened, "A2").Equal(amount("30.50")))
	after := reopened.Snapshot(ctx)
	assert.True(t, before.Totals.Equal(after.Totals))
	require.Len(t, after.Transactions, len(before.Transactions))
	for i := range before.Transactions {
		assert.Equal(t, before.Transactions[i].ID, after.Transactions[i].ID)
	}
	assert.Len(t, reopened.Branches(ctx), 1)
	require.NoError(t, reopened.Verify(ctx))

	// ids continue after the replayed sequence and idempotency survives restart
	p, err := reopened.Append(ctx, deposit("A2", "1"))
	require.NoError(t, err)
	assert.Greater(t, p.Transactions[0].ID, before.Transactions[len(before.Transactions)-1].ID)

	again, err := reopened.Append(ctx, keyed)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transactions[0].ID, again.Transactions[0].ID)
}

type failingJournal struct {
	*MemoryJournal
	fail bool
}

func (j *failingJournal) Append(ctx context.Context, rec Record) error {
	if j.fail && rec.Kind == RecordPosting {
		return errors.New("disk full")
	}
	return j.MemoryJournal.Append(ctx, rec)
}

func TestJournalFailureLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	journal := &failingJournal{MemoryJournal: NewMemoryJournal()}
	l := seedLedger(t, journal, "A1")
	journal.fail = true

	_, err := l.Append(ctx, deposit("A1", "5"))
	require.ErrorIs(t, err, ErrJournal)
	assert.True(t, balanceOf(t, l, "A1").IsZero())
	assert.Empty(t, l.Snapshot(ctx).Transactions)
}
