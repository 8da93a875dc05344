package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

func TestPostScenarioDepositThenTransfer(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1", "A2")

	env.post(t, domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("100")})
	res := env.post(t, domain.PostRequest{AccountID: "A1", Type: domain.TypeDebit, Amount: dec("30"), CounterpartyID: "A2"})

	require.Len(t, res.Transactions, 2)
	assert.True(t, env.balance(t, "A1").Equal(dec("70")))
	assert.True(t, env.balance(t, "A2").Equal(dec("30")))

	summary := env.agg.TransactionSummary(context.Background())
	assert.True(t, summary.TotalDeposits.Equal(dec("100")))
	assert.True(t, summary.TotalWithdrawals.IsZero())
	assert.True(t, summary.NetCashFlow.Equal(dec("100")))
	assert.True(t, summary.TransferVolume.Equal(dec("30")))
	assert.Equal(t, int64(2), summary.TotalTransactions)
	assert.Equal(t, domain.TypeCounts{Debit: 1, Credit: 2}, summary.CountByType)
}

func TestPostCreditWithCounterpartyMovesMoneyIn(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1", "A2")
	env.post(t, domain.PostRequest{AccountID: "A2", Type: domain.TypeCredit, Amount: dec("50")})

	res := env.post(t, domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("20"), CounterpartyID: "A2"})

	debit, credit := res.Transactions[0], res.Transactions[1]
	assert.Equal(t, "A2", debit.AccountID)
	assert.Equal(t, "A1", debit.ToAccountID)
	assert.Equal(t, "A1", credit.AccountID)
	assert.Equal(t, "A2", credit.FromAccountID)
	assert.True(t, res.Balances["A1"].Equal(dec("20")))
	assert.True(t, res.Balances["A2"].Equal(dec("30")))
}

func TestPostValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1", "A2")

	tests := []struct {
		name string
		req  domain.PostRequest
		want error
	}{
		{name: "zero amount", req: domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("0")}, want: ErrInvalidAmount},
		{name: "negative amount", req: domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("-1")}, want: ErrInvalidAmount},
		{name: "three decimals", req: domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("1.005")}, want: ErrInvalidAmount},
		{name: "bad type", req: domain.PostRequest{AccountID: "A1", Type: "refund", Amount: dec("1")}, want: ErrInvalidTransactionType},
		{name: "same account", req: domain.PostRequest{AccountID: "A1", Type: domain.TypeDebit, Amount: dec("1"), CounterpartyID: "A1"}, want: ErrSameAccount},
		{name: "missing account", req: domain.PostRequest{Type: domain.TypeCredit, Amount: dec("1")}, want: ErrInvalidRequest},
		{name: "unknown account", req: domain.PostRequest{AccountID: "ZZ", Type: domain.TypeCredit, Amount: dec("1")}, want: ErrUnknownAccount},
		{name: "unknown counterparty", req: domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("1"), CounterpartyID: "ZZ"}, want: ErrUnknownAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.poster.Post(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, env.query.AllTransactions(context.Background()))
	assert.Zero(t, env.publisher.count())
}

func TestPostInsufficientFundsLeavesBalance(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1")
	env.post(t, domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("10")})

	_, err := env.poster.Post(context.Background(), domain.PostRequest{AccountID: "A1", Type: domain.TypeDebit, Amount: dec("50")})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, env.balance(t, "A1").Equal(dec("10")))
}

func TestPostIdempotentRetry(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1")

	req := domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("25"), IdempotencyKey: "abc"}
	first := env.post(t, req)
	second := env.post(t, req)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.IDs(), second.IDs())
	assert.True(t, env.balance(t, "A1").Equal(dec("25")))
	assert.Equal(t, 1, env.publisher.count())

	req.Amount = dec("26")
	_, err := env.poster.Post(context.Background(), req)
	require.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestPostIdempotencyKeyIsScopedByTeller(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1")

	req := domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("25"), IdempotencyKey: "shift-1", TellerID: "100001"}
	first := env.post(t, req)

	req.TellerID = "100002"
	other := env.post(t, req)
	assert.False(t, other.Replayed)
	assert.NotEqual(t, first.IDs(), other.IDs())
	assert.True(t, env.balance(t, "A1").Equal(dec("50")))

	req.TellerID = "100001"
	again := env.post(t, req)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.IDs(), again.IDs())
	assert.True(t, env.balance(t, "A1").Equal(dec("50")))
}

func TestScopedIdempotencyKey(t *testing.T) {
	assert.Equal(t, "", scopedIdempotencyKey("100001", "  "))
	assert.Equal(t, "abc", scopedIdempotencyKey("", " abc "))
	assert.Equal(t, "teller/100001/abc", scopedIdempotencyKey(" 100001 ", "abc"))
}

func TestPostPublishesEventAndSurvivesPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1", "A2")

	env.post(t, domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("5"), TellerID: "100001"})
	require.Equal(t, 1, env.publisher.count())

	ev := env.publisher.events[0]
	assert.Equal(t, "ledger_events", ev.exchange)
	assert.Equal(t, domain.TransactionPostedRoutingKey, ev.routingKey)
	posted, ok := ev.body.(domain.TransactionPostedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.KindDeposit, posted.Kind)
	assert.Equal(t, "100001", posted.TellerID)

	env.publisher.err = errors.New("broker down")
	res := env.post(t, domain.PostRequest{AccountID: "A1", Type: domain.TypeDebit, Amount: dec("2"), CounterpartyID: "A2"})
	assert.Len(t, res.Transactions, 2)
	assert.True(t, env.balance(t, "A2").Equal(dec("2")))
}

type stubLimiter struct {
	count int
	err   error
}

func (s *stubLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	s.count++
	return s.count, 42, s.err
}

func TestPostRateLimitPerTeller(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1")
	limiter := &stubLimiter{}
	env.poster = NewPoster(env.ledger, env.publisher, nil, PosterConfig{RateLimiter: limiter, RateLimitPerMinute: 2})

	req := domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("1"), TellerID: "100001"}
	env.post(t, req)
	env.post(t, req)

	_, err := env.poster.Post(context.Background(), req)
	require.ErrorIs(t, err, ErrRateLimited)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 42, rle.RetryAfterSeconds)
	assert.True(t, env.balance(t, "A1").Equal(dec("2")))

	// a failing limiter lets postings through
	limiter.count = 0
	limiter.err = errors.New("redis down")
	env.post(t, req)
}

func TestConcurrentCreditsToOneAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "A1")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.poster.Post(context.Background(), domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("0.10")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, env.balance(t, "A1").Equal(dec("10")))
}

// blockingJournal parks posting writes that touch the blocked account.
type blockingJournal struct {
	*store.MemoryJournal
	blocked string
	entered chan struct{}
	release chan struct{}
}

func (j *blockingJournal) Append(ctx context.Context, rec store.Record) error {
	if rec.Posting != nil {
		for _, tx := range rec.Posting.Transactions {
			if tx.AccountID == j.blocked {
				close(j.entered)
				<-j.release
				break
			}
		}
	}
	return j.MemoryJournal.Append(ctx, rec)
}

func TestPostingsOnDifferentAccountsDoNotBlock(t *testing.T) {
	journal := &blockingJournal{
		MemoryJournal: store.NewMemoryJournal(),
		blocked:       "A1",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	env := newTestEnvWithJournal(t, journal)
	env.seed(t, "A1", "A2")

	slow := make(chan error, 1)
	go func() {
		_, err := env.poster.Post(context.Background(), domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("1")})
		slow <- err
	}()
	<-journal.entered

	done := make(chan error, 1)
	go func() {
		_, err := env.poster.Post(context.Background(), domain.PostRequest{AccountID: "A2", Type: domain.TypeCredit, Amount: dec("1")})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("posting to A2 was blocked by a posting to A1")
	}

	// readers are not blocked by the in-flight write either
	assert.Len(t, env.query.AllTransactions(context.Background()), 1)

	close(journal.release)
	require.NoError(t, <-slow)
	assert.True(t, env.balance(t, "A1").Equal(dec("1")))
}

func TestPostCancelledWhileWaitingForLock(t *testing.T) {
	journal := &blockingJournal{
		MemoryJournal: store.NewMemoryJournal(),
		blocked:       "A1",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	env := newTestEnvWithJournal(t, journal)
	env.seed(t, "A1")

	slow := make(chan error, 1)
	go func() {
		_, err := env.poster.Post(context.Background(), domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("1")})
		slow <- err
	}()
	<-journal.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.poster.Post(ctx, domain.PostRequest{AccountID: "A1", Type: domain.TypeCredit, Amount: dec("5")})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(journal.release)
	require.NoError(t, <-slow)
	assert.True(t, env.balance(t, "A1").Equal(dec("1")))
}
