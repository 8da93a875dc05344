package app

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type capturedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	ledger    *store.Ledger
	poster    *Poster
	query     *Query
	agg       *Aggregator
	prov      *Provisioner
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithJournal(t, store.NewMemoryJournal())
}

func newTestEnvWithJournal(t *testing.T, journal store.Journal) *testEnv {
	t.Helper()
	ledger, err := store.Open(context.Background(), journal, store.Options{})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	return &testEnv{
		ledger:    ledger,
		poster:    NewPoster(ledger, pub, nil, PosterConfig{}),
		query:     NewQuery(ledger, nil, nil),
		agg:       NewAggregator(ledger, nil, nil),
		prov:      NewProvisioner(ledger, nil),
		publisher: pub,
	}
}

// seed creates client C1 (password "secret-1") with accounts on a no-overdraft product.
func (e *testEnv) seed(t *testing.T, accountIDs ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := e.prov.CreateClient(ctx, domain.CreateClientRequest{
		ID: "C1", FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", Credential: "secret-1",
	})
	require.NoError(t, err)
	_, err = e.prov.CreateProduct(ctx, domain.CreateProductRequest{ID: "P1", Name: "Checking"})
	require.NoError(t, err)
	for _, id := range accountIDs {
		_, err = e.prov.CreateAccount(ctx, domain.CreateAccountRequest{ID: id, ClientID: "C1", ProductID: "P1"})
		require.NoError(t, err)
	}
}

func (e *testEnv) post(t *testing.T, req domain.PostRequest) domain.PostResult {
	t.Helper()
	res, err := e.poster.Post(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (e *testEnv) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acc, err := e.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}
