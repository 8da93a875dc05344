package app

import (
	"context"
	"errors"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"go.uber.org/zap"
)

// Query answers the dashboard's read requests.
type Query struct {
	repo     store.Repository
	verifier secretVerifier
	metrics  *Metrics
	logger   *zap.Logger
}

func NewQuery(repo store.Repository, metrics *Metrics, logger *zap.Logger) *Query {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Query{
		repo:    repo,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "query")),
	}
}

// authenticate checks a client's credential. Unknown clients and wrong credentials
// produce the same error after the same amount of work.
func (q *Query) authenticate(ctx context.Context, clientID, credential string) (domain.Client, error) {
	client, err := q.repo.FindClient(ctx, clientID)
	if err != nil && !errors.Is(err, store.ErrClientNotFound) {
		return domain.Client{}, err
	}
	known := err == nil

	if !q.verifier.verify(client.CredentialHash, credential, known) {
		q.metrics.authFailed("client")
		return domain.Client{}, ErrAuthenticationFailed
	}
	return client, nil
}

// AccountsForClient returns the client's accounts in creation order.
func (q *Query) AccountsForClient(ctx context.Context, clientID, credential string) ([]domain.Account, error) {
	if _, err := q.authenticate(ctx, clientID, credential); err != nil {
		return nil, err
	}
	return q.repo.AccountsForClient(ctx, clientID)
}

// ClientDetails returns the client's profile together with its accounts.
func (q *Query) ClientDetails(ctx context.Context, clientID, credential string) (domain.ClientProfile, error) {
	client, err := q.authenticate(ctx, clientID, credential)
	if err != nil {
		return domain.ClientProfile{}, err
	}
	accounts, err := q.repo.AccountsForClient(ctx, clientID)
	if err != nil {
		return domain.ClientProfile{}, err
	}
	return domain.ClientProfile{Client: client, Accounts: accounts}, nil
}

func (q *Query) ProductList(ctx context.Context) []domain.Product {
	return q.repo.Products(ctx)
}

func (q *Query) BranchList(ctx context.Context) []domain.Branch {
	return q.repo.Branches(ctx)
}

func (q *Query) TellerList(ctx context.Context) []domain.Teller {
	return q.repo.Tellers(ctx)
}

// TransactionsForAccount splits the account's legs by direction. Both lists are
// ordered by timestamp, then id.
func (q *Query) TransactionsForAccount(ctx context.Context, accountID string) (domain.AccountHistory, error) {
	legs, err := q.repo.History(ctx, accountID)
	if err != nil {
		return domain.AccountHistory{}, err
	}

	history := domain.AccountHistory{
		AccountID: accountID,
		Debit:     []domain.Transaction{},
		Credit:    []domain.Transaction{},
	}
	for _, tx := range legs {
		if tx.Type == domain.TypeDebit {
			history.Debit = append(history.Debit, tx)
		} else {
			history.Credit = append(history.Credit, tx)
		}
	}
	return history, nil
}

// TransactionPage returns one page of an account's history.
func (q *Query) TransactionPage(ctx context.Context, accountID, cursor string, limit int) (domain.TransactionPage, error) {
	page, err := q.repo.ListTransactions(ctx, accountID, store.PageRequest{Cursor: cursor, Limit: limit})
	if err != nil {
		return domain.TransactionPage{}, err
	}
	if page.Items == nil {
		page.Items = []domain.Transaction{}
	}
	return page, nil
}

// AllTransactions returns every committed leg in commit order.
func (q *Query) AllTransactions(ctx context.Context) []domain.Transaction {
	snap := q.repo.Snapshot(ctx)
	out := make([]domain.Transaction, len(snap.Transactions))
	copy(out, snap.Transactions)
	return out
}
