/**
 * @description
 * This file defines the `Repository` interface, the contract the application layer
 * uses to read and append ledger state. By defining an interface, the business
 * logic is decoupled from the concrete store (the in-memory ledger backed by a
 * journal), which keeps the application services easy to test with stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrClientNotFound      = errors.New("client not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrBranchNotFound      = errors.New("branch not found")
	ErrTellerNotFound      = errors.New("teller not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrDuplicateID         = errors.New("identifier already in use")
	ErrInvalidEntry        = errors.New("invalid ledger entry")
	ErrInvalidCursor       = errors.New("invalid pagination cursor")
	ErrJournal             = errors.New("journal write failed")
	ErrBalanceMismatch     = errors.New("cached balance does not match ledger")
	ErrLockTimeout         = errors.New("timed out waiting for account lock")
)

// Repository defines the set of methods the application layer needs from the ledger store.
type Repository interface {
	// Ledger writes
	Append(ctx context.Context, entry Entry) (Posting, error)

	// Ledger reads
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	History(ctx context.Context, accountID string) ([]domain.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, page PageRequest) (domain.TransactionPage, error)
	Snapshot(ctx context.Context) Snapshot
	Verify(ctx context.Context) error

	// Reference data reads
	FindClient(ctx context.Context, clientID string) (domain.Client, error)
	AccountsForClient(ctx context.Context, clientID string) ([]domain.Account, error)
	Products(ctx context.Context) []domain.Product
	Branches(ctx context.Context) []domain.Branch
	Tellers(ctx context.Context) []domain.Teller
	FindTeller(ctx context.Context, employeeID string) (domain.Teller, error)

	// Provisioning writes
	CreateClient(ctx context.Context, client domain.Client) error
	CreateProduct(ctx context.Context, product domain.Product) error
	CreateAccount(ctx context.Context, account domain.Account) error
	CreateBranch(ctx context.Context, branch domain.Branch) error
	CreateTeller(ctx context.Context, teller domain.Teller) error
}

// Entry is one unit of work for the append path: a single leg for a deposit or
// withdrawal, or the two legs of a transfer. Leg ids are assigned by the store.
type Entry struct {
	Legs           []domain.Transaction
	IdempotencyKey string
	Fingerprint    string
}

// Posting is a committed entry together with the balances it produced.
type Posting struct {
	Transactions []domain.Transaction
	Balances     map[string]decimal.Decimal
	Replayed     bool
}

// Snapshot is a consistent view of the ledger at one commit point. Transactions is
// the committed log prefix in commit order and must be treated as read-only.
// Totals are the incrementally maintained aggregates at the same point.
type Snapshot struct {
	Transactions []domain.Transaction
	Totals       domain.Summary
}

// PageRequest selects a page of an account's history.
type PageRequest struct {
	Cursor string
	Limit  int
}
