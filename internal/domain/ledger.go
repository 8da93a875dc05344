/**
 * @description
 * This file defines the core domain models for the ledger-service: the clients,
 * products and accounts provisioned by the bank, and the append-only transaction
 * legs that back every account balance.
 *
 * @notes
 * - Amounts use shopspring/decimal so that currency values never pass through
 *   floating point. Every committed amount has at most two decimal places.
 * - A transfer is stored as two legs: a debit on the source account and a credit
 *   on the destination account, each pointing at the other through PairID.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Arbitrary-precision decimal amounts.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a ledger leg relative to its account.
type TransactionType string

const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

// Valid reports whether t is one of the two supported directions.
func (t TransactionType) Valid() bool {
	return t == TypeDebit || t == TypeCredit
}

// TransactionKind records why a leg exists.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
)

// Client is a bank customer. The credential is only ever held as a bcrypt hash.
type Client struct {
	ID             string    `json:"client_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Product is an account product such as "Checking" or "Savings".
// OverdraftLimit is how far below zero a debit may take an account; zero means no overdraft.
type Product struct {
	ID             string          `json:"product_id"`
	Name           string          `json:"product_name"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Branch is a physical bank branch tellers are assigned to.
type Branch struct {
	ID        string    `json:"branch_id"`
	Name      string    `json:"branch_name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Teller is a bank employee allowed to post transactions.
type Teller struct {
	EmployeeID   string    `json:"employee_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BranchID     string    `json:"branch_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account is a client's account. Balance is derived from the ledger and is
// never written directly.
type Account struct {
	ID        string          `json:"account_id"`
	ClientID  string          `json:"client_id"`
	ProductID string          `json:"product_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transaction is one committed ledger leg. Committed legs are immutable.
type Transaction struct {
	ID            int64           `json:"transaction_id"`
	Type          TransactionType `json:"transaction_type"`
	Kind          TransactionKind `json:"kind"`
	AccountID     string          `json:"account_id"`
	ToAccountID   string          `json:"to_account_id,omitempty"`
	FromAccountID string          `json:"from_account_id,omitempty"`
	PairID        int64           `json:"pair_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Description   string          `json:"description,omitempty"`
	TellerID      string          `json:"teller_id,omitempty"`
}

// Signed returns the leg's effect on its account balance.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Before orders legs by timestamp, then by id.
func (t Transaction) Before(other Transaction) bool {
	if t.Timestamp.Equal(other.Timestamp) {
		return t.ID < other.ID
	}
	return t.Timestamp.Before(other.Timestamp)
}

// AccountHistory is an account's ledger split by direction.
type AccountHistory struct {
	AccountID string        `json:"account_id"`
	Debit     []Transaction `json:"debit"`
	Credit    []Transaction `json:"credit"`
}

// TransactionPage is one page of an account's history plus the cursor that resumes after it.
type TransactionPage struct {
	Items      []Transaction `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ClientProfile is the client record together with the accounts it owns.
type ClientProfile struct {
	Client   Client    `json:"client"`
	Accounts []Account `json:"accounts"`
}
