package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PostRequest asks the poster to commit one transaction.
//
// A credit with no counterparty is a deposit and a debit with no counterparty is a
// withdrawal. With a counterparty, a debit moves money from AccountID to
// CounterpartyID and a credit moves money from CounterpartyID into AccountID.
type PostRequest struct {
	AccountID      string          `json:"account_id"`
	Type           TransactionType `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TellerID       string          `json:"-"`
}

// IsTransfer reports whether the request moves money between two accounts.
func (r PostRequest) IsTransfer() bool {
	return r.CounterpartyID != ""
}

// PostResult is what a successful post returns.
type PostResult struct {
	Transactions []Transaction              `json:"transactions"`
	Balances     map[string]decimal.Decimal `json:"balances"`
	Replayed     bool                       `json:"replayed"`
}

// IDs returns the committed transaction ids in leg order.
func (r PostResult) IDs() []int64 {
	ids := make([]int64, 0, len(r.Transactions))
	for _, tx := range r.Transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// CreateClientRequest provisions a client. Credential is hashed before it is stored.
type CreateClientRequest struct {
	ID         string `json:"client_id,omitempty"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Credential string `json:"password"`
}

// CreateProductRequest provisions a product.
type CreateProductRequest struct {
	ID             string          `json:"product_id,omitempty"`
	Name           string          `json:"product_name"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit"`
}

// CreateAccountRequest opens an account with a zero balance.
type CreateAccountRequest struct {
	ID        string `json:"account_id,omitempty"`
	ClientID  string `json:"client_id"`
	ProductID string `json:"product_id"`
}

// CreateBranchRequest provisions a branch.
type CreateBranchRequest struct {
	ID      string `json:"branch_id,omitempty"`
	Name    string `json:"branch_name"`
	Address string `json:"address"`
}

// CreateTellerRequest provisions a teller. Password is hashed before it is stored.
type CreateTellerRequest struct {
	EmployeeID string `json:"employee_id,omitempty"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	BranchID   string `json:"branch_id,omitempty"`
	Password   string `json:"password"`
}

// TellerSession is returned by a successful teller login.
type TellerSession struct {
	EmployeeID string    `json:"employee_id"`
	FirstName  string    `json:"first_name"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}
