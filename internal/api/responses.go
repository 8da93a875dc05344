package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

// Amounts leave the service as strings with exactly two decimals.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type transactionResponse struct {
	TransactionID   int64     `json:"transaction_id"`
	TransactionType string    `json:"transaction_type"`
	Kind            string    `json:"kind"`
	Amount          string    `json:"amount"`
	Timestamp       time.Time `json:"timestamp"`
	AccountID       string    `json:"account_id"`
	ToAccountID     string    `json:"to_account_id,omitempty"`
	FromAccountID   string    `json:"from_account_id,omitempty"`
	PairID          int64     `json:"pair_id,omitempty"`
	Description     string    `json:"description,omitempty"`
	TellerID        string    `json:"teller_id,omitempty"`
}

func toTransactionResponse(tx domain.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID:   tx.ID,
		TransactionType: string(tx.Type),
		Kind:            string(tx.Kind),
		Amount:          money(tx.Amount),
		Timestamp:       tx.Timestamp,
		AccountID:       tx.AccountID,
		ToAccountID:     tx.ToAccountID,
		FromAccountID:   tx.FromAccountID,
		PairID:          tx.PairID,
		Description:     tx.Description,
		TellerID:        tx.TellerID,
	}
}

func toTransactionResponses(txs []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return out
}

type accountResponse struct {
	AccountID string    `json:"account_id"`
	ClientID  string    `json:"client_id"`
	ProductID string    `json:"product_id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		AccountID: a.ID,
		ClientID:  a.ClientID,
		ProductID: a.ProductID,
		Balance:   money(a.Balance),
		CreatedAt: a.CreatedAt,
	}
}

func toAccountResponses(accounts []domain.Account) []accountResponse {
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	return out
}

type productResponse struct {
	ProductID      string    `json:"product_id"`
	ProductName    string    `json:"product_name"`
	OverdraftLimit string    `json:"overdraft_limit"`
	CreatedAt      time.Time `json:"created_at"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ProductID:      p.ID,
		ProductName:    p.Name,
		OverdraftLimit: money(p.OverdraftLimit),
		CreatedAt:      p.CreatedAt,
	}
}

type historyResponse struct {
	AccountID string                `json:"account_id"`
	Debit     []transactionResponse `json:"debit"`
	Credit    []transactionResponse `json:"credit"`
}

type pageResponse struct {
	Items      []transactionResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type postResponse struct {
	TransactionIDs []int64               `json:"transaction_ids"`
	Transactions   []transactionResponse `json:"transactions"`
	Balances       map[string]string     `json:"balances"`
	Replayed       bool                  `json:"replayed"`
}

func toPostResponse(res domain.PostResult) postResponse {
	balances := make(map[string]string, len(res.Balances))
	for id, b := range res.Balances {
		balances[id] = money(b)
	}
	return postResponse{
		TransactionIDs: res.IDs(),
		Transactions:   toTransactionResponses(res.Transactions),
		Balances:       balances,
		Replayed:       res.Replayed,
	}
}

type summaryResponse struct {
	TotalWithdrawals  string            `json:"total_withdrawals_amount"`
	TotalDeposits     string            `json:"total_deposits_amount"`
	NetCashFlow       string            `json:"net_cash_flow"`
	TransferVolume    string            `json:"total_transfer_amount"`
	CountByType       domain.TypeCounts `json:"count_by_type"`
	CountByKind       domain.KindCounts `json:"count_by_kind"`
	TotalTransactions int64             `json:"total_transactions_count"`
	DepositCount      int64             `json:"total_deposits_count"`
	WithdrawalCount   int64             `json:"total_withdrawals_count"`
	TransferCount     int64             `json:"total_transfer_count"`
}

func toSummaryResponse(s domain.Summary) summaryResponse {
	return summaryResponse{
		TotalWithdrawals:  money(s.TotalWithdrawals),
		TotalDeposits:     money(s.TotalDeposits),
		NetCashFlow:       money(s.NetCashFlow),
		TransferVolume:    money(s.TransferVolume),
		CountByType:       s.CountByType,
		CountByKind:       s.CountByKind,
		TotalTransactions: s.TotalTransactions,
		DepositCount:      s.CountByKind.Deposit,
		WithdrawalCount:   s.CountByKind.Withdrawal,
		TransferCount:     s.CountByKind.Transfer,
	}
}

type clientDetailsResponse struct {
	domain.Client
	Accounts []accountResponse `json:"accounts"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
