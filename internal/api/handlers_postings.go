package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

type tellerLoginRequest struct {
	EmployeeID string `json:"employee_id"`
	Password   string `json:"password"`
}

type cashRequest struct {
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type transferRequest struct {
	FromAccountID  string          `json:"from_account_id"`
	ToAccountID    string          `json:"to_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// TellerLoginHandler exchanges a teller's credentials for a signed token.
func (h *Handlers) TellerLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req tellerLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "employee_id and password are required")
		return
	}

	session, err := h.tellers.Login(r.Context(), req.EmployeeID, req.Password)
	if err != nil {
		h.respondError(w, "teller_login", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// PostTransactionHandler commits a debit or credit, optionally against a counterparty.
func (h *Handlers) PostTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PostRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.post(w, r, "post_transaction", req)
}

// DepositHandler credits an account with cash brought into the bank.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.post(w, r, "deposit", req.toPostRequest(domain.TypeCredit))
}

// WithdrawalHandler debits an account for cash leaving the bank.
func (h *Handlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.post(w, r, "withdrawal", req.toPostRequest(domain.TypeDebit))
}

// TransferHandler moves money between two accounts.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.post(w, r, "transfer", domain.PostRequest{
		AccountID:      req.FromAccountID,
		Type:           domain.TypeDebit,
		Amount:         req.Amount,
		CounterpartyID: req.ToAccountID,
		Timestamp:      req.Timestamp,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (r cashRequest) toPostRequest(t domain.TransactionType) domain.PostRequest {
	return domain.PostRequest{
		AccountID:      r.AccountID,
		Type:           t,
		Amount:         r.Amount,
		Timestamp:      r.Timestamp,
		Description:    r.Description,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// post stamps the authenticated teller and the Idempotency-Key header onto req and
// hands it to the poster. New postings answer 201, replays 200.
func (h *Handlers) post(w http.ResponseWriter, r *http.Request, endpoint string, req domain.PostRequest) {
	if tellerID, ok := TellerFromContext(r.Context()); ok {
		req.TellerID = tellerID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.poster.Post(r.Context(), req)
	if err != nil {
		h.respondError(w, endpoint, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toPostResponse(result))
}
