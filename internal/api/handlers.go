/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's read endpoints and
 * the shared error mapping used by every handler.
 *
 * @dependencies
 * - net/http: For HTTP server functionality.
 * - encoding/json: For JSON request bodies.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app: For the poster, query, aggregation and provisioning services.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/store"
	"go.uber.org/zap"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the dependencies for the HTTP handlers.
type Handlers struct {
	poster      *app.Poster
	query       *app.Query
	aggregator  *app.Aggregator
	provisioner *app.Provisioner
	tellers     *app.TellerAuth
	logger      *zap.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(poster *app.Poster, query *app.Query, aggregator *app.Aggregator, provisioner *app.Provisioner, tellers *app.TellerAuth, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		poster:      poster,
		query:       query,
		aggregator:  aggregator,
		provisioner: provisioner,
		tellers:     tellers,
		logger:      logger.With(zap.String("component", "api")),
	}
}

type clientCredentials struct {
	ClientID string `json:"client_id"`
	Password string `json:"password"`
}

type accountLookup struct {
	AccountID string `json:"account_id"`
}

// ProductListHandler returns every product.
func (h *Handlers) ProductListHandler(w http.ResponseWriter, r *http.Request) {
	products := h.query.ProductList(r.Context())
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// BranchListHandler returns every branch.
func (h *Handlers) BranchListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.query.BranchList(r.Context()))
}

// TellerListHandler returns every teller without password material.
func (h *Handlers) TellerListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.query.TellerList(r.Context()))
}

// ClientAccountsHandler returns the accounts of a client after checking its credential.
func (h *Handlers) ClientAccountsHandler(w http.ResponseWriter, r *http.Request) {
	var req clientCredentials
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ClientID) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "client_id and password are required")
		return
	}

	accounts, err := h.query.AccountsForClient(r.Context(), req.ClientID, req.Password)
	if err != nil {
		h.respondError(w, "client_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponses(accounts))
}

// ClientDetailsHandler returns a client's profile together with its accounts.
func (h *Handlers) ClientDetailsHandler(w http.ResponseWriter, r *http.Request) {
	var req clientCredentials
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ClientID) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "client_id and password are required")
		return
	}

	profile, err := h.query.ClientDetails(r.Context(), req.ClientID, req.Password)
	if err != nil {
		h.respondError(w, "client_details", err)
		return
	}
	writeJSON(w, http.StatusOK, clientDetailsResponse{
		Client:   profile.Client,
		Accounts: toAccountResponses(profile.Accounts),
	})
}

// AccountHistoryHandler returns an account's legs split into debit and credit lists.
func (h *Handlers) AccountHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var req accountLookup
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	history, err := h.query.TransactionsForAccount(r.Context(), req.AccountID)
	if err != nil {
		h.respondError(w, "account_history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		AccountID: history.AccountID,
		Debit:     toTransactionResponses(history.Debit),
		Credit:    toTransactionResponses(history.Credit),
	})
}

// AccountTransactionsHandler returns one cursor page of an account's history.
func (h *Handlers) AccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	page, err := h.query.TransactionPage(r.Context(), accountID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.respondError(w, "account_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Items:      toTransactionResponses(page.Items),
		NextCursor: page.NextCursor,
	})
}

// TransactionListHandler returns every committed leg in commit order.
func (h *Handlers) TransactionListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toTransactionResponses(h.query.AllTransactions(r.Context())))
}

// TransactionSummaryHandler returns the global totals.
func (h *Handlers) TransactionSummaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSummaryResponse(h.aggregator.TransactionSummary(r.Context())))
}

// decode reads a JSON body into dst, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondError maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported with a generic message.
func (h *Handlers) respondError(w http.ResponseWriter, endpoint string, err error) {
	status, message := statusFor(err)

	var rateErr *app.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("endpoint", endpoint),
			zap.String("outcome", "error"),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		h.logger.Info("request rejected",
			zap.String("endpoint", endpoint),
			zap.String("outcome", "rejected"),
			zap.Int("status", status),
			zap.String("reason", message),
		)
	}
	writeError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidTransactionType),
		errors.Is(err, app.ErrSameAccount),
		errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, store.ErrInvalidEntry),
		errors.Is(err, store.ErrInvalidCursor):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "Authentication failed"
	case errors.Is(err, app.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, app.ErrUnknownAccount):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, store.ErrClientNotFound):
		return http.StatusNotFound, "Client not found"
	case errors.Is(err, store.ErrProductNotFound):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "Branch not found"
	case errors.Is(err, app.ErrInsufficientFunds):
		return http.StatusConflict, "Insufficient funds"
	case errors.Is(err, app.ErrIdempotencyConflict):
		return http.StatusConflict, "Idempotency key already used for a different request"
	case errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict, "Identifier already in use"
	case errors.Is(err, app.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many postings, slow down"
	case errors.Is(err, store.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Ledger busy, try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
