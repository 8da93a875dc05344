/**
 * @description
 * Administrative handlers: provisioning of reference data and accounts, and the
 * on-demand reconciliation of the incremental summary against the ledger.
 * These routes sit behind the internal API key.
 */

package api

import (
	"errors"
	"net/http"

	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"go.uber.org/zap"
)

// CreateClientHandler provisions a client.
func (h *Handlers) CreateClientHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	client, err := h.provisioner.CreateClient(r.Context(), req)
	if err != nil {
		h.respondError(w, "create_client", err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// CreateProductHandler provisions a product.
func (h *Handlers) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.provisioner.CreateProduct(r.Context(), req)
	if err != nil {
		h.respondError(w, "create_product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// CreateBranchHandler provisions a branch.
func (h *Handlers) CreateBranchHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBranchRequest
	if !h.decode(w, r, &req) {
		return
	}
	branch, err := h.provisioner.CreateBranch(r.Context(), req)
	if err != nil {
		h.respondError(w, "create_branch", err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

// CreateAccountHandler opens an account with a zero balance.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	account, err := h.provisioner.CreateAccount(r.Context(), req)
	if err != nil {
		h.respondError(w, "create_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// CreateTellerHandler provisions a teller.
func (h *Handlers) CreateTellerHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTellerRequest
	if !h.decode(w, r, &req) {
		return
	}
	teller, err := h.provisioner.CreateTeller(r.Context(), req)
	if err != nil {
		h.respondError(w, "create_teller", err)
		return
	}
	writeJSON(w, http.StatusCreated, teller)
}

type reconcileResponse struct {
	Transactions int             `json:"transactions"`
	Incremental  summaryResponse `json:"incremental"`
	Scanned      summaryResponse `json:"scanned"`
	Consistent   bool            `json:"consistent"`
	Error        string          `json:"error,omitempty"`
}

// ReconcileHandler compares the incremental summary with a full scan. Drift answers
// 409 with both summaries in the body.
func (h *Handlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.aggregator.Reconcile(r.Context())

	body := reconcileResponse{
		Transactions: report.Transactions,
		Incremental:  toSummaryResponse(report.Incremental),
		Scanned:      toSummaryResponse(report.Scanned),
		Consistent:   report.Consistent,
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, body)
	case errors.Is(err, app.ErrSummaryDrift), errors.Is(err, store.ErrBalanceMismatch):
		h.logger.Warn("reconciliation found drift",
			zap.String("endpoint", "reconcile"),
			zap.String("outcome", "drift"),
			zap.Error(err),
		)
		body.Error = err.Error()
		writeJSON(w, http.StatusConflict, body)
	default:
		h.respondError(w, "reconcile", err)
	}
}
