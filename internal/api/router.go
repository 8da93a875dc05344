/**
 * @description
 * HTTP router setup for the ledger-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries what the router needs besides the handlers.
type RouterConfig struct {
	InternalAPIKey string
	AllowedOrigins []string
	Tokens         TokenVerifier
	Metrics        http.Handler
	Logger         *zap.Logger
}

// NewRouter creates a new Chi router and registers the ledger routes.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ledger service is healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/account", func(r chi.Router) {
		r.Get("/products", h.ProductListHandler)
		r.Get("/branches", h.BranchListHandler)
		r.Get("/tellers", h.TellerListHandler)
		r.Post("/clients/accounts", h.ClientAccountsHandler)
		r.Post("/clients/details", h.ClientDetailsHandler)
		r.Post("/transactions/history", h.AccountHistoryHandler)
		r.Get("/accounts/{accountID}/transactions", h.AccountTransactionsHandler)
		r.Get("/transactions", h.TransactionListHandler)
		r.Get("/transactions/summary", h.TransactionSummaryHandler)
		r.Post("/tellers/login", h.TellerLoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(TellerAuthMiddleware(cfg.Tokens))
			r.Post("/transactions", h.PostTransactionHandler)
			r.Post("/deposits", h.DepositHandler)
			r.Post("/withdrawals", h.WithdrawalHandler)
			r.Post("/transfers", h.TransferHandler)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/clients", h.CreateClientHandler)
		r.Post("/products", h.CreateProductHandler)
		r.Post("/branches", h.CreateBranchHandler)
		r.Post("/accounts", h.CreateAccountHandler)
		r.Post("/tellers", h.CreateTellerHandler)
		r.Post("/reconcile", h.ReconcileHandler)
	})

	return r
}
