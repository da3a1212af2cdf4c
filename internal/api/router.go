/**
 * @description
 * This file sets up the HTTP router for the wallet-service. Health and metrics live at the
 * root; the versioned API is mounted under /v1 with bearer-token routes for holders and
 * administrators and API-key routes for other services.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 * - github.com/prometheus/client_golang/prometheus/promhttp: the /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the middleware settings of the router.
type RouterConfig struct {
	Auth           func(http.Handler) http.Handler
	InternalAPIKey string
	AllowedOrigins []string
}

// Routes creates and returns the router for the wallet service.
func Routes(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Internal-API-Key"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Route("/internal/wallets/{holderID}", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
			r.Post("/credits", h.InternalCreditHandler)
			r.Post("/debits", h.InternalDebitHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth)

			r.Get("/wallet", h.GetWalletHandler)
			r.Get("/wallet/balance", h.GetBalanceHandler)
			r.Get("/wallet/transactions", h.ListTransactionsHandler)
			r.Get("/wallet/summary", h.GetAccountSummaryHandler)

			r.Post("/withdrawals", h.CreateWithdrawalHandler)
			r.Get("/withdrawals", h.ListMyWithdrawalsHandler)
			r.Get("/withdrawals/{id}", h.GetWithdrawalHandler)
			r.Post("/withdrawals/{id}/complete", h.CompleteWithdrawalHandler)

			r.Get("/admin/withdrawals", h.ListAllWithdrawalsHandler)
			r.Post("/admin/withdrawals/immediate", h.ImmediateWithdrawalHandler)
			r.Post("/admin/withdrawals/{id}/review", h.ReviewWithdrawalHandler)

			r.Get("/bank-profiles", h.ListBankProfilesHandler)
			r.Post("/bank-profiles", h.CreateBankProfileHandler)
			r.Get("/bank-profiles/primary", h.GetPrimaryBankProfileHandler)
			r.Get("/bank-profiles/{id}", h.GetBankProfileHandler)
			r.Put("/bank-profiles/{id}", h.UpdateBankProfileHandler)
			r.Delete("/bank-profiles/{id}", h.DeleteBankProfileHandler)
			r.Put("/bank-profiles/{id}/primary", h.SetPrimaryBankProfileHandler)
		})
	})

	return r
}
