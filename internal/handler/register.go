package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/set-night/subhook/internal/middleware"
)

// Register builds the router with every endpoint mounted.
func (h *Handler) Register() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(), middleware.Recover())

	r.Get("/healthz", h.handleHealth)

	r.Route("/api/payments/wayforpay", func(r chi.Router) {
		webhook := http.HandlerFunc(h.handleWebhook)
		if h.limiter != nil {
			r.With(middleware.RateLimit(h.limiter)).Post("/webhook/", webhook)
		} else {
			r.Post("/webhook/", webhook)
		}
		r.Post("/invoice/", h.handleCreateInvoice)
		r.Get("/return/", h.handleReturn)
	})

	r.Route("/internal/monitoring", func(r chi.Router) {
		r.Use(h.requireMonitoringToken)
		r.Get("/declines", h.handleDeclines)
		r.Get("/bursts", h.handleBursts)
		r.Get("/mismatches", h.handleMismatches)
	})

	return r
}
