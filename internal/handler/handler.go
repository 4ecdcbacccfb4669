package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/middleware"
	"github.com/set-night/subhook/internal/service"
)

type Reconciler interface {
	HandleWebhook(ctx context.Context, body []byte) (*service.Result, error)
}

type CheckoutIssuer interface {
	CreateInvoice(ctx context.Context, req service.CheckoutRequest) (*service.Checkout, error)
	InvoiceStatus(ctx context.Context, orderReference string) (domain.InvoiceStatus, error)
}

type Monitor interface {
	DeclineStats(ctx context.Context, window time.Duration, merchantID *int64) (domain.DeclineStats, error)
	SuccessBursts(ctx context.Context, window time.Duration, threshold int, merchantID *int64) ([]domain.SuccessBurst, error)
	AmountCurrencyMismatches(ctx context.Context, window time.Duration, merchantID *int64) ([]domain.AmountCurrencyMismatch, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies needed by the HTTP endpoints.
type Handler struct {
	reconciler      Reconciler
	checkout        CheckoutIssuer
	monitor         Monitor
	db              Pinger
	limiter         middleware.Limiter
	monitoringToken string
}

// Deps contains all dependencies required to construct a Handler. A nil
// Limiter disables webhook rate limiting.
type Deps struct {
	Reconciler      Reconciler
	Checkout        CheckoutIssuer
	Monitor         Monitor
	DB              Pinger
	Limiter         middleware.Limiter
	MonitoringToken string
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		reconciler:      deps.Reconciler,
		checkout:        deps.Checkout,
		monitor:         deps.Monitor,
		db:              deps.DB,
		limiter:         deps.Limiter,
		monitoringToken: deps.MonitoringToken,
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}
