package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/set-night/subhook/internal/config"
)

type declinesResponse struct {
	Total     int64   `json:"total"`
	Declined  int64   `json:"declined"`
	Ratio     float64 `json:"ratio"`
	Threshold float64 `json:"threshold"`
	Alert     bool    `json:"alert"`
}

type burstResponse struct {
	MerchantID int64 `json:"merchant_id"`
	PayerID    int64 `json:"payer_id"`
	Count      int64 `json:"count"`
}

type mismatchResponse struct {
	InvoiceID       int64   `json:"invoice_id"`
	OrderReference  string  `json:"order_reference"`
	InvoiceAmount   string  `json:"invoice_amount"`
	PayloadAmount   *string `json:"payload_amount"`
	InvoiceCurrency string  `json:"invoice_currency"`
	PayloadCurrency string  `json:"payload_currency"`
}

func (h *Handler) requireMonitoringToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.monitoringToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.monitoringToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleDeclines(w http.ResponseWriter, r *http.Request) {
	q, err := parseMonitoringQuery(r, config.DeclineWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold := config.DeclineRatioThreshold
	if s := r.URL.Query().Get("threshold"); s != "" {
		if threshold, err = strconv.ParseFloat(s, 64); err != nil {
			writeError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
	}

	stats, err := h.monitor.DeclineStats(r.Context(), q.window, q.merchantID)
	if err != nil {
		slog.Error("decline stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, declinesResponse{
		Total:     stats.Total,
		Declined:  stats.Declined,
		Ratio:     stats.Ratio,
		Threshold: threshold,
		Alert:     stats.Total > 0 && stats.Ratio >= threshold,
	})
}

func (h *Handler) handleBursts(w http.ResponseWriter, r *http.Request) {
	q, err := parseMonitoringQuery(r, config.BurstWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold := config.BurstThreshold
	if s := r.URL.Query().Get("threshold"); s != "" {
		if threshold, err = strconv.Atoi(s); err != nil || threshold <= 0 {
			writeError(w, http.StatusBadRequest, "threshold must be a positive integer")
			return
		}
	}

	bursts, err := h.monitor.SuccessBursts(r.Context(), q.window, threshold, q.merchantID)
	if err != nil {
		slog.Error("success bursts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]burstResponse, 0, len(bursts))
	for _, b := range bursts {
		out = append(out, burstResponse{MerchantID: b.MerchantID, PayerID: b.PayerID, Count: b.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMismatches(w http.ResponseWriter, r *http.Request) {
	q, err := parseMonitoringQuery(r, config.MismatchWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	found, err := h.monitor.AmountCurrencyMismatches(r.Context(), q.window, q.merchantID)
	if err != nil {
		slog.Error("amount/currency mismatches failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]mismatchResponse, 0, len(found))
	for _, m := range found {
		resp := mismatchResponse{
			InvoiceID:       m.InvoiceID,
			OrderReference:  m.OrderReference,
			InvoiceAmount:   m.InvoiceAmount.String(),
			InvoiceCurrency: m.InvoiceCurrency,
			PayloadCurrency: m.PayloadCurrency,
		}
		if m.PayloadAmount != nil {
			s := m.PayloadAmount.String()
			resp.PayloadAmount = &s
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type monitoringQuery struct {
	window     time.Duration
	merchantID *int64
}

func parseMonitoringQuery(r *http.Request, defaultWindow time.Duration) (monitoringQuery, error) {
	q := monitoringQuery{window: defaultWindow}
	v := r.URL.Query()
	if s := v.Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return q, errors.New("window must be a positive duration like 30m")
		}
		q.window = d
	}
	if s := v.Get("merchant_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, errors.New("merchant_id must be an integer")
		}
		q.merchantID = &id
	}
	return q, nil
}
