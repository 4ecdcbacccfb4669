package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/service"
)

type createInvoiceRequest struct {
	BotID  int64  `json:"bot_id"`
	UserID int64  `json:"user_id"`
	PlanID int64  `json:"plan_id"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
}

type createInvoiceResponse struct {
	OK             bool   `json:"ok"`
	InvoiceURL     string `json:"invoiceUrl"`
	OrderReference string `json:"orderReference"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.BotID <= 0 || req.UserID <= 0 || req.PlanID <= 0 {
		writeError(w, http.StatusBadRequest, "bot_id, user_id and plan_id are required")
		return
	}

	co, err := h.checkout.CreateInvoice(r.Context(), service.CheckoutRequest{
		MerchantID: req.BotID,
		PayerID:    req.UserID,
		PlanID:     req.PlanID,
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
	})
	if err != nil {
		status := checkoutErrorStatus(err)
		slog.Warn("invoice creation failed",
			"bot_id", req.BotID, "user_id", req.UserID, "plan_id", req.PlanID,
			"status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, createInvoiceResponse{
		OK:             true,
		InvoiceURL:     co.InvoiceURL,
		OrderReference: co.OrderReference,
		Amount:         co.Amount.StringFixed(2),
		Currency:       co.Currency,
	})
}

func checkoutErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrPersistenceFault):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrPlanNotFound),
		errors.Is(err, domain.ErrPlanDisabled),
		errors.Is(err, domain.ErrInvalidDuration):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

type returnResponse struct {
	Status         string `json:"status"`
	OrderReference string `json:"orderReference,omitempty"`
}

// handleReturn reports the invoice state to the page the payer lands on
// after checkout.
func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("orderReference"))
	if ref == "" {
		writeJSON(w, http.StatusOK, returnResponse{Status: "error"})
		return
	}

	st, err := h.checkout.InvoiceStatus(r.Context(), ref)
	switch {
	case errors.Is(err, domain.ErrInvoiceNotFound):
		writeJSON(w, http.StatusOK, returnResponse{Status: "error", OrderReference: ref})
	case err != nil:
		slog.Error("return status lookup failed", "order_reference", ref, "error", err)
		writeJSON(w, http.StatusOK, returnResponse{Status: "error", OrderReference: ref})
	case st == domain.InvoiceStatusApproved:
		writeJSON(w, http.StatusOK, returnResponse{Status: "success", OrderReference: ref})
	default:
		writeJSON(w, http.StatusOK, returnResponse{Status: "pending", OrderReference: ref})
	}
}
