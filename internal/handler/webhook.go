package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/middleware"
)

// handleWebhook answers every notification with the signed acknowledgement
// unless the store failed, so the provider only retries real faults.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxWebhookBodyBytes))
	if err != nil {
		slog.Warn("webhook body unreadable", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		body = nil
	}

	res, err := h.reconciler.HandleWebhook(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, res.Ack)
}
