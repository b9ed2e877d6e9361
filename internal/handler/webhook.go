package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/internal/service"
	"github.com/rs/zerolog/log"
)

// WebhookHandler receives the payment gateway's asynchronous push.
type WebhookHandler struct {
	svc *service.ReconciliationService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *service.ReconciliationService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// webhookEnvelope tolerates the gateway's two observed payload shapes: an
// event wrapper with the payment object under "data", or the payment object
// itself at the top level.
type webhookEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// HandlePayment handles POST /api/payment/webhook. Only the identifier is
// taken from the payload; the pushed status field is never trusted —
// reconciliation re-confirms against the gateway before mutating anything.
// Understood-but-not-actionable outcomes get a 200 so the gateway stops
// retrying a payload it delivered correctly.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var payload webhookEnvelope
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	externalID := payload.Data.ID
	if externalID == "" {
		externalID = payload.ID
	}
	if externalID == "" {
		http.Error(w, "missing payment id", http.StatusBadRequest)
		return
	}

	log.Info().Str("external_id", externalID).Str("event_type", payload.Type).Msg("payment webhook received")

	result, err := h.svc.Reconcile(r.Context(), externalID)
	if err != nil {
		if errors.Is(err, domain.ErrOrphanedConfirmation) {
			// Redelivery cannot fix an orphan; acknowledge and leave it to
			// manual reconciliation.
			JSON(w, http.StatusOK, map[string]string{"error": domain.ErrOrphanedConfirmation.Error()})
			return
		}
		// Transient failures keep their status so the gateway retries.
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}
