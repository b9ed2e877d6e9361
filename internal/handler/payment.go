package handler

import (
	"net/http"

	"github.com/baitalqudrat/backend/internal/contextkeys"
	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/internal/service"
)

// PaymentHandler handles checkout, the client-side payment poll, and the
// subscription read.
type PaymentHandler struct {
	svc *service.ReconciliationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc *service.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// CreateCheckout handles POST /api/payment/checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || userID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.CreateIntent(r.Context(), userID, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// VerifyPayment handles POST /api/payment/verify: the poll the completion page
// fires after the user returns from the hosted payment page. The identifier is
// best-effort and may be absent; a still-processing payment is a pending
// result, not an error.
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || userID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.VerifyPaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	result, err := h.svc.ReconcileForUser(r.Context(), userID, req.PaymentID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}

// GetSubscription handles GET /api/payment/subscription.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || userID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	sub, err := h.svc.Subscription(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, sub)
}
