package handler

import (
	"net/http"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/internal/service"
)

// OtpHandler handles OTP issuance and verification endpoints.
type OtpHandler struct {
	otp  *service.OtpService
	auth *service.AuthService
}

// NewOtpHandler creates a new OtpHandler.
func NewOtpHandler(otp *service.OtpService, auth *service.AuthService) *OtpHandler {
	return &OtpHandler{otp: otp, auth: auth}
}

// Send handles POST /api/otp/send. The response reports delivery only; the
// code itself is never returned.
func (h *OtpHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendOtpRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.otp.Issue(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// Verify handles POST /api/otp/verify. On success it returns the verified
// identity together with a freshly issued session token.
func (h *OtpHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOtpRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	verified, err := h.otp.Verify(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}

	token, err := h.auth.IssueSession(verified)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, domain.SessionResponse{Token: token, User: *verified})
}
