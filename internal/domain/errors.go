package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Confirmation-engine error taxonomy. Sentinels so services and tests can match
// with errors.Is; handlers map them to HTTP codes via WrapTaxonomy.
var (
	// ErrUnknownSubject: the phone number does not belong to a registered account.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrInvalidOrExpiredCode: no outstanding challenge matches phone+code.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrTooManyAttempts: failed-attempt ceiling reached; a new code must be issued.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrAlreadyVerified: the challenge was consumed by a concurrent verify call.
	ErrAlreadyVerified = errors.New("code already verified")
	// ErrInvalidAmount: the minor-unit amount violates the gateway's currency rules.
	ErrInvalidAmount = errors.New("invalid amount for currency")
	// ErrGatewayUnavailable: the external gateway call failed; safe to retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOrphanedConfirmation: a confirmed payment whose owner cannot be resolved.
	// Does not self-heal; needs manual reconciliation.
	ErrOrphanedConfirmation = errors.New("orphaned confirmation")
)

func httpCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownSubject):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidOrExpiredCode), errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAlreadyVerified):
		return http.StatusConflict
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrOrphanedConfirmation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WrapGateway marks a failed external call as GatewayUnavailable, preserving
// the cause. Retryable: reconciliation is idempotent by construction.
func WrapGateway(err error) *AppError {
	return &AppError{
		Code:    http.StatusBadGateway,
		Message: ErrGatewayUnavailable.Error(),
		Err:     fmt.Errorf("%w: %v", ErrGatewayUnavailable, err),
	}
}

// WrapTaxonomy converts a taxonomy sentinel into an AppError with the right
// HTTP status. Anything else becomes a generic 500.
func WrapTaxonomy(err error) *AppError {
	code := httpCodeFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return &AppError{Code: code, Message: msg, Err: err}
}
