package domain

import "time"

// PaymentIntent is the local shadow of a gateway invoice. ExternalID is the
// gateway-assigned identifier and the idempotency key for reconciliation.
// Status transitions pending -> paid|failed exactly once; both are terminal.
type PaymentIntent struct {
	ExternalID      string    `json:"externalId"`
	UserID          string    `json:"userId"`
	PlanID          string    `json:"planId"`
	AmountHalalas   int64     `json:"amountHalalas"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	GatewayMetadata []byte    `json:"-"` // last raw gateway payload, recovery fallback
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Outcome of the paid transition, recorded at apply time so replayed
	// confirmations report this event's result rather than the subscription's
	// later state.
	AppliedTier      string     `json:"appliedTier,omitempty"`
	AppliedExpiresOn *time.Time `json:"appliedExpiresOn,omitempty"`
}

// PaymentIntent statuses.
const (
	IntentPending = "pending"
	IntentPaid    = "paid"
	IntentFailed  = "failed"
)

// Terminal reports whether the intent has reached a final state.
func (p *PaymentIntent) Terminal() bool {
	return p.Status == IntentPaid || p.Status == IntentFailed
}

// CheckoutRequest is the validated input for starting a purchase.
type CheckoutRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// CheckoutResponse carries the hosted payment page the client is redirected to.
type CheckoutResponse struct {
	PaymentID  string `json:"paymentId"`
	PaymentURL string `json:"paymentUrl"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// VerifyPaymentRequest is the client poll after returning from the hosted page.
// PaymentID is best-effort: it may be empty or a reference the gateway invented.
type VerifyPaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

// ReconciliationResult is the outcome of one Reconcile call. Pending means the
// gateway reports the payment as still in progress: the client should poll
// again, it is not an error.
type ReconciliationResult struct {
	ExternalID string     `json:"paymentId"`
	Status     string     `json:"status"` // pending, paid, failed
	Tier       string     `json:"tier,omitempty"`
	ExpiresOn  *time.Time `json:"expiresOn,omitempty"`
}

// Pending reports whether the payment is still in progress at the gateway.
func (r *ReconciliationResult) Pending() bool {
	return r.Status == IntentPending
}
