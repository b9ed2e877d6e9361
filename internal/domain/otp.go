package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OtpChallenge is a single issued passcode. Rows are append-only: verification
// flips Verified exactly once, failed matches bump Attempts, and re-issuance
// supersedes older rows without deleting them (they remain as an audit trail).
type OtpChallenge struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"-"` // secret, never serialized
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Verified  bool      `json:"verified"`
	Attempts  int       `json:"attempts"`
}

// MaxOtpAttempts is the failed-match ceiling per phone. Once reached, every
// outstanding challenge for that phone is exhausted until a new one is issued.
const MaxOtpAttempts = 5

// OtpTTL is the validity window of an issued code.
const OtpTTL = 5 * time.Minute

// NewChallengeID generates a new UUID for a challenge.
func NewChallengeID() string {
	return uuid.New().String()
}

// SendOtpRequest is the validated input for issuing a code.
type SendOtpRequest struct {
	Phone string `json:"phone" validate:"required,min=9"`
}

// SendOtpResponse reports delivery without ever exposing the code.
type SendOtpResponse struct {
	Delivered bool `json:"delivered"`
	ExpiresIn int  `json:"expiresIn"` // seconds
}

// VerifyOtpRequest is the validated input for consuming a code.
type VerifyOtpRequest struct {
	Phone string `json:"phone" validate:"required,min=9"`
	Code  string `json:"code" validate:"required,numeric,min=4,max=6"`
}

// VerifiedUser is the result of a successful verification. It is a capability
// ("this phone was just proven"), distinct from the session the auth service
// issues on top of it.
type VerifiedUser struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
}

// NormalizePhone reduces a Saudi phone number to its canonical 966-prefixed
// digit form: strip every non-digit, then replace a leading 0 with the country
// code, or prepend it when missing.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "966"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "966" + digits[1:]
	default:
		return "966" + digits
	}
}
