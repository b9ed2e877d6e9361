package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. The subscription fields are embedded
// here and mutated only by the reconciliation core.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"-"` // bcrypt hash, never serialized
	Role          string `json:"role"`
	Phone         string `json:"phone"`
	PhoneVerified bool   `json:"phoneVerified"`

	Subscription SubscriptionState `json:"subscription"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUserID generates a new UUID for a user.
func NewUserID() string {
	return uuid.New().String()
}

// LoginRequest is the validated input for the console login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// LoginResponse is the API response after successful login.
type LoginResponse struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

// LoginUser is the user info returned after login.
type LoginUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// JWTClaims represents the JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

// SessionResponse is returned after OTP verification: the verification result
// plus a freshly issued session. The two are deliberately separate concerns.
type SessionResponse struct {
	Token string       `json:"token"`
	User  VerifiedUser `json:"user"`
}
