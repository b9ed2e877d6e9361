package contextkeys

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// UserID is the context key for the authenticated user's ID.
	UserID contextKey = "userID"
	// UserPhone is the context key for the authenticated user's phone.
	UserPhone contextKey = "userPhone"
	// UserRole is the context key for the authenticated user's role.
	UserRole contextKey = "userRole"
)
