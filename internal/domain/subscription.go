package domain

import "time"

// Subscription tiers.
const (
	TierNone    = "none"
	TierBasic   = "basic"
	TierPremium = "premium"
)

// Subscription statuses.
const (
	SubInactive = "inactive"
	SubActive   = "active"
)

// SubscriptionState is the per-user subscription record, embedded in the user
// row and written only by the reconciliation core. Active means ExpiresOn was
// in the future at the moment it was last written; a separate scheduled sweep
// demotes stale rows.
type SubscriptionState struct {
	Tier      string     `json:"tier"`
	Status    string     `json:"status"`
	ExpiresOn *time.Time `json:"expiresOn,omitempty"` // date, inclusive
}

// ActiveAt reports whether the subscription is active with time remaining at t.
func (s *SubscriptionState) ActiveAt(t time.Time) bool {
	return s.Status == SubActive && s.ExpiresOn != nil && s.ExpiresOn.After(t)
}

// NextExpiry computes the expiry after a purchase of durationDays. A renewal of
// a still-active subscription extends from the current expiry so the user keeps
// unused days; otherwise the clock starts today.
func (s *SubscriptionState) NextExpiry(today time.Time, durationDays int) time.Time {
	base := today
	if s.ActiveAt(today) {
		base = *s.ExpiresOn
	}
	return base.AddDate(0, 0, durationDays)
}
