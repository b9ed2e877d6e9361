package domain

import "strings"

// Plan represents a subscription plan sold through the platform.
type Plan struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Tier         string  `json:"tier"` // authoritative, set at plan-authoring time
	PriceSAR     float64 `json:"priceSar"`
	DurationDays int     `json:"durationDays"`
	Popular      bool    `json:"popular"`
}

// premiumPriceSAR is the legacy price threshold above which a plan was assumed
// premium regardless of its name.
const premiumPriceSAR = 150

// InferTier is the legacy tier heuristic, kept only as a compatibility shim for
// plans authored without an explicit tier: substring match on the (possibly
// Arabic) plan name, with a price-threshold override. Conflict reports when the
// two signals disagree, so callers can flag the plan for review instead of
// silently picking one.
func InferTier(name string, priceSAR float64) (tier string, conflict bool) {
	byName := TierBasic
	if strings.Contains(name, "Premium") || strings.Contains(name, "مميز") {
		byName = TierPremium
	}
	byPrice := TierBasic
	if priceSAR > premiumPriceSAR {
		byPrice = TierPremium
	}
	if byName == TierPremium || byPrice == TierPremium {
		return TierPremium, byName != byPrice
	}
	return TierBasic, false
}

// EffectiveTier returns the plan's authored tier, falling back to the legacy
// heuristic when the tier field is unset.
func (p *Plan) EffectiveTier() (tier string, conflict bool) {
	if p.Tier != "" {
		return p.Tier, false
	}
	return InferTier(p.Name, p.PriceSAR)
}

// PlanByID returns the plan for the given ID, or nil if unknown.
func PlanByID(id string) *Plan {
	for _, p := range DefaultPlans() {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

// DefaultPlans returns the seeded plan catalog.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:           "basic-monthly",
			Name:         "الباقة الأساسية",
			Tier:         TierBasic,
			PriceSAR:     99,
			DurationDays: 30,
		},
		{
			ID:           "premium-monthly",
			Name:         "الباقة المميزة",
			Tier:         TierPremium,
			PriceSAR:     199,
			DurationDays: 30,
			Popular:      true,
		},
		{
			ID:           "premium-yearly",
			Name:         "الباقة المميزة السنوية",
			Tier:         TierPremium,
			PriceSAR:     1990,
			DurationDays: 365,
		},
	}
}
