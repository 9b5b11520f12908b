package ratelimit

import "time"

// Tier is one fixed-window quota. The key space of each tier is separate, so
// a client spending its lead quota does not touch its login quota.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

func GeneralTier() Tier {
	return Tier{Name: "general", Limit: 300, Window: 15 * time.Minute}
}

// SensitiveTier guards login and admin mutations.
func SensitiveTier() Tier {
	return Tier{Name: "sensitive", Limit: 5, Window: time.Hour}
}

// LeadsTier sits between the other two: low enough to deter spam, loose
// enough for a visitor to fix a typo and resubmit.
func LeadsTier() Tier {
	return Tier{Name: "leads", Limit: 3, Window: 15 * time.Minute}
}

// WithOverrides replaces limit and window when the overrides are positive.
func (t Tier) WithOverrides(limit int, window time.Duration) Tier {
	if limit > 0 {
		t.Limit = limit
	}
	if window > 0 {
		t.Window = window
	}
	return t
}

// PerHour is the sustained rate the tier allows, for comparing tiers.
func (t Tier) PerHour() float64 {
	if t.Window <= 0 {
		return 0
	}
	return float64(t.Limit) * float64(time.Hour) / float64(t.Window)
}
