package model

// Tier is a subscription tier looked up from the user profile. Anonymous
// callers are always TierFree, keyed by IP.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierUltimate Tier = "ultimate"
	TierElite    Tier = "elite"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierUltimate, TierElite:
		return true
	}
	return false
}

// ParseTier normalizes a stored tier value, falling back to free for
// anything unrecognized.
func ParseTier(s string) Tier {
	t := Tier(s)
	if !t.Valid() {
		return TierFree
	}
	return t
}
