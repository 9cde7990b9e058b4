package models

// Tier is a loyalty level derived from lifetime points. Tiers only go up.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// tierThresholds is ordered from highest to lowest.
var tierThresholds = []struct {
	min  int64
	tier Tier
}{
	{5000, TierPlatinum},
	{2000, TierGold},
	{500, TierSilver},
	{0, TierBronze},
}

// TierFor returns the tier earned by the given lifetime points.
func TierFor(lifetime int64) Tier {
	for _, t := range tierThresholds {
		if lifetime >= t.min {
			return t.tier
		}
	}
	return TierBronze
}

// Rank orders tiers; unknown tiers rank below bronze.
func (t Tier) Rank() int {
	switch t {
	case TierBronze:
		return 1
	case TierSilver:
		return 2
	case TierGold:
		return 3
	case TierPlatinum:
		return 4
	default:
		return 0
	}
}
