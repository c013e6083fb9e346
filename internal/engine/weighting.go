package engine

import (
	"time"

	"parimutuel-engine/internal/model"
)

// Multiplier tiers in basis points. Earlier commitment earns a larger share
// of the pool; raw pools, fees and the winning option ignore weighting.
const (
	TierEarly   uint64 = 15000 // first 10% of the window
	TierMid     uint64 = 13000 // up to 30%
	TierLate    uint64 = 11000 // up to 60%
	TierDefault uint64 = 10000
)

// cutoffs splits a market window at 10%, 30% and 60% of its duration.
func cutoffs(start time.Time, duration time.Duration) [3]time.Time {
	return [3]time.Time{
		start.Add(duration / 10),
		start.Add(duration * 3 / 10),
		start.Add(duration * 6 / 10),
	}
}

// TimeMultiplier maps a stake time onto its weighting tier. Each cutoff is
// inclusive.
func TimeMultiplier(at time.Time, m *model.Market) uint64 {
	switch {
	case !at.After(m.Cutoffs[0]):
		return TierEarly
	case !at.After(m.Cutoffs[1]):
		return TierMid
	case !at.After(m.Cutoffs[2]):
		return TierLate
	default:
		return TierDefault
	}
}
