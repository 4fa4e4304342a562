package retrieval

import "time"

// Weights are the composite-score mixing weights. They are an operational
// tuning lever, so they come from configuration rather than constants.
type Weights struct {
	Similarity float64
	Recency    float64
	Outcome    float64
}

// DefaultWeights favors similarity while still letting fresh, profitable
// evidence overtake stale matches.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.5, Recency: 0.25, Outcome: 0.25}
}

// recencyScore decays linearly from 1 at age zero to 0 at the horizon.
// Older evidence is never excluded, only down-weighted.
func recencyScore(entryDate, now time.Time, horizonDays int) float64 {
	if entryDate.IsZero() || horizonDays <= 0 {
		return 0
	}
	ageDays := now.Sub(entryDate).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score := 1 - ageDays/float64(horizonDays)
	if score < 0 {
		return 0
	}
	return score
}

// outcomeQuality maps realized percentage return to [0,1]. Losses score 0,
// not negative: a losing trade is uninformative, not anti-informative, so it
// must never invert the ranking.
func outcomeQuality(pnlPercent float64) float64 {
	if pnlPercent <= 0 {
		return 0
	}
	if pnlPercent >= 100 {
		return 1
	}
	return pnlPercent / 100
}

// compositeScore is the pure re-ranking function.
func compositeScore(w Weights, similarity, recency, outcome float64) float64 {
	return w.Similarity*similarity + w.Recency*recency + w.Outcome*outcome
}
