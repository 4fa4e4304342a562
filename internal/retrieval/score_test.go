package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecencyScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		entry   time.Time
		horizon int
		want    float64
	}{
		{"today", now, 365, 1.0},
		{"half horizon", now.AddDate(0, 0, -182), 365, 1.0 - 182.0/365.0},
		{"at horizon", now.AddDate(0, 0, -365), 365, 0},
		{"beyond horizon", now.AddDate(-2, 0, 0), 365, 0},
		{"future entry clamps to one", now.AddDate(0, 0, 7), 365, 1.0},
		{"zero entry date", time.Time{}, 365, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, recencyScore(tt.entry, now, tt.horizon), 1e-9)
		})
	}
}

func TestOutcomeQuality(t *testing.T) {
	tests := []struct {
		name       string
		pnlPercent float64
		want       float64
	}{
		{"strong win", 40, 0.4},
		{"small win", 5, 0.05},
		{"break even", 0, 0},
		{"loss never negative", -20, 0},
		{"clamped at 100", 250, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, outcomeQuality(tt.pnlPercent), 1e-9)
		})
	}
}

func TestCompositeScore(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, compositeScore(w, 1, 1, 1), 1e-9)
	assert.InDelta(t, 0.5, compositeScore(w, 1, 0, 0), 1e-9)
	assert.InDelta(t, 0.25, compositeScore(w, 0, 1, 0), 1e-9)

	// Equal similarity and recency: outcome quality decides the order.
	win := compositeScore(w, 0.9, 0.5, 0.4)
	loss := compositeScore(w, 0.9, 0.5, 0)
	assert.Greater(t, win, loss)
}
