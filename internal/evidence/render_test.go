package evidence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

func sampleTrade() *trade.ClosedTrade {
	pnl := 340.0
	return &trade.ClosedTrade{
		ID:         "trade-1",
		Symbol:     "XYZ",
		Strategy:   "CSP",
		Status:     trade.StatusClosed,
		DTEAtEntry: 30,
		EntryPrice: 2.5,
		ExitPrice:  0.8,
		EntryDate:  time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC),
		ExitDate:   time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		PnL:        &pnl,
		PnLPercent: 40,
	}
}

func TestRenderDeterministic(t *testing.T) {
	enrichment := trade.MarketContext{VolatilityLevel: 42.5, Trend: "uptrend"}

	first := Render(sampleTrade(), enrichment)
	second := Render(sampleTrade(), enrichment)
	assert.Equal(t, first, second)
}

func TestRenderFieldOrder(t *testing.T) {
	got := Render(sampleTrade(), trade.MarketContext{VolatilityLevel: 42.5, Trend: "uptrend"})

	want := strings.Join([]string{
		"strategy: CSP",
		"symbol: XYZ",
		"dte_at_entry: 30",
		"entry_price: 2.50",
		"exit_price: 0.80",
		"entry_date: 2026-01-05",
		"hold_days: 27",
		"volatility_level: 42.50",
		"trend: uptrend",
		"outcome: win",
		"pnl_percent: 40.00",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestRenderLossOutcome(t *testing.T) {
	tr := sampleTrade()
	loss := -120.0
	tr.PnL = &loss
	tr.PnLPercent = -12

	got := Render(tr, trade.MarketContext{})
	assert.Contains(t, got, "outcome: loss")
	assert.Contains(t, got, "pnl_percent: -12.00")
}

func TestRenderCandidateSkipsAbsentFields(t *testing.T) {
	got := RenderCandidate(&trade.Candidate{Symbol: "XYZ", Strategy: "CSP"})
	assert.Equal(t, "strategy: CSP\nsymbol: XYZ", got)
}

func TestRenderCandidateFull(t *testing.T) {
	dte := 30
	price := 2.5
	vol := 42.0
	got := RenderCandidate(&trade.Candidate{
		Symbol:          "XYZ",
		Strategy:        "CSP",
		DTE:             &dte,
		EntryPrice:      &price,
		VolatilityLevel: &vol,
		Trend:           "sideways",
	})

	want := strings.Join([]string{
		"strategy: CSP",
		"symbol: XYZ",
		"dte_at_entry: 30",
		"entry_price: 2.50",
		"volatility_level: 42.00",
		"trend: sideways",
	}, "\n")
	assert.Equal(t, want, got)
}
