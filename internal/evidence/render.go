package evidence

import (
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

// Render builds the canonical text rendering of a closed trade. The field
// order is fixed so identical inputs always embed identically; changing it
// invalidates every stored vector, so treat it as a persistence format.
func Render(t *trade.ClosedTrade, enrichment trade.MarketContext) string {
	outcome := "loss"
	if t.Win() {
		outcome = "win"
	}

	var b strings.Builder
	writeField(&b, "strategy", t.Strategy)
	writeField(&b, "symbol", t.Symbol)
	writeField(&b, "dte_at_entry", strconv.Itoa(t.DTEAtEntry))
	writeField(&b, "entry_price", formatPrice(t.EntryPrice))
	writeField(&b, "exit_price", formatPrice(t.ExitPrice))
	writeField(&b, "entry_date", t.EntryDate.UTC().Format(time.DateOnly))
	writeField(&b, "hold_days", strconv.Itoa(t.HoldDays()))
	writeField(&b, "volatility_level", formatPrice(enrichment.VolatilityLevel))
	writeField(&b, "trend", enrichment.Trend)
	writeField(&b, "outcome", outcome)
	writeField(&b, "pnl_percent", formatPrice(t.PnLPercent))
	return strings.TrimSuffix(b.String(), "\n")
}

// RenderCandidate renders a candidate in the same field order as Render so
// the query vector lands near comparable historical trades. Absent optional
// fields are skipped entirely rather than rendered as zeros.
func RenderCandidate(c *trade.Candidate) string {
	var b strings.Builder
	writeField(&b, "strategy", c.Strategy)
	writeField(&b, "symbol", c.Symbol)
	if c.DTE != nil {
		writeField(&b, "dte_at_entry", strconv.Itoa(*c.DTE))
	}
	if c.EntryPrice != nil {
		writeField(&b, "entry_price", formatPrice(*c.EntryPrice))
	}
	if c.VolatilityLevel != nil {
		writeField(&b, "volatility_level", formatPrice(*c.VolatilityLevel))
	}
	if c.Trend != "" {
		writeField(&b, "trend", c.Trend)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
