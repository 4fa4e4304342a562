package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/tradebank/internal/retrieval"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

// maxPromptEvidence bounds how many evidence items are rendered into the
// prompt regardless of how many retrieval returned.
const maxPromptEvidence = 10

// AggregateStats summarizes the retrieved evidence set. Computed purely as
// arithmetic over the already-materialized results, no index access.
type AggregateStats struct {
	Count           int     `json:"count"`
	WinRate         float64 `json:"win_rate"`
	MeanPnL         float64 `json:"mean_pnl"`
	MeanPnLPercent  float64 `json:"mean_pnl_percent"`
	BestPnLPercent  float64 `json:"best_pnl_percent"`
	WorstPnLPercent float64 `json:"worst_pnl_percent"`
	MeanHoldDays    float64 `json:"mean_hold_days"`
}

// ComputeStats aggregates the retrieved evidence.
func ComputeStats(results []retrieval.Result) AggregateStats {
	stats := AggregateStats{Count: len(results)}
	if len(results) == 0 {
		return stats
	}

	wins := 0
	stats.BestPnLPercent = results[0].Record.PnLPercent
	stats.WorstPnLPercent = results[0].Record.PnLPercent
	for _, r := range results {
		rec := r.Record
		if rec.Win {
			wins++
		}
		stats.MeanPnL += rec.PnL
		stats.MeanPnLPercent += rec.PnLPercent
		stats.MeanHoldDays += float64(rec.HoldDays)
		if rec.PnLPercent > stats.BestPnLPercent {
			stats.BestPnLPercent = rec.PnLPercent
		}
		if rec.PnLPercent < stats.WorstPnLPercent {
			stats.WorstPnLPercent = rec.PnLPercent
		}
	}

	n := float64(len(results))
	stats.WinRate = float64(wins) / n
	stats.MeanPnL /= n
	stats.MeanPnLPercent /= n
	stats.MeanHoldDays /= n
	return stats
}

// systemInstructions is the fixed framing for the reasoning provider.
const systemInstructions = `You are a trading assistant evaluating a candidate trade against historical evidence from the same symbol and strategy.

Respond with a JSON object containing:
- "action": one of "TAKE", "PASS", "MONITOR"
- "confidence": integer 0-100
- "rationale": why you chose this action, grounded in the evidence
- "evidence_highlights": notable historical trades supporting the verdict (array of strings)
- "risk_factors": what could make this trade go wrong (array of strings)
- "suggested_adjustments": optional tweaks to entry, sizing or timing (array of strings)

Respond ONLY with the JSON object, no additional text.`

// buildPrompt assembles the bounded synthesis prompt: candidate fields, the
// ranked evidence list with scores and outcomes, and the aggregate stats.
func buildPrompt(candidate *trade.Candidate, results []retrieval.Result, stats AggregateStats) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\n## Candidate trade\n")
	fmt.Fprintf(&b, "- symbol: %s\n", candidate.Symbol)
	fmt.Fprintf(&b, "- strategy: %s\n", candidate.Strategy)
	if candidate.DTE != nil {
		fmt.Fprintf(&b, "- days to expiry: %d\n", *candidate.DTE)
	}
	if candidate.EntryPrice != nil {
		fmt.Fprintf(&b, "- entry price: %.2f\n", *candidate.EntryPrice)
	}
	if candidate.VolatilityLevel != nil {
		fmt.Fprintf(&b, "- volatility level: %.2f\n", *candidate.VolatilityLevel)
	}
	if candidate.Trend != "" {
		fmt.Fprintf(&b, "- trend: %s\n", candidate.Trend)
	}

	fmt.Fprintf(&b, "\n## Historical evidence (%d trades, ranked)\n", len(results))
	limit := len(results)
	if limit > maxPromptEvidence {
		limit = maxPromptEvidence
	}
	for i, r := range results[:limit] {
		rec := r.Record
		outcome := "loss"
		if rec.Win {
			outcome = "win"
		}
		fmt.Fprintf(&b, "%d. [score %.3f] %s %s, dte %d, entered %s, held %d days: %s %.2f%%\n",
			i+1, r.CompositeScore, rec.Symbol, rec.Strategy, rec.DTEAtEntry,
			rec.EntryDate.Format("2006-01-02"), rec.HoldDays, outcome, rec.PnLPercent)
	}

	b.WriteString("\n## Aggregate statistics\n")
	fmt.Fprintf(&b, "- trades: %d\n", stats.Count)
	fmt.Fprintf(&b, "- win rate: %.0f%%\n", stats.WinRate*100)
	fmt.Fprintf(&b, "- mean P&L: %.2f (%.2f%%)\n", stats.MeanPnL, stats.MeanPnLPercent)
	fmt.Fprintf(&b, "- best / worst: %.2f%% / %.2f%%\n", stats.BestPnLPercent, stats.WorstPnLPercent)
	fmt.Fprintf(&b, "- mean hold: %.1f days\n", stats.MeanHoldDays)

	return b.String()
}

// parseProviderOutput validates untrusted provider text against the output
// schema. LLMs sometimes wrap JSON in markdown code fences, so those are
// stripped first.
func parseProviderOutput(content string) (*ProviderOutput, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var out ProviderOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}
