// Package evidence turns closed trades into indexed evidence records and
// keeps their learning fields alive across re-ingestion.
package evidence

import (
	"time"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

// Metadata keys shared between ingestion, retrieval and the feedback loop.
const (
	KeySymbol          = "symbol"
	KeyStrategy        = "strategy"
	KeyDTEAtEntry      = "dte_at_entry"
	KeyEntryPrice      = "entry_price"
	KeyExitPrice       = "exit_price"
	KeyEntryDate       = "entry_date"
	KeyExitDate        = "exit_date"
	KeyPnL             = "pnl"
	KeyPnLPercent      = "pnl_percent"
	KeyWin             = "win"
	KeyHoldDays        = "hold_days"
	KeyVolatilityLevel = "volatility_level"
	KeyTrend           = "trend"

	KeyTrustWeight     = "trust_weight"
	KeyTimesReferenced = "times_referenced"
	KeyAccuracyRate    = "accuracy_rate"
	KeyVersion         = "version"
)

// Record is one historical trade's evidence view, reconstructed from index
// metadata. The learning fields (TrustWeight, TimesReferenced, AccuracyRate)
// are mutated only by the feedback loop; everything else is immutable after
// ingestion.
type Record struct {
	ID string

	Symbol     string
	Strategy   string
	DTEAtEntry int
	EntryPrice float64
	ExitPrice  float64
	EntryDate  time.Time
	ExitDate   time.Time
	PnL        float64
	PnLPercent float64
	Win        bool
	HoldDays   int

	VolatilityLevel float64
	Trend           string

	TrustWeight     float64
	TimesReferenced int
	AccuracyRate    float64
}

// newMetadata builds the full metadata map for a fresh record.
func newMetadata(t *trade.ClosedTrade, enrichment trade.MarketContext) map[string]any {
	return map[string]any{
		KeySymbol:          t.Symbol,
		KeyStrategy:        t.Strategy,
		KeyDTEAtEntry:      t.DTEAtEntry,
		KeyEntryPrice:      t.EntryPrice,
		KeyExitPrice:       t.ExitPrice,
		KeyEntryDate:       t.EntryDate.UTC().Format(time.RFC3339),
		KeyExitDate:        t.ExitDate.UTC().Format(time.RFC3339),
		KeyPnL:             *t.PnL,
		KeyPnLPercent:      t.PnLPercent,
		KeyWin:             t.Win(),
		KeyHoldDays:        t.HoldDays(),
		KeyVolatilityLevel: enrichment.VolatilityLevel,
		KeyTrend:           enrichment.Trend,

		KeyTrustWeight:     1.0,
		KeyTimesReferenced: 0,
		KeyAccuracyRate:    0.0,
		KeyVersion:         0,
	}
}

// RecordFromMetadata reconstructs a Record from stored index metadata.
// Missing learning fields fall back to their initial values so records
// written before a field existed stay readable.
func RecordFromMetadata(id string, metadata map[string]any) Record {
	r := Record{ID: id, TrustWeight: 1.0}

	r.Symbol, _ = vectorstore.MetadataString(metadata, KeySymbol)
	r.Strategy, _ = vectorstore.MetadataString(metadata, KeyStrategy)
	r.Trend, _ = vectorstore.MetadataString(metadata, KeyTrend)

	if v, ok := vectorstore.MetadataInt(metadata, KeyDTEAtEntry); ok {
		r.DTEAtEntry = int(v)
	}
	if v, ok := vectorstore.MetadataFloat(metadata, KeyEntryPrice); ok {
		r.EntryPrice = v
	}
	if v, ok := vectorstore.MetadataFloat(metadata, KeyExitPrice); ok {
		r.ExitPrice = v
	}
	if v, ok := vectorstore.MetadataFloat(metadata, KeyPnL); ok {
		r.PnL = v
	}
	if v, ok := vectorstore.MetadataFloat(metadata, KeyPnLPercent); ok {
		r.PnLPercent = v
	}
	if v, ok := vectorstore.MetadataInt(metadata, KeyHoldDays); ok {
		r.HoldDays = int(v)
	}
	if v, ok := vectorstore.MetadataFloat(metadata, KeyVolatilityLevel); ok {
		r.VolatilityLevel = v
	}
	if s, ok := vectorstore.MetadataString(metadata, KeyWin); ok {
		r.Win = s == "true"
	} else if b, isBool := metadata[KeyWin].(bool); isBool {
		r.Win = b
	}

	if s, ok := vectorstore.MetadataString(metadata, KeyEntryDate); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			r.EntryDate = t
		}
	}
	if s, ok := vectorstore.MetadataString(metadata, KeyExitDate); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			r.ExitDate = t
		}
	}

	if v, ok := vectorstore.MetadataFloat(metadata, KeyTrustWeight); ok {
		r.TrustWeight = v
	}
	if v, ok := vectorstore.MetadataInt(metadata, KeyTimesReferenced); ok {
		r.TimesReferenced = int(v)
	}
	if v, ok := vectorstore.MetadataFloat(metadata, KeyAccuracyRate); ok {
		r.AccuracyRate = v
	}

	return r
}
