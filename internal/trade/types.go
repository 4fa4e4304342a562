// Package trade defines the trade records exchanged with the data-acquisition
// and alerting pipelines.
//
// ClosedTrade is what the evidence ingestion consumes; Candidate is the new,
// not-yet-closed trade evaluated against the evidence base. Optional fields
// are modeled as pointers so "field absent" is explicit rather than a zero
// value with implied meaning.
package trade

import (
	"errors"
	"time"
)

// Common errors for trade records.
var (
	ErrEmptyTradeID   = errors.New("trade ID cannot be empty")
	ErrEmptySymbol    = errors.New("trade symbol cannot be empty")
	ErrEmptyStrategy  = errors.New("trade strategy cannot be empty")
	ErrInvalidStatus  = errors.New("status must be 'open' or 'closed'")
	ErrMissingPnL     = errors.New("closed trade must carry realized P&L")
	ErrInvalidPercent = errors.New("P&L percent must be finite")
)

// Status represents the lifecycle state of a trade.
type Status string

const (
	// StatusOpen indicates the position is still open.
	StatusOpen Status = "open"

	// StatusClosed indicates the position was closed and P&L is realized.
	StatusClosed Status = "closed"
)

// ClosedTrade is one historical trade as delivered by the evidence source.
type ClosedTrade struct {
	// ID is the source system's stable trade identifier. Evidence records
	// are keyed by it, so re-delivering the same trade updates rather than
	// duplicates.
	ID string `json:"id"`

	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Status   Status `json:"status"`

	// DTEAtEntry is days-to-expiry when the position was opened.
	DTEAtEntry int `json:"dte_at_entry"`

	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`

	// PnL is the realized profit/loss in account currency. Nil means the
	// outcome is not yet known and the trade is not ingestable.
	PnL        *float64 `json:"pnl,omitempty"`
	PnLPercent float64  `json:"pnl_percent"`
}

// Win reports whether the trade closed profitably.
func (t *ClosedTrade) Win() bool {
	return t.PnL != nil && *t.PnL > 0
}

// HoldDays is the hold duration in whole days, never negative.
func (t *ClosedTrade) HoldDays() int {
	if t.ExitDate.Before(t.EntryDate) {
		return 0
	}
	return int(t.ExitDate.Sub(t.EntryDate).Hours() / 24)
}

// Validate checks the fields every trade must carry regardless of status.
func (t *ClosedTrade) Validate() error {
	if t.ID == "" {
		return ErrEmptyTradeID
	}
	if t.Symbol == "" {
		return ErrEmptySymbol
	}
	if t.Strategy == "" {
		return ErrEmptyStrategy
	}
	if t.Status != StatusOpen && t.Status != StatusClosed {
		return ErrInvalidStatus
	}
	return nil
}

// MarketContext is the enrichment snapshot captured alongside a trade.
type MarketContext struct {
	// VolatilityLevel is the volatility-regime indicator (e.g. IV rank).
	VolatilityLevel float64 `json:"volatility_level"`

	// Trend is the market trend label (e.g. "uptrend", "sideways").
	Trend string `json:"trend"`
}

// Candidate is a new trade being evaluated against the evidence base.
//
// Filterable fields that the alert did not supply are nil; the retriever
// omits the corresponding hard filter instead of failing the query.
type Candidate struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`

	DTE             *int     `json:"dte,omitempty"`
	EntryPrice      *float64 `json:"entry_price,omitempty"`
	VolatilityLevel *float64 `json:"volatility_level,omitempty"`
	Trend           string   `json:"trend,omitempty"`
}

// Validate checks the fields a candidate must carry to be evaluated.
func (c *Candidate) Validate() error {
	if c.Symbol == "" {
		return ErrEmptySymbol
	}
	if c.Strategy == "" {
		return ErrEmptyStrategy
	}
	return nil
}

// RealizedOutcome is the eventual result of a candidate trade, fed back to
// close the recommendation loop.
type RealizedOutcome struct {
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	ClosedAt   time.Time `json:"closed_at"`
}
