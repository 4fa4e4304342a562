// Package synthesis turns retrieved evidence into a persisted trade
// recommendation via a generative reasoning provider.
package synthesis

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

var (
	// ErrMalformedOutput indicates provider output that failed schema
	// validation. Handled internally by the degraded fallback, exported for
	// tests and logging.
	ErrMalformedOutput = errors.New("provider output failed schema validation")

	// ErrInvalidAction indicates an action outside {TAKE, PASS, MONITOR}.
	ErrInvalidAction = errors.New("invalid recommendation action")
)

// Action is the recommendation verdict.
type Action string

const (
	// ActionTake recommends entering the candidate trade.
	ActionTake Action = "TAKE"

	// ActionPass recommends skipping the candidate trade.
	ActionPass Action = "PASS"

	// ActionMonitor is the neutral, non-committal verdict. It is also the
	// fallback when evidence is absent or the provider output is unusable.
	ActionMonitor Action = "MONITOR"
)

// Valid reports whether the action is one of the three known verdicts.
func (a Action) Valid() bool {
	switch a {
	case ActionTake, ActionPass, ActionMonitor:
		return true
	}
	return false
}

// EvidenceRef is one (evidence id, composite score) pair consumed by a
// recommendation. The ordered list of these is the binding contract for the
// feedback loop and is stored verbatim.
type EvidenceRef struct {
	EvidenceID     string  `json:"evidence_id"`
	CompositeScore float64 `json:"composite_score"`
}

// ProviderOutput is the fixed output schema the reasoning provider must
// produce. Provider text is untrusted; it is always validated against this
// schema before use.
type ProviderOutput struct {
	Action               Action   `json:"action"`
	Confidence           int      `json:"confidence"`
	Rationale            string   `json:"rationale"`
	EvidenceHighlights   []string `json:"evidence_highlights,omitempty"`
	RiskFactors          []string `json:"risk_factors,omitempty"`
	SuggestedAdjustments []string `json:"suggested_adjustments,omitempty"`
}

// Validate checks the provider output against the schema contract.
func (o *ProviderOutput) Validate() error {
	if !o.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, o.Action)
	}
	if o.Confidence < 0 || o.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d outside [0,100]", ErrMalformedOutput, o.Confidence)
	}
	if o.Rationale == "" {
		return fmt.Errorf("%w: empty rationale", ErrMalformedOutput)
	}
	return nil
}

// Recommendation is one synthesis result.
//
// EvidenceUsed is immutable once created. ActualOutcome is write-once: it
// stays nil until the candidate trade closes, then exactly one outcome
// application sets it together with Correct.
type Recommendation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// CandidateSnapshot freezes the candidate fields at query time.
	CandidateSnapshot trade.Candidate `json:"candidate_snapshot"`

	Action     Action `json:"action"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`

	EvidenceHighlights   []string `json:"evidence_highlights,omitempty"`
	RiskFactors          []string `json:"risk_factors,omitempty"`
	SuggestedAdjustments []string `json:"suggested_adjustments,omitempty"`

	EvidenceUsed []EvidenceRef `json:"evidence_used"`

	// Degraded marks the neutral fallback produced when the provider's
	// output could not be parsed. Distinguishable in storage on purpose.
	Degraded bool `json:"synthesis_degraded"`

	ActualOutcome *trade.RealizedOutcome `json:"actual_outcome,omitempty"`
	Correct       *bool                  `json:"correct,omitempty"`
}
