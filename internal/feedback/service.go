// Package feedback closes the recommendation loop: it records realized
// outcomes and adjusts the trust weights of the evidence that was cited.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/synthesis"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

var feedbackTracer = otel.Tracer("tradebank.feedback")

var (
	// ErrConcurrentUpdate indicates a per-record weight update exhausted its
	// retries. The outcome itself is already recorded; the failed records
	// are listed in the report for reconciliation.
	ErrConcurrentUpdate = errors.New("concurrent evidence update exhausted retries")
)

// RecommendationStore is the persistence dependency of the feedback loop.
type RecommendationStore interface {
	Get(ctx context.Context, id string) (*synthesis.Recommendation, error)

	// SetOutcome must be write-once per recommendation and reject repeat
	// applications with an error.
	SetOutcome(ctx context.Context, id string, outcome trade.RealizedOutcome, correct *bool) error
}

// Config holds the learning parameters.
type Config struct {
	// Delta is the per-event trust-weight nudge.
	Delta float64

	// Alpha is the EWMA coefficient for accuracy_rate.
	Alpha float64

	// MinTrust and MaxTrust bound trust_weight so no single record can
	// dominate or be permanently zeroed.
	MinTrust float64
	MaxTrust float64

	// UpdateRetries bounds immediate retries on per-record conflicts.
	UpdateRetries int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Delta == 0 {
		c.Delta = 0.05
	}
	if c.Alpha == 0 {
		c.Alpha = 0.2
	}
	if c.MinTrust == 0 {
		c.MinTrust = 0.1
	}
	if c.MaxTrust == 0 {
		c.MaxTrust = 3.0
	}
	if c.UpdateRetries == 0 {
		c.UpdateRetries = 5
	}
}

// UpdateFailure is one evidence record whose weight update failed.
type UpdateFailure struct {
	EvidenceID string `json:"evidence_id"`
	Reason     string `json:"reason"`
}

// OutcomeReport describes what one ApplyOutcome call actually did. When
// Failed is non-empty the outcome is recorded but some cited records were
// not reweighted; those need reconciliation, not a blind retry.
type OutcomeReport struct {
	RecommendationID string          `json:"recommendation_id"`
	Correct          *bool           `json:"correct,omitempty"`
	Updated          []string        `json:"updated"`
	Failed           []UpdateFailure `json:"failed,omitempty"`
}

// Service applies realized outcomes to recommendations and their evidence.
type Service struct {
	store  RecommendationStore
	index  vectorstore.Index
	config Config
	logger *zap.Logger
}

// NewService creates a feedback service.
func NewService(store RecommendationStore, index vectorstore.Index, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Service{
		store:  store,
		index:  index,
		config: config,
		logger: logger,
	}
}

// judge applies the explicit correctness rule: TAKE is correct iff realized
// P&L > 0, PASS iff P&L <= 0, MONITOR is always correct.
func judge(action synthesis.Action, outcome trade.RealizedOutcome) bool {
	switch action {
	case synthesis.ActionTake:
		return outcome.PnL > 0
	case synthesis.ActionPass:
		return outcome.PnL <= 0
	default:
		return true
	}
}

// ApplyOutcome records the realized outcome of a recommendation and nudges
// the trust weight of every cited evidence record.
//
// The outcome write is the idempotence guard: a second call for the same
// recommendation fails at the store with the outcome untouched and no
// evidence reweighted. The per-record updates that follow are independent
// atomic updates, not a cross-record transaction; failures are collected in
// the report and surfaced as ErrConcurrentUpdate.
func (s *Service) ApplyOutcome(ctx context.Context, recommendationID string, outcome trade.RealizedOutcome) (*OutcomeReport, error) {
	ctx, span := feedbackTracer.Start(ctx, "feedback.ApplyOutcome")
	defer span.End()

	span.SetAttributes(attribute.String("recommendation_id", recommendationID))

	rec, err := s.store.Get(ctx, recommendationID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	correct := judge(rec.Action, outcome)
	report := &OutcomeReport{
		RecommendationID: recommendationID,
		Correct:          &correct,
	}

	if err := s.store.SetOutcome(ctx, recommendationID, outcome, &correct); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("outcome recorded",
		zap.String("recommendation_id", recommendationID),
		zap.String("action", string(rec.Action)),
		zap.Float64("pnl", outcome.PnL),
		zap.Bool("correct", correct),
	)

	// MONITOR is a neutral verdict with no binary learning signal; it is
	// recorded but never reweights evidence.
	if rec.Action == synthesis.ActionMonitor {
		span.SetStatus(codes.Ok, "success")
		return report, nil
	}

	for _, ref := range rec.EvidenceUsed {
		if err := s.updateEvidence(ctx, ref.EvidenceID, correct); err != nil {
			report.Failed = append(report.Failed, UpdateFailure{
				EvidenceID: ref.EvidenceID,
				Reason:     err.Error(),
			})
			s.logger.Error("evidence weight update failed",
				zap.String("recommendation_id", recommendationID),
				zap.String("evidence_id", ref.EvidenceID),
				zap.Error(err),
			)
			continue
		}
		report.Updated = append(report.Updated, ref.EvidenceID)
	}

	span.SetAttributes(
		attribute.Int("updated_count", len(report.Updated)),
		attribute.Int("failed_count", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, "partial evidence update")
		s.logger.Warn("outcome partially applied, needs reconciliation",
			zap.String("recommendation_id", recommendationID),
			zap.Int("updated", len(report.Updated)),
			zap.Int("failed", len(report.Failed)),
		)
		return report, fmt.Errorf("recommendation %s: %w", recommendationID, ErrConcurrentUpdate)
	}

	span.SetStatus(codes.Ok, "success")
	return report, nil
}

// updateEvidence applies the bounded trust nudge and the EWMA accuracy
// update to one record, retrying immediately on version conflicts.
func (s *Service) updateEvidence(ctx context.Context, evidenceID string, correct bool) error {
	step := s.config.Delta
	flag := 1.0
	if !correct {
		step = -s.config.Delta
		flag = 0.0
	}

	var err error
	for attempt := 0; attempt < s.config.UpdateRetries; attempt++ {
		err = s.index.UpdateMetadata(ctx, evidenceID, func(metadata map[string]any) map[string]any {
			trust, ok := vectorstore.MetadataFloat(metadata, evidence.KeyTrustWeight)
			if !ok {
				trust = 1.0
			}
			accuracy, _ := vectorstore.MetadataFloat(metadata, evidence.KeyAccuracyRate)

			metadata[evidence.KeyTrustWeight] = clamp(trust+step, s.config.MinTrust, s.config.MaxTrust)
			metadata[evidence.KeyAccuracyRate] = s.config.Alpha*flag + (1-s.config.Alpha)*accuracy
			return metadata
		})
		if err == nil || !errors.Is(err, vectorstore.ErrUpdateConflict) {
			return err
		}
	}
	return fmt.Errorf("evidence %s: %w", evidenceID, ErrConcurrentUpdate)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
