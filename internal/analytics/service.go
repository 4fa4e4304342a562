// Package analytics provides read-only aggregation over the recommendation
// store and the evidence learning fields. No mutation; always safe to run
// concurrently with the rest of the pipeline.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/recstore"
	"github.com/fyrsmithlabs/tradebank/internal/synthesis"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

var analyticsTracer = otel.Tracer("tradebank.analytics")

// defaultTopEvidence is how many records the learning leaderboard shows.
const defaultTopEvidence = 10

// Store is the read side of the recommendation store.
type Store interface {
	DecidedCount(ctx context.Context) (int, error)
	AccuracyByAction(ctx context.Context) (map[synthesis.Action]recstore.ActionAccuracy, error)
	CalibrationBuckets(ctx context.Context) ([]recstore.CalibrationBucket, error)
	CitedEvidenceIDs(ctx context.Context) ([]string, error)
}

// EvidenceReader fetches evidence records for the learning leaderboard.
// Optional: without it the report simply omits top evidence.
type EvidenceReader interface {
	Get(ctx context.Context, id string) (*vectorstore.Document, error)
}

// ActionStats is one action's realized accuracy. Accuracy is nil for
// MONITOR, which has no binary correctness signal.
type ActionStats struct {
	Action   synthesis.Action `json:"action"`
	Total    int              `json:"total"`
	Correct  int              `json:"correct"`
	Accuracy *float64         `json:"accuracy,omitempty"`
}

// CalibrationPoint compares a confidence decile against its realized
// correctness rate.
type CalibrationPoint struct {
	Decile        int     `json:"decile"`
	Expected      float64 `json:"expected"`
	Realized      float64 `json:"realized"`
	SampleSize    int     `json:"sample_size"`
	Miscalibrated bool    `json:"miscalibrated"`
}

// TopEvidence is one entry of the learning leaderboard.
type TopEvidence struct {
	EvidenceID      string  `json:"evidence_id"`
	Symbol          string  `json:"symbol"`
	Strategy        string  `json:"strategy"`
	TrustWeight     float64 `json:"trust_weight"`
	AccuracyRate    float64 `json:"accuracy_rate"`
	TimesReferenced int     `json:"times_referenced"`
	LearningScore   float64 `json:"learning_score"`
}

// Report is the full analytics view.
type Report struct {
	DecidedCount int                `json:"decided_count"`
	ByAction     []ActionStats      `json:"by_action"`
	Calibration  []CalibrationPoint `json:"calibration"`
	TopEvidence  []TopEvidence      `json:"top_evidence,omitempty"`
}

// Service aggregates recommendation outcomes.
type Service struct {
	store    Store
	evidence EvidenceReader // may be nil
	logger   *zap.Logger
}

// NewService creates an analytics service. evidenceReader may be nil.
func NewService(store Store, evidenceReader EvidenceReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		evidence: evidenceReader,
		logger:   logger,
	}
}

// Report builds the full analytics view.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	ctx, span := analyticsTracer.Start(ctx, "analytics.Report")
	defer span.End()

	decided, err := s.store.DecidedCount(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	byAction, err := s.accuracyByAction(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	calibration, err := s.calibration(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{
		DecidedCount: decided,
		ByAction:     byAction,
		Calibration:  calibration,
	}

	if s.evidence != nil {
		top, err := s.topEvidence(ctx, defaultTopEvidence)
		if err != nil {
			// The leaderboard is best-effort; the rest of the report stands.
			s.logger.Warn("top evidence unavailable", zap.Error(err))
		} else {
			report.TopEvidence = top
		}
	}

	span.SetStatus(codes.Ok, "success")
	return report, nil
}

func (s *Service) accuracyByAction(ctx context.Context) ([]ActionStats, error) {
	raw, err := s.store.AccuracyByAction(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]ActionStats, 0, len(raw))
	for _, action := range []synthesis.Action{synthesis.ActionTake, synthesis.ActionPass, synthesis.ActionMonitor} {
		acc, ok := raw[action]
		if !ok {
			continue
		}
		st := ActionStats{Action: action, Total: acc.Total, Correct: acc.Correct}
		if action != synthesis.ActionMonitor && acc.Total > 0 {
			a := float64(acc.Correct) / float64(acc.Total)
			st.Accuracy = &a
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func (s *Service) calibration(ctx context.Context) ([]CalibrationPoint, error) {
	buckets, err := s.store.CalibrationBuckets(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]CalibrationPoint, 0, len(buckets))
	for _, b := range buckets {
		if b.Total == 0 {
			continue
		}
		expected := float64(b.Decile) / 10
		realized := float64(b.Correct) / float64(b.Total)
		points = append(points, CalibrationPoint{
			Decile:        b.Decile,
			Expected:      expected,
			Realized:      realized,
			SampleSize:    b.Total,
			Miscalibrated: math.Abs(expected-realized) > 0.2,
		})
	}
	return points, nil
}

// topEvidence ranks cited records by trust_weight * accuracy_rate *
// log(1 + times_referenced).
func (s *Service) topEvidence(ctx context.Context, n int) ([]TopEvidence, error) {
	ids, err := s.store.CitedEvidenceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cited evidence: %w", err)
	}

	entries := make([]TopEvidence, 0, len(ids))
	for _, id := range ids {
		doc, err := s.evidence.Get(ctx, id)
		if err != nil {
			s.logger.Debug("cited evidence missing from index", zap.String("evidence_id", id))
			continue
		}
		rec := evidence.RecordFromMetadata(doc.ID, doc.Metadata)
		entries = append(entries, TopEvidence{
			EvidenceID:      rec.ID,
			Symbol:          rec.Symbol,
			Strategy:        rec.Strategy,
			TrustWeight:     rec.TrustWeight,
			AccuracyRate:    rec.AccuracyRate,
			TimesReferenced: rec.TimesReferenced,
			LearningScore:   rec.TrustWeight * rec.AccuracyRate * math.Log(1+float64(rec.TimesReferenced)),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LearningScore != entries[j].LearningScore {
			return entries[i].LearningScore > entries[j].LearningScore
		}
		return entries[i].EvidenceID < entries[j].EvidenceID
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
