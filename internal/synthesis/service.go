package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/retrieval"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

var synthesisTracer = otel.Tracer("tradebank.synthesis")

// Fallback confidence levels. The zero-evidence verdict is deliberately
// weaker than the degraded-parse one: no evidence says nothing about the
// trade, a failed parse at least had evidence behind it.
const (
	zeroEvidenceConfidence = 30
	degradedConfidence     = 50
)

// EvidenceRetriever is the retrieval dependency of the synthesizer.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, candidate *trade.Candidate, k int) ([]retrieval.Result, error)
}

// Store persists recommendations at synthesis time.
type Store interface {
	Save(ctx context.Context, rec *Recommendation) error
}

// Config holds synthesis tuning parameters.
type Config struct {
	// TopK is how much evidence is retrieved per candidate.
	TopK int

	// MaxTokens bounds the provider completion.
	MaxTokens int

	// UpdateRetries bounds immediate retries on reference-count conflicts.
	UpdateRetries int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.UpdateRetries == 0 {
		c.UpdateRetries = 5
	}
}

// Service synthesizes recommendations from retrieved evidence.
type Service struct {
	retriever EvidenceRetriever
	reasoner  Reasoner
	store     Store
	index     vectorstore.Index
	config    Config
	logger    *zap.Logger
}

// NewService creates a synthesizer.
func NewService(retriever EvidenceRetriever, reasoner Reasoner, store Store, index vectorstore.Index, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Service{
		retriever: retriever,
		reasoner:  reasoner,
		store:     store,
		index:     index,
		config:    config,
		logger:    logger,
	}
}

// Synthesize evaluates a candidate against the evidence base and persists
// the resulting recommendation.
//
// Provider failures never propagate to the caller: after retries the service
// falls back to a neutral MONITOR verdict marked as degraded. Zero matching
// evidence is likewise a valid outcome, not an error.
func (s *Service) Synthesize(ctx context.Context, candidate *trade.Candidate) (*Recommendation, error) {
	ctx, span := synthesisTracer.Start(ctx, "synthesis.Synthesize")
	defer span.End()

	if err := candidate.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid candidate: %w", err)
	}
	span.SetAttributes(
		attribute.String("symbol", candidate.Symbol),
		attribute.String("strategy", candidate.Strategy),
	)

	results, err := s.retriever.Retrieve(ctx, candidate, s.config.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieving evidence: %w", err)
	}

	rec := &Recommendation{
		ID:                uuid.NewString(),
		CreatedAt:         time.Now().UTC(),
		CandidateSnapshot: *candidate,
		EvidenceUsed:      evidenceRefs(results),
	}

	if len(results) == 0 {
		rec.Action = ActionMonitor
		rec.Confidence = zeroEvidenceConfidence
		rec.Rationale = fmt.Sprintf("no comparable historical evidence found for %s %s; monitoring until an evidence base exists",
			candidate.Symbol, candidate.Strategy)
		s.logger.Info("synthesizing without evidence",
			zap.String("recommendation_id", rec.ID),
			zap.String("symbol", candidate.Symbol),
			zap.String("strategy", candidate.Strategy),
		)
	} else {
		stats := ComputeStats(results)
		s.applyProviderVerdict(ctx, rec, candidate, results, stats)
	}

	if err := s.store.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persisting recommendation %s: %w", rec.ID, err)
	}

	s.incrementReferences(ctx, rec)

	span.SetAttributes(
		attribute.String("recommendation_id", rec.ID),
		attribute.String("action", string(rec.Action)),
		attribute.Int("confidence", rec.Confidence),
		attribute.Int("evidence_count", len(rec.EvidenceUsed)),
		attribute.Bool("degraded", rec.Degraded),
	)
	span.SetStatus(codes.Ok, "success")
	return rec, nil
}

// applyProviderVerdict invokes the reasoning provider and fills in the
// verdict fields, degrading to a neutral MONITOR on unusable output.
func (s *Service) applyProviderVerdict(ctx context.Context, rec *Recommendation, candidate *trade.Candidate, results []retrieval.Result, stats AggregateStats) {
	prompt := buildPrompt(candidate, results, stats)

	raw, err := s.reasoner.Reason(ctx, prompt, s.config.MaxTokens)
	if err == nil {
		var out *ProviderOutput
		out, err = parseProviderOutput(raw)
		if err == nil {
			rec.Action = out.Action
			rec.Confidence = out.Confidence
			rec.Rationale = out.Rationale
			rec.EvidenceHighlights = out.EvidenceHighlights
			rec.RiskFactors = out.RiskFactors
			rec.SuggestedAdjustments = out.SuggestedAdjustments
			return
		}
	}

	rec.Action = ActionMonitor
	rec.Confidence = degradedConfidence
	rec.Rationale = "automatic parsing of the reasoning provider's response failed; defaulting to a neutral monitoring verdict"
	rec.Degraded = true
	s.logger.Warn("provider output unusable, degrading to neutral verdict",
		zap.String("recommendation_id", rec.ID),
		zap.Error(err),
	)
}

// incrementReferences bumps times_referenced on every cited evidence record.
// Conflicts retry immediately; a record that still fails is logged with its
// ID for reconciliation rather than failing the synthesis.
func (s *Service) incrementReferences(ctx context.Context, rec *Recommendation) {
	for _, ref := range rec.EvidenceUsed {
		var err error
		for attempt := 0; attempt < s.config.UpdateRetries; attempt++ {
			err = s.index.UpdateMetadata(ctx, ref.EvidenceID, func(metadata map[string]any) map[string]any {
				count, _ := vectorstore.MetadataInt(metadata, evidence.KeyTimesReferenced)
				metadata[evidence.KeyTimesReferenced] = count + 1
				return metadata
			})
			if err == nil || !errors.Is(err, vectorstore.ErrUpdateConflict) {
				break
			}
		}
		if err != nil {
			s.logger.Error("failed to increment evidence reference count",
				zap.String("recommendation_id", rec.ID),
				zap.String("evidence_id", ref.EvidenceID),
				zap.Error(err),
			)
		}
	}
}

func evidenceRefs(results []retrieval.Result) []EvidenceRef {
	refs := make([]EvidenceRef, len(results))
	for i, r := range results {
		refs[i] = EvidenceRef{
			EvidenceID:     r.Record.ID,
			CompositeScore: r.CompositeScore,
		}
	}
	return refs
}
