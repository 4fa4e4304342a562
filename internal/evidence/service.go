package evidence

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

var evidenceTracer = otel.Tracer("tradebank.evidence")

var (
	// ErrIncompleteTrade indicates an ingestion input without a realized
	// outcome. Rejected, never retried: the retrieval score depends on the
	// outcome fields.
	ErrIncompleteTrade = errors.New("trade is not closed or missing realized P&L")
)

// DefaultBatchGroupSize is how many trades one batch group embeds together.
const DefaultBatchGroupSize = 50

// BatchFailure is one failed item of a batch ingestion.
type BatchFailure struct {
	TradeID string `json:"trade_id"`
	Err     error  `json:"-"`
	Reason  string `json:"reason"`
}

// BatchReport is the partial-success report of a batch ingestion. A failing
// record never aborts the batch; it lands here instead.
type BatchReport struct {
	Ingested []string       `json:"ingested"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// ClosedTradeInput pairs a closed trade with its enrichment snapshot.
type ClosedTradeInput struct {
	Trade      trade.ClosedTrade   `json:"trade"`
	Enrichment trade.MarketContext `json:"enrichment"`
}

// Service ingests closed trades into the evidence index.
type Service struct {
	index     vectorstore.Index
	logger    *zap.Logger
	groupSize int
}

// NewService creates an ingestion service backed by the given index.
func NewService(index vectorstore.Index, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		index:     index,
		logger:    logger,
		groupSize: DefaultBatchGroupSize,
	}
}

// Ingest converts one closed trade into an evidence record and upserts it.
//
// The record is keyed by the source trade's ID, so re-delivering the same
// trade updates the existing record. On re-ingestion the learning fields
// (trust_weight, times_referenced, accuracy_rate, version) are carried over
// from the stored record, never reset.
func (s *Service) Ingest(ctx context.Context, t *trade.ClosedTrade, enrichment trade.MarketContext) (string, error) {
	ctx, span := evidenceTracer.Start(ctx, "evidence.Ingest")
	defer span.End()

	if err := t.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("trade %q: %w", t.ID, err)
	}
	span.SetAttributes(
		attribute.String("trade_id", t.ID),
		attribute.String("symbol", t.Symbol),
		attribute.String("strategy", t.Strategy),
	)

	if t.Status != trade.StatusClosed || t.PnL == nil {
		span.SetStatus(codes.Error, "incomplete trade")
		return "", fmt.Errorf("trade %q: %w", t.ID, ErrIncompleteTrade)
	}

	metadata := newMetadata(t, enrichment)

	existing, err := s.index.Get(ctx, t.ID)
	switch {
	case err == nil:
		for _, key := range []string{KeyTrustWeight, KeyTimesReferenced, KeyAccuracyRate, KeyVersion} {
			if v, ok := existing.Metadata[key]; ok {
				metadata[key] = v
			}
		}
		s.logger.Debug("re-ingesting trade, preserving learning fields",
			zap.String("trade_id", t.ID))
	case errors.Is(err, vectorstore.ErrNotFound):
		// First insert, fresh learning fields.
	default:
		span.RecordError(err)
		return "", fmt.Errorf("checking existing record for trade %q: %w", t.ID, err)
	}

	doc := vectorstore.Document{
		ID:       t.ID,
		Content:  Render(t, enrichment),
		Metadata: metadata,
	}
	if _, err := s.index.Upsert(ctx, []vectorstore.Document{doc}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("indexing trade %q: %w", t.ID, err)
	}

	s.logger.Info("ingested trade evidence",
		zap.String("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("strategy", t.Strategy),
		zap.Bool("win", t.Win()),
	)
	span.SetStatus(codes.Ok, "success")
	return t.ID, nil
}

// IngestBatch ingests trades in fixed-size groups with per-item failure
// isolation. The returned report lists every ingested ID and every failure;
// the error return is reserved for context cancellation.
func (s *Service) IngestBatch(ctx context.Context, inputs []ClosedTradeInput) (*BatchReport, error) {
	ctx, span := evidenceTracer.Start(ctx, "evidence.IngestBatch")
	defer span.End()

	span.SetAttributes(attribute.Int("input_count", len(inputs)))

	report := &BatchReport{}
	for start := 0; start < len(inputs); start += s.groupSize {
		end := start + s.groupSize
		if end > len(inputs) {
			end = len(inputs)
		}
		for i := range inputs[start:end] {
			input := &inputs[start+i]
			if err := ctx.Err(); err != nil {
				span.SetStatus(codes.Error, "canceled")
				return report, fmt.Errorf("batch ingestion canceled: %w", err)
			}
			if _, err := s.Ingest(ctx, &input.Trade, input.Enrichment); err != nil {
				report.Failures = append(report.Failures, BatchFailure{
					TradeID: input.Trade.ID,
					Err:     err,
					Reason:  err.Error(),
				})
				continue
			}
			report.Ingested = append(report.Ingested, input.Trade.ID)
		}
	}

	span.SetAttributes(
		attribute.Int("ingested_count", len(report.Ingested)),
		attribute.Int("failure_count", len(report.Failures)),
	)
	if len(report.Failures) > 0 {
		s.logger.Warn("batch ingestion completed with failures",
			zap.Int("ingested", len(report.Ingested)),
			zap.Int("failed", len(report.Failures)),
		)
	} else {
		s.logger.Info("batch ingestion completed",
			zap.Int("ingested", len(report.Ingested)),
		)
	}
	span.SetStatus(codes.Ok, "success")
	return report, nil
}
