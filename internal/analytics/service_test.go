package analytics

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/recstore"
	"github.com/fyrsmithlabs/tradebank/internal/synthesis"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

type stubStore struct {
	decided     int
	accuracy    map[synthesis.Action]recstore.ActionAccuracy
	calibration []recstore.CalibrationBucket
	cited       []string
	err         error
}

func (s *stubStore) DecidedCount(ctx context.Context) (int, error) { return s.decided, s.err }

func (s *stubStore) AccuracyByAction(ctx context.Context) (map[synthesis.Action]recstore.ActionAccuracy, error) {
	return s.accuracy, s.err
}

func (s *stubStore) CalibrationBuckets(ctx context.Context) ([]recstore.CalibrationBucket, error) {
	return s.calibration, s.err
}

func (s *stubStore) CitedEvidenceIDs(ctx context.Context) ([]string, error) {
	return s.cited, s.err
}

type stubEvidenceReader struct {
	docs map[string]*vectorstore.Document
}

func (s *stubEvidenceReader) Get(ctx context.Context, id string) (*vectorstore.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, vectorstore.ErrNotFound
	}
	return doc, nil
}

func evidenceDoc(id string, trust, accuracy float64, refs int) *vectorstore.Document {
	return &vectorstore.Document{
		ID: id,
		Metadata: map[string]any{
			evidence.KeySymbol:          "XYZ",
			evidence.KeyStrategy:        "CSP",
			evidence.KeyTrustWeight:     trust,
			evidence.KeyAccuracyRate:    accuracy,
			evidence.KeyTimesReferenced: refs,
		},
	}
}

func TestReportAccuracyExcludesMonitorFromBinaryAccuracy(t *testing.T) {
	store := &stubStore{
		decided: 6,
		accuracy: map[synthesis.Action]recstore.ActionAccuracy{
			synthesis.ActionTake:    {Total: 4, Correct: 3},
			synthesis.ActionMonitor: {Total: 2, Correct: 2},
		},
	}

	report, err := NewService(store, nil, nil).Report(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, report.DecidedCount)
	require.Len(t, report.ByAction, 2)

	take := report.ByAction[0]
	assert.Equal(t, synthesis.ActionTake, take.Action)
	require.NotNil(t, take.Accuracy)
	assert.InDelta(t, 0.75, *take.Accuracy, 1e-9)

	monitor := report.ByAction[1]
	assert.Equal(t, synthesis.ActionMonitor, monitor.Action)
	assert.Equal(t, 2, monitor.Total)
	assert.Nil(t, monitor.Accuracy, "MONITOR has no binary accuracy")
}

func TestReportCalibration(t *testing.T) {
	store := &stubStore{
		calibration: []recstore.CalibrationBucket{
			{Decile: 8, Total: 10, Correct: 8},
			{Decile: 9, Total: 10, Correct: 4},
		},
	}

	report, err := NewService(store, nil, nil).Report(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Calibration, 2)
	wellCalibrated := report.Calibration[0]
	assert.InDelta(t, 0.8, wellCalibrated.Expected, 1e-9)
	assert.InDelta(t, 0.8, wellCalibrated.Realized, 1e-9)
	assert.False(t, wellCalibrated.Miscalibrated)

	overconfident := report.Calibration[1]
	assert.InDelta(t, 0.9, overconfident.Expected, 1e-9)
	assert.InDelta(t, 0.4, overconfident.Realized, 1e-9)
	assert.True(t, overconfident.Miscalibrated)
}

func TestReportTopEvidenceRanking(t *testing.T) {
	store := &stubStore{cited: []string{"ev-a", "ev-b", "ev-gone"}}
	reader := &stubEvidenceReader{docs: map[string]*vectorstore.Document{
		"ev-a": evidenceDoc("ev-a", 1.5, 0.8, 10),
		"ev-b": evidenceDoc("ev-b", 1.1, 0.9, 2),
	}}

	report, err := NewService(store, reader, nil).Report(context.Background())
	require.NoError(t, err)

	require.Len(t, report.TopEvidence, 2, "records missing from the index are skipped")
	assert.Equal(t, "ev-a", report.TopEvidence[0].EvidenceID)
	assert.InDelta(t, 1.5*0.8*math.Log(11), report.TopEvidence[0].LearningScore, 1e-9)
	assert.Equal(t, "ev-b", report.TopEvidence[1].EvidenceID)
}

func TestReportWithoutEvidenceReader(t *testing.T) {
	report, err := NewService(&stubStore{}, nil, nil).Report(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.TopEvidence)
}

func TestReportStoreError(t *testing.T) {
	store := &stubStore{err: errors.New("database locked")}
	_, err := NewService(store, nil, nil).Report(context.Background())
	assert.Error(t, err)
}
