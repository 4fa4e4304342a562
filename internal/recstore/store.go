// Package recstore persists recommendations in SQLite.
//
// The relational store is the system of record for the feedback loop: the
// evidence_used list is stored verbatim as ordered JSON, and the realized
// outcome columns are write-once.
package recstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/tradebank/internal/synthesis"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

var (
	// ErrNotFound is returned when a recommendation does not exist.
	ErrNotFound = errors.New("recommendation not found")

	// ErrOutcomeAlreadyApplied indicates a second outcome application for
	// the same recommendation. The first write wins; never overwritten.
	ErrOutcomeAlreadyApplied = errors.New("outcome already applied")
)

const schema = `
CREATE TABLE IF NOT EXISTS recommendations (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	candidate_snapshot TEXT NOT NULL,
	action TEXT NOT NULL,
	confidence INTEGER NOT NULL,
	rationale TEXT NOT NULL,
	evidence_highlights TEXT,
	risk_factors TEXT,
	suggested_adjustments TEXT,
	evidence_used TEXT NOT NULL,
	degraded INTEGER NOT NULL DEFAULT 0,
	outcome_pnl REAL,
	outcome_pnl_percent REAL,
	outcome_closed_at TEXT,
	correct INTEGER
);

CREATE INDEX IF NOT EXISTS idx_recommendations_action ON recommendations(action);
CREATE INDEX IF NOT EXISTS idx_recommendations_created_at ON recommendations(created_at);
`

// Store is a SQLite-backed recommendation store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (and migrates) the recommendation database at path.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("recommendation store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a new recommendation.
func (s *Store) Save(ctx context.Context, rec *synthesis.Recommendation) error {
	candidate, err := json.Marshal(rec.CandidateSnapshot)
	if err != nil {
		return fmt.Errorf("marshaling candidate snapshot: %w", err)
	}
	evidenceUsed, err := json.Marshal(rec.EvidenceUsed)
	if err != nil {
		return fmt.Errorf("marshaling evidence_used: %w", err)
	}
	highlights, _ := json.Marshal(rec.EvidenceHighlights)
	risks, _ := json.Marshal(rec.RiskFactors)
	adjustments, _ := json.Marshal(rec.SuggestedAdjustments)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recommendations (
			id, created_at, candidate_snapshot, action, confidence, rationale,
			evidence_highlights, risk_factors, suggested_adjustments,
			evidence_used, degraded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		string(candidate),
		string(rec.Action),
		rec.Confidence,
		rec.Rationale,
		string(highlights),
		string(risks),
		string(adjustments),
		string(evidenceUsed),
		boolToInt(rec.Degraded),
	)
	if err != nil {
		return fmt.Errorf("inserting recommendation %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns a recommendation by ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*synthesis.Recommendation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, candidate_snapshot, action, confidence, rationale,
		       evidence_highlights, risk_factors, suggested_adjustments,
		       evidence_used, degraded,
		       outcome_pnl, outcome_pnl_percent, outcome_closed_at, correct
		FROM recommendations WHERE id = ?`, id)

	rec, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading recommendation %s: %w", id, err)
	}
	return rec, nil
}

// SetOutcome records the realized outcome of a recommendation. Write-once:
// a second call for the same ID returns ErrOutcomeAlreadyApplied.
func (s *Store) SetOutcome(ctx context.Context, id string, outcome trade.RealizedOutcome, correct *bool) error {
	var correctVal any
	if correct != nil {
		correctVal = boolToInt(*correct)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendations
		SET outcome_pnl = ?, outcome_pnl_percent = ?, outcome_closed_at = ?, correct = ?
		WHERE id = ? AND outcome_closed_at IS NULL`,
		outcome.PnL,
		outcome.PnLPercent,
		outcome.ClosedAt.UTC().Format(time.RFC3339),
		correctVal,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating outcome for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking outcome update for %s: %w", id, err)
	}
	if affected == 0 {
		// Either the row does not exist or the outcome was already set.
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recommendations WHERE id = ?`, id)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("checking recommendation %s: %w", id, err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %s", ErrOutcomeAlreadyApplied, id)
	}
	return nil
}

// DecidedCount returns how many recommendations have a recorded outcome.
func (s *Store) DecidedCount(ctx context.Context) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recommendations WHERE outcome_closed_at IS NOT NULL`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting decided recommendations: %w", err)
	}
	return count, nil
}

// AccuracyByAction returns, per action, total recommendations with a
// recorded outcome and how many of those were judged correct. MONITOR rows
// appear in the totals but are excluded from binary accuracy by the caller.
func (s *Store) AccuracyByAction(ctx context.Context) (map[synthesis.Action]ActionAccuracy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, COUNT(*), COALESCE(SUM(correct), 0)
		FROM recommendations
		WHERE outcome_closed_at IS NOT NULL
		GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("querying accuracy by action: %w", err)
	}
	defer rows.Close()

	result := make(map[synthesis.Action]ActionAccuracy)
	for rows.Next() {
		var action string
		var acc ActionAccuracy
		if err := rows.Scan(&action, &acc.Total, &acc.Correct); err != nil {
			return nil, fmt.Errorf("scanning accuracy row: %w", err)
		}
		result[synthesis.Action(action)] = acc
	}
	return result, rows.Err()
}

// ActionAccuracy is one action's decided/correct counts.
type ActionAccuracy struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// CalibrationBucket is one confidence decile's realized correctness.
type CalibrationBucket struct {
	Decile  int `json:"decile"` // 0-10: confidence rounded to nearest ten
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// CalibrationBuckets groups decided non-MONITOR recommendations by rounded
// confidence decile. A well-calibrated confidence score has realized
// correctness tracking the decile.
func (s *Store) CalibrationBuckets(ctx context.Context) ([]CalibrationBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CAST((confidence + 5) / 10 AS INTEGER) AS decile,
		       COUNT(*), COALESCE(SUM(correct), 0)
		FROM recommendations
		WHERE outcome_closed_at IS NOT NULL AND action != 'MONITOR'
		GROUP BY decile
		ORDER BY decile`)
	if err != nil {
		return nil, fmt.Errorf("querying calibration buckets: %w", err)
	}
	defer rows.Close()

	var buckets []CalibrationBucket
	for rows.Next() {
		var b CalibrationBucket
		if err := rows.Scan(&b.Decile, &b.Total, &b.Correct); err != nil {
			return nil, fmt.Errorf("scanning calibration row: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// CitedEvidenceIDs returns the distinct evidence IDs referenced by any
// stored recommendation, in first-seen order.
func (s *Store) CitedEvidenceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT evidence_used FROM recommendations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying evidence usage: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var ids []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning evidence usage row: %w", err)
		}
		var refs []synthesis.EvidenceRef
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			continue
		}
		for _, ref := range refs {
			if _, ok := seen[ref.EvidenceID]; ok {
				continue
			}
			seen[ref.EvidenceID] = struct{}{}
			ids = append(ids, ref.EvidenceID)
		}
	}
	return ids, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row rowScanner) (*synthesis.Recommendation, error) {
	var (
		rec         synthesis.Recommendation
		createdAt   string
		candidate   string
		action      string
		highlights  sql.NullString
		risks       sql.NullString
		adjustments sql.NullString
		evidence    string
		degraded    int
		pnl         sql.NullFloat64
		pnlPercent  sql.NullFloat64
		closedAt    sql.NullString
		correct     sql.NullInt64
	)

	if err := row.Scan(
		&rec.ID, &createdAt, &candidate, &action, &rec.Confidence, &rec.Rationale,
		&highlights, &risks, &adjustments, &evidence, &degraded,
		&pnl, &pnlPercent, &closedAt, &correct,
	); err != nil {
		return nil, err
	}

	rec.Action = synthesis.Action(action)
	rec.Degraded = degraded != 0

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if err := json.Unmarshal([]byte(candidate), &rec.CandidateSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshaling candidate snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(evidence), &rec.EvidenceUsed); err != nil {
		return nil, fmt.Errorf("unmarshaling evidence_used: %w", err)
	}
	if highlights.Valid {
		_ = json.Unmarshal([]byte(highlights.String), &rec.EvidenceHighlights)
	}
	if risks.Valid {
		_ = json.Unmarshal([]byte(risks.String), &rec.RiskFactors)
	}
	if adjustments.Valid {
		_ = json.Unmarshal([]byte(adjustments.String), &rec.SuggestedAdjustments)
	}

	if closedAt.Valid {
		outcome := &trade.RealizedOutcome{}
		if t, err := time.Parse(time.RFC3339, closedAt.String); err == nil {
			outcome.ClosedAt = t
		}
		if pnl.Valid {
			outcome.PnL = pnl.Float64
		}
		if pnlPercent.Valid {
			outcome.PnLPercent = pnlPercent.Float64
		}
		rec.ActualOutcome = outcome
	}
	if correct.Valid {
		c := correct.Int64 != 0
		rec.Correct = &c
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure Store satisfies the synthesis persistence contract.
var _ synthesis.Store = (*Store)(nil)
