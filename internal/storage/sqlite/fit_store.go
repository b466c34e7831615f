// Package sqlite persists fit summaries so batch runs can be compared after
// the fact. Each completed (or failed) fit becomes one row keyed by a
// generated fit ID.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FitSummary is one persisted fit outcome.
type FitSummary struct {
	FitID             string
	TrackLabel        string
	MeasurementStates int
	MeasurementHoles  int
	ProcessedStates   int
	Outliers          int
	Chi2              float64
	Smoothed          bool
	Reversed          bool
	Finished          bool
	Outcome           string
	ParamsJSON        string
	CreatedAt         time.Time
}

// FitStore reads and writes fit summaries.
type FitStore struct {
	db *sql.DB
}

// NewFitStore wraps an already-migrated database handle.
func NewFitStore(db *sql.DB) *FitStore {
	return &FitStore{db: db}
}

// Insert stores a fit summary. A missing FitID is generated and a missing
// CreatedAt is stamped with the current time; the stored values are written
// back into s.
func (fs *FitStore) Insert(s *FitSummary) error {
	if s.FitID == "" {
		s.FitID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := fs.db.Exec(`
		INSERT INTO fit_results (
			fit_id, track_label,
			measurement_states, measurement_holes, processed_states, outliers,
			chi2, smoothed, reversed, finished,
			outcome, params_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.FitID, s.TrackLabel,
		s.MeasurementStates, s.MeasurementHoles, s.ProcessedStates, s.Outliers,
		s.Chi2, boolToInt(s.Smoothed), boolToInt(s.Reversed), boolToInt(s.Finished),
		s.Outcome, s.ParamsJSON, s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert fit result %s: %w", s.FitID, err)
	}
	return nil
}

// Get fetches one fit summary by ID. It returns sql.ErrNoRows when the ID is
// unknown.
func (fs *FitStore) Get(fitID string) (*FitSummary, error) {
	row := fs.db.QueryRow(`
		SELECT fit_id, track_label,
			measurement_states, measurement_holes, processed_states, outliers,
			chi2, smoothed, reversed, finished,
			outcome, params_json, created_at
		FROM fit_results WHERE fit_id = ?`, fitID)
	return scanFitSummary(row)
}

// List returns the most recent fit summaries, newest first.
func (fs *FitStore) List(limit int) ([]*FitSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := fs.db.Query(`
		SELECT fit_id, track_label,
			measurement_states, measurement_holes, processed_states, outliers,
			chi2, smoothed, reversed, finished,
			outcome, params_json, created_at
		FROM fit_results ORDER BY created_at DESC, fit_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fit results: %w", err)
	}
	defer rows.Close()

	var out []*FitSummary
	for rows.Next() {
		s, err := scanFitSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFitSummary(row rowScanner) (*FitSummary, error) {
	var s FitSummary
	var smoothed, reversed, finished int
	var params sql.NullString
	var createdAt int64
	err := row.Scan(
		&s.FitID, &s.TrackLabel,
		&s.MeasurementStates, &s.MeasurementHoles, &s.ProcessedStates, &s.Outliers,
		&s.Chi2, &smoothed, &reversed, &finished,
		&s.Outcome, &params, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	s.Smoothed = smoothed != 0
	s.Reversed = reversed != 0
	s.Finished = finished != 0
	s.ParamsJSON = params.String
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
