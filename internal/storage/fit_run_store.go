package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/sqfit/internal/superquadric"
	"github.com/banshee-data/sqfit/internal/timeutil"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("storage: fit run not found")

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 100

// FitRun is one persisted fit. Float fields may be NaN; they are stored
// as NULL.
type FitRun struct {
	RunID        string
	Source       string
	Points       int
	Initial      superquadric.Params
	Final        superquadric.Params
	Converged    bool
	Iterations   int
	FinalStep    float64
	MeanResidual float64
	Skipped      int
	ConfigJSON   json.RawMessage
	CreatedAt    int64 // unix nanoseconds

	// History is written by Insert and not loaded by Get or List; use
	// FitRunStore.Iterations.
	History []IterationRecord
}

// IterationRecord is one Newton round of a stored run.
type IterationRecord struct {
	Iteration int
	Step      float64
	Cond      float64
	Skipped   int
	Params    superquadric.Params
}

// FitRunStore provides persistence for fit runs.
type FitRunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewFitRunStore creates a new FitRunStore on the real clock.
func NewFitRunStore(db *sql.DB) *FitRunStore {
	return &FitRunStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for CreatedAt and busy backoff.
func (s *FitRunStore) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Insert persists run and its History in one transaction. If RunID is
// empty a UUID is generated; a zero CreatedAt is set to now.
func (s *FitRunStore) Insert(run *FitRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}
	var configStr interface{}
	if len(run.ConfigJSON) > 0 {
		configStr = string(run.ConfigJSON)
	}

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO fit_runs (
				run_id, source, points, initial_params, final_params,
				converged, iterations, final_step, mean_residual, skipped,
				config_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Source, run.Points, encodeParams(run.Initial), encodeParams(run.Final),
			boolToInt(run.Converged), run.Iterations, nullFloat(run.FinalStep), nullFloat(run.MeanResidual), run.Skipped,
			configStr, run.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert fit run: %w", err)
		}

		if len(run.History) > 0 {
			stmt, err := tx.Prepare(`
				INSERT INTO fit_iterations (run_id, iteration, step, cond, skipped, params)
				VALUES (?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("prepare iteration insert: %w", err)
			}
			defer stmt.Close()
			for _, it := range run.History {
				if _, err := stmt.Exec(run.RunID, it.Iteration, nullFloat(it.Step), nullFloat(it.Cond), it.Skipped, encodeParams(it.Params)); err != nil {
					return fmt.Errorf("insert iteration %d: %w", it.Iteration, err)
				}
			}
		}
		return tx.Commit()
	})
}

const runColumns = `
	run_id, source, points, initial_params, final_params,
	converged, iterations, final_step, mean_residual, skipped,
	config_json, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*FitRun, error) {
	var (
		r                  FitRun
		initial, final     string
		converged          int
		finalStep, meanRes sql.NullFloat64
		configStr          sql.NullString
	)
	err := row.Scan(
		&r.RunID, &r.Source, &r.Points, &initial, &final,
		&converged, &r.Iterations, &finalStep, &meanRes, &r.Skipped,
		&configStr, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.Initial, err = decodeParams(initial); err != nil {
		return nil, fmt.Errorf("decode initial params of %s: %w", r.RunID, err)
	}
	if r.Final, err = decodeParams(final); err != nil {
		return nil, fmt.Errorf("decode final params of %s: %w", r.RunID, err)
	}
	r.Converged = converged == 1
	r.FinalStep = floatOrNaN(finalStep)
	r.MeanResidual = floatOrNaN(meanRes)
	if configStr.Valid {
		r.ConfigJSON = json.RawMessage(configStr.String)
	}
	return &r, nil
}

// Get returns a single run by ID without its history.
func (s *FitRunStore) Get(runID string) (*FitRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM fit_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scan fit run: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. A non-positive limit uses
// DefaultListLimit.
func (s *FitRunStore) List(limit int) ([]*FitRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM fit_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fit runs: %w", err)
	}
	defer rows.Close()

	var runs []*FitRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fit run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Iterations returns the stored history of a run in iteration order.
func (s *FitRunStore) Iterations(runID string) ([]IterationRecord, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fit_runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("query fit run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.Query(`
		SELECT iteration, step, cond, skipped, params
		FROM fit_iterations
		WHERE run_id = ?
		ORDER BY iteration ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var (
			it         IterationRecord
			step, cond sql.NullFloat64
			params     string
		)
		if err := rows.Scan(&it.Iteration, &step, &cond, &it.Skipped, &params); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		it.Step = floatOrNaN(step)
		it.Cond = floatOrNaN(cond)
		if it.Params, err = decodeParams(params); err != nil {
			return nil, fmt.Errorf("decode iteration %d params: %w", it.Iteration, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes a run and, by cascade, its history.
func (s *FitRunStore) Delete(runID string) error {
	return retryOnBusy(s.clock, func() error {
		result, err := s.db.Exec(`DELETE FROM fit_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete fit run: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// encodeParams stores the 11 slots as space-separated shortest decimal
// text, which round-trips exactly and keeps NaN and Inf.
func encodeParams(p superquadric.Params) string {
	v := p.Vector()
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func decodeParams(s string) (superquadric.Params, error) {
	fields := strings.Fields(s)
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return superquadric.Params{}, err
		}
		vals[i] = v
	}
	return superquadric.ParamsFromSlice(vals)
}

// nullFloat maps NaN to NULL. Infinities are valid SQLite REALs and are
// stored as is.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
