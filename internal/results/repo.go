package results

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/models"
)

const runColumns = `id, status, components, parameter_names, spectrum, checksum,
	walkers, iterations, burn_in, seed, acceptance, step, error, created_at, updated_at`

// CreateRun inserts a new run. An existing id is ErrAlreadyExists.
func (db *DB) CreateRun(run models.FitRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	if run.Status == "" {
		run.Status = models.StatusPending
	}
	components, _ := json.Marshal(nonNil(run.Components))
	names, _ := json.Marshal(nonNil(run.ParameterNames))
	data, err := json.Marshal(run.Spectrum)
	if err != nil {
		return fmt.Errorf("results: encode spectrum: %w", err)
	}

	var exists int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs WHERE id = ?`, run.ID).Scan(&exists); err != nil {
		return fmt.Errorf("results: check run: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("results: run %s: %w", run.ID, apperr.ErrAlreadyExists)
	}

	_, err = db.conn.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Status), string(components), string(names), string(data), run.Checksum,
		run.Walkers, run.Iterations, run.BurnIn, run.Seed, run.Acceptance, run.Step, run.Error,
		run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("results: insert run: %w", err)
	}
	return nil
}

// UpdateProgress records the latest completed step of a running fit.
func (db *DB) UpdateProgress(id string, step int, acceptance float64) error {
	res, err := db.conn.Exec(`
		UPDATE runs SET step = ?, acceptance = ?, updated_at = ? WHERE id = ?
	`, step, acceptance, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("results: update progress: %w", err)
	}
	return expectOne(res, id)
}

// SetStatus moves a run to status. Terminal runs cannot change again.
func (db *DB) SetStatus(id string, status models.RunStatus, errMsg string) error {
	run, err := db.GetRun(id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("results: run %s is already %s: %w", id, run.Status, apperr.ErrConflict)
	}
	_, err = db.conn.Exec(`
		UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("results: set status: %w", err)
	}
	return nil
}

// SaveSamples replaces the stored chain of a run within a transaction.
func (db *DB) SaveSamples(id string, samples []models.Sample) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("results: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM samples WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("results: clear samples: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO samples (run_id, step, walker, ln_prob, params) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("results: prepare sample insert: %w", err)
	}
	defer stmt.Close()
	for _, s := range samples {
		params, err := json.Marshal(s.Params)
		if err != nil {
			return fmt.Errorf("results: encode sample: %w", err)
		}
		if _, err := stmt.Exec(id, s.Step, s.Walker, s.LnProb, string(params)); err != nil {
			return fmt.Errorf("results: insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// GetRun returns a run or ErrNotFound.
func (db *DB) GetRun(id string) (*models.FitRun, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("results: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status, plus the
// total matching count.
func (db *DB) ListRuns(limit, offset int, status models.RunStatus) ([]models.FitRun, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := ""
	args := []any{}
	if status != "" {
		where = " WHERE status = ?"
		args = append(args, string(status))
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("results: count runs: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs`+where+`
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("results: list runs: %w", err)
	}
	defer rows.Close()

	out := []models.FitRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *run)
	}
	return out, total, rows.Err()
}

// Samples returns the stored chain from fromStep on, ordered by step then
// walker.
func (db *DB) Samples(id string, fromStep int) ([]models.Sample, error) {
	if _, err := db.GetRun(id); err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(`
		SELECT step, walker, ln_prob, params FROM samples
		WHERE run_id = ? AND step >= ?
		ORDER BY step, walker
	`, id, fromStep)
	if err != nil {
		return nil, fmt.Errorf("results: samples: %w", err)
	}
	defer rows.Close()

	var out []models.Sample
	for rows.Next() {
		var s models.Sample
		var params string
		if err := rows.Scan(&s.Step, &s.Walker, &s.LnProb, &params); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &s.Params); err != nil {
			return nil, fmt.Errorf("results: decode sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its samples.
func (db *DB) DeleteRun(id string) error {
	res, err := db.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("results: delete run: %w", err)
	}
	return expectOne(res, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.FitRun, error) {
	var (
		run                         models.FitRun
		status                      string
		components, names, spectrum string
	)
	err := s.Scan(&run.ID, &status, &components, &names, &spectrum, &run.Checksum,
		&run.Walkers, &run.Iterations, &run.BurnIn, &run.Seed, &run.Acceptance, &run.Step, &run.Error,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if err := json.Unmarshal([]byte(components), &run.Components); err != nil {
		return nil, fmt.Errorf("results: decode components: %w", err)
	}
	if err := json.Unmarshal([]byte(names), &run.ParameterNames); err != nil {
		return nil, fmt.Errorf("results: decode parameter names: %w", err)
	}
	if err := json.Unmarshal([]byte(spectrum), &run.Spectrum); err != nil {
		return nil, fmt.Errorf("results: decode spectrum: %w", err)
	}
	return &run, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("results: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("results: run %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
