package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/forkpool/internal/history"
)

const runColumns = `id, run_id, command, codec, state, started_at, finished_at`

// runRepository implements history.Repository using SQLite.
type runRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *runRepository {
	return &runRepository{db: db}
}

var _ history.Repository = (*runRepository)(nil)

func scanRun(scanner interface{ Scan(...any) error }) (*RunModel, error) {
	var m RunModel
	err := scanner.Scan(&m.ID, &m.RunID, &m.Command, &m.Codec, &m.State, &m.StartedAt, &m.FinishedAt)
	return &m, err
}

// Save inserts a new run (ID == 0) or updates an existing one. Worker records
// are replaced wholesale in the same transaction.
func (r *runRepository) Save(run *history.Run) error {
	model := toRunModel(run)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := model.ID
	if id == 0 {
		result, err := tx.Exec(
			`INSERT INTO runs (run_id, command, codec, state, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			model.RunID, model.Command, model.Codec, model.State, model.StartedAt, model.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	} else {
		result, err := tx.Exec(
			`UPDATE runs SET command = ?, codec = ?, state = ?, started_at = ?, finished_at = ?
			 WHERE id = ?`,
			model.Command, model.Codec, model.State, model.StartedAt, model.FinishedAt, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return &history.RunNotFoundError{RunID: model.RunID}
		}
		if _, err := tx.Exec(`DELETE FROM run_workers WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear workers: %w", err)
		}
	}

	for _, w := range run.Workers() {
		wm, err := toWorkerModel(id, w)
		if err != nil {
			return fmt.Errorf("failed to encode worker %d: %w", w.Index, err)
		}
		_, err = tx.Exec(
			`INSERT INTO run_workers (run_id, idx, pid, entry, exit_code, messages, error, tasks)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			wm.RunID, wm.Index, wm.PID, wm.Entry, wm.ExitCode, wm.Messages, wm.Error, wm.Tasks,
		)
		if err != nil {
			return fmt.Errorf("failed to insert worker %d: %w", w.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	run.SetID(id)
	return nil
}

// FindByRunID returns the run with its workers ordered by index.
func (r *runRepository) FindByRunID(runID string) (*history.Run, error) {
	row := r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	model, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &history.RunNotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	workers, err := r.workers(model.ID)
	if err != nil {
		return nil, err
	}
	return model.toDomain(workers), nil
}

// List returns runs newest first.
func (r *runRepository) List(limit int) ([]*history.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var models []*RunModel
	for rows.Next() {
		m, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	// One open connection: the rows must be closed before loading workers.
	_ = rows.Close()

	runs := make([]*history.Run, 0, len(models))
	for _, m := range models {
		workers, err := r.workers(m.ID)
		if err != nil {
			return nil, err
		}
		runs = append(runs, m.toDomain(workers))
	}
	return runs, nil
}

// Delete removes a run. Worker rows go with it through the foreign key.
func (r *runRepository) Delete(runID string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &history.RunNotFoundError{RunID: runID}
	}
	return nil
}

func (r *runRepository) workers(id int64) ([]history.WorkerRecord, error) {
	rows, err := r.db.Query(
		`SELECT run_id, idx, pid, entry, exit_code, messages, error, tasks
		 FROM run_workers WHERE run_id = ? ORDER BY idx`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load workers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workers []history.WorkerRecord
	for rows.Next() {
		var m WorkerModel
		if err := rows.Scan(&m.RunID, &m.Index, &m.PID, &m.Entry, &m.ExitCode, &m.Messages, &m.Error, &m.Tasks); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, m.toRecord())
	}
	return workers, rows.Err()
}
