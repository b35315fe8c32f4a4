package db

import (
	"database/sql"
	"errors"
	"time"

	"shipgate.sh/core/warden/models"
)

func (db *DB) CreateExecution(e models.Execution) error {
	_, err := db.Exec(`
		insert into executions (id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Name, e.Branch, e.CommitHash, e.Environment, e.Status, e.GovernanceStatus, e.BlockedReason, e.Progress, e.StartedAt, e.CompletedAt, marshalMeta(e.Metadata))
	return err
}

func (db *DB) GetExecution(id string) (models.Execution, error) {
	return scanExecution(db.QueryRow(`
		select id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata
		from executions
		where id = ?
	`, id))
}

// ListExecutionsByRun finds the executions a provider workflow-run
// event belongs to, by the run id recorded in execution metadata. One
// push can fan out to several environments, all sharing the run.
func (db *DB) ListExecutionsByRun(runID string) ([]models.Execution, error) {
	rows, err := db.Query(`
		select id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata
		from executions
		where json_extract(metadata, '$.githubRunId') = ?
		order by started_at desc
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.Execution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// FindExecutionByDelivery locates the execution a delivery already
// produced for one environment. Consulted when a push is reprocessed
// after a midway store failure: environments that were written before
// the failure must not get a second execution.
func (db *DB) FindExecutionByDelivery(deliveryID, environment string) (models.Execution, error) {
	return scanExecution(db.QueryRow(`
		select id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata
		from executions
		where json_extract(metadata, '$.deliveryId') = ? and environment = ?
	`, deliveryID, environment))
}

// FindExecution locates an execution by its natural identity.
func (db *DB) FindExecution(commitHash, environment string) (models.Execution, error) {
	return scanExecution(db.QueryRow(`
		select id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata
		from executions
		where commit_hash = ? and environment = ?
		order by started_at desc
		limit 1
	`, commitHash, environment))
}

func (db *DB) ListExecutions(limit int) ([]models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		select id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata
		from executions
		order by started_at desc
		limit ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.Execution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// TransitionExecution moves a non-terminal execution into a new status.
// Terminal executions are never resurrected: late events against a
// cancelled or failed execution leave it untouched and the caller is told
// nothing was applied.
func (db *DB) TransitionExecution(id string, to models.ExecutionStatus) (bool, error) {
	var res sql.Result
	var err error
	if to.IsTerminal() {
		res, err = db.Exec(`
			update executions
			set status = ?, completed_at = ?
			where id = ? and status not in ('success', 'failed')
		`, to, time.Now().UTC(), id)
	} else {
		res, err = db.Exec(`
			update executions
			set status = ?
			where id = ? and status not in ('success', 'failed')
		`, to, id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApplyProviderExecutionStatus applies a provider-derived status to the
// execution with monotonic precedence: a write never downgrades running
// back to idle, never touches a paused execution (approval owns that
// transition), and never reopens a terminal one.
func (db *DB) ApplyProviderExecutionStatus(id string, to models.ExecutionStatus) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current models.ExecutionStatus
	err = tx.QueryRow(`select status from executions where id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	if current == models.StatusPaused || current.IsTerminal() {
		return false, tx.Commit()
	}
	if to.Precedence() < current.Precedence() {
		return false, tx.Commit()
	}

	if to.IsTerminal() {
		_, err = tx.Exec(`
			update executions set status = ?, completed_at = ? where id = ? and status = ?
		`, to, time.Now().UTC(), id, current)
	} else {
		_, err = tx.Exec(`
			update executions set status = ? where id = ? and status = ?
		`, to, id, current)
	}
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ListExecutionsByCommit returns every execution for a commit, across
// environments. Provider run/job events carry the commit but not the
// environment, so they fan out to all of them.
func (db *DB) ListExecutionsByCommit(commitHash string) ([]models.Execution, error) {
	rows, err := db.Query(`
		select id, name, branch, commit_hash, environment, status, governance_status, blocked_reason, progress, started_at, completed_at, metadata
		from executions
		where commit_hash = ?
		order by started_at desc
	`, commitHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.Execution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// SetGovernanceStatus finalizes the policy outcome of an execution that
// was created awaiting approval. Regressing back to awaiting_approval is
// refused at this layer; the outcome is written at most once per
// direction.
func (db *DB) SetGovernanceStatus(id string, status models.GovernanceStatus, blockedReason string) error {
	if status == models.GovernanceAwaitingApproval {
		return errors.New("governance status cannot regress to awaiting_approval")
	}
	_, err := db.Exec(`
		update executions
		set governance_status = ?, blocked_reason = ?
		where id = ? and governance_status = 'awaiting_approval'
	`, status, blockedReason, id)
	return err
}

func (db *DB) SetExecutionProgress(id string, progress int) error {
	_, err := db.Exec(`update executions set progress = ? where id = ?`, progress, id)
	return err
}

// AmendExecutionMetadata merges extra keys into execution metadata. Used
// to attach correlation ids (run id) once the provider reports them.
func (db *DB) AmendExecutionMetadata(id string, extra map[string]string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`select metadata from executions where id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	meta := unmarshalMeta(raw)
	for k, v := range extra {
		meta[k] = v
	}

	_, err = tx.Exec(`update executions set metadata = ? where id = ?`, marshalMeta(meta), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row *sql.Row) (models.Execution, error) {
	e, err := scanExecutionRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

func scanExecutionRows(row rowScanner) (models.Execution, error) {
	var e models.Execution
	var meta string
	err := row.Scan(&e.ID, &e.Name, &e.Branch, &e.CommitHash, &e.Environment, &e.Status, &e.GovernanceStatus, &e.BlockedReason, &e.Progress, &e.StartedAt, &e.CompletedAt, &meta)
	if err != nil {
		return e, err
	}
	e.Metadata = unmarshalMeta(meta)
	return e, nil
}
