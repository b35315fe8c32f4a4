package db

import (
	"database/sql"
	"errors"

	"shipgate.sh/core/warden/models"
)

// UpsertNodeStatus writes a node status keyed by (execution, node) with
// monotonic precedence: provider events arrive out of order, so a late
// "running" for a node already marked success is dropped rather than
// regressing the row. Returns whether the write was applied.
func (db *DB) UpsertNodeStatus(node models.ExecutionNode) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current models.ExecutionStatus
	err = tx.QueryRow(`
		select status from execution_nodes
		where execution_id = ? and node_id = ?
	`, node.ExecutionID, node.NodeID).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.Exec(`
			insert into execution_nodes (execution_id, node_id, status, started_at, completed_at, duration_ms, metadata)
			values (?, ?, ?, ?, ?, ?, ?)
		`, node.ExecutionID, node.NodeID, node.Status, node.StartedAt, node.CompletedAt, node.DurationMs, marshalMeta(node.Metadata))
		if err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	}

	if current.IsTerminal() || node.Status.Precedence() < current.Precedence() {
		return false, tx.Commit()
	}

	_, err = tx.Exec(`
		update execution_nodes
		set status = ?,
		    started_at = coalesce(?, started_at),
		    completed_at = coalesce(?, completed_at),
		    duration_ms = coalesce(?, duration_ms)
		where execution_id = ? and node_id = ? and status = ?
	`, node.Status, node.StartedAt, node.CompletedAt, node.DurationMs, node.ExecutionID, node.NodeID, current)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (db *DB) GetNode(executionID, nodeID string) (models.ExecutionNode, error) {
	var n models.ExecutionNode
	var meta string
	err := db.QueryRow(`
		select execution_id, node_id, status, started_at, completed_at, duration_ms, metadata
		from execution_nodes
		where execution_id = ? and node_id = ?
	`, executionID, nodeID).Scan(&n.ExecutionID, &n.NodeID, &n.Status, &n.StartedAt, &n.CompletedAt, &n.DurationMs, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.Metadata = unmarshalMeta(meta)
	return n, nil
}

func (db *DB) ListNodes(executionID string) ([]models.ExecutionNode, error) {
	rows, err := db.Query(`
		select execution_id, node_id, status, started_at, completed_at, duration_ms, metadata
		from execution_nodes
		where execution_id = ?
		order by rowid
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []models.ExecutionNode
	for rows.Next() {
		var n models.ExecutionNode
		var meta string
		if err := rows.Scan(&n.ExecutionID, &n.NodeID, &n.Status, &n.StartedAt, &n.CompletedAt, &n.DurationMs, &meta); err != nil {
			return nil, err
		}
		n.Metadata = unmarshalMeta(meta)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// AnyNodeRunning reports whether any node of the execution has entered
// running. Used by tests and the approval gate: nothing may run while an
// approval is pending.
func (db *DB) AnyNodeRunning(executionID string) (bool, error) {
	var count int
	err := db.QueryRow(`
		select count(1) from execution_nodes
		where execution_id = ? and status = 'running'
	`, executionID).Scan(&count)
	return count > 0, err
}
