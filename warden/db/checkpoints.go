package db

import (
	"database/sql"
	"errors"

	"shipgate.sh/core/warden/models"
)

// CreateCheckpoint writes the snapshot for a successful node. The insert
// is `or ignore` on (execution, node): the first snapshot wins and later
// events referencing the same node cannot overwrite it. That immutability
// is what makes re-run-from-checkpoint an audit primitive instead of a
// mutable cache.
func (db *DB) CreateCheckpoint(c models.Checkpoint) error {
	_, err := db.Exec(`
		insert or ignore into checkpoints (id, execution_id, node_id, name, state)
		values (?, ?, ?, ?, ?)
	`, c.ID, c.ExecutionID, c.NodeID, c.Name, marshalMeta(c.State))
	return err
}

func (db *DB) GetCheckpoint(id string) (models.Checkpoint, error) {
	var c models.Checkpoint
	var state string
	err := db.QueryRow(`
		select id, execution_id, node_id, name, state, created_at
		from checkpoints
		where id = ?
	`, id).Scan(&c.ID, &c.ExecutionID, &c.NodeID, &c.Name, &state, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.State = unmarshalMeta(state)
	return c, nil
}

func (db *DB) GetCheckpointForNode(executionID, nodeID string) (models.Checkpoint, error) {
	var c models.Checkpoint
	var state string
	err := db.QueryRow(`
		select id, execution_id, node_id, name, state, created_at
		from checkpoints
		where execution_id = ? and node_id = ?
	`, executionID, nodeID).Scan(&c.ID, &c.ExecutionID, &c.NodeID, &c.Name, &state, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.State = unmarshalMeta(state)
	return c, nil
}

func (db *DB) ListCheckpoints(executionID string) ([]models.Checkpoint, error) {
	rows, err := db.Query(`
		select id, execution_id, node_id, name, state, created_at
		from checkpoints
		where execution_id = ?
		order by created_at
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []models.Checkpoint
	for rows.Next() {
		var c models.Checkpoint
		var state string
		if err := rows.Scan(&c.ID, &c.ExecutionID, &c.NodeID, &c.Name, &state, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.State = unmarshalMeta(state)
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}
