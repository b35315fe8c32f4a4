package db

import (
	"database/sql"
	"errors"

	"shipgate.sh/core/warden/models"
)

func (db *DB) CreateApprovalRequest(r models.ApprovalRequest) error {
	_, err := db.Exec(`
		insert into approval_requests (id, execution_id, node_id, title, required_approvals, status)
		values (?, ?, ?, ?, ?, ?)
	`, r.ID, r.ExecutionID, r.NodeID, r.Title, r.RequiredApprovals, r.Status)
	return err
}

func (db *DB) GetApprovalRequest(id string) (models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := db.QueryRow(`
		select id, execution_id, node_id, title, required_approvals, status, created_at
		from approval_requests
		where id = ?
	`, id).Scan(&r.ID, &r.ExecutionID, &r.NodeID, &r.Title, &r.RequiredApprovals, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

// PendingApprovalForExecution returns the open request gating an
// execution, if any.
func (db *DB) PendingApprovalForExecution(executionID string) (models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	err := db.QueryRow(`
		select id, execution_id, node_id, title, required_approvals, status, created_at
		from approval_requests
		where execution_id = ? and status = 'pending'
	`, executionID).Scan(&r.ID, &r.ExecutionID, &r.NodeID, &r.Title, &r.RequiredApprovals, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

func (db *DB) CountApprovalRequests(executionID string) (int, error) {
	var count int
	err := db.QueryRow(`
		select count(1) from approval_requests where execution_id = ?
	`, executionID).Scan(&count)
	return count, err
}

// AddApprovalVote records a vote. One vote per user per request; a user
// changing their mind overwrites their earlier vote.
func (db *DB) AddApprovalVote(v models.ApprovalVote) error {
	_, err := db.Exec(`
		insert into approval_votes (request_id, user_id, approve)
		values (?, ?, ?)
		on conflict (request_id, user_id) do update set
			approve = excluded.approve,
			voted_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`, v.RequestID, v.UserID, v.Approve)
	return err
}

func (db *DB) ListApprovalVotes(requestID string) ([]models.ApprovalVote, error) {
	rows, err := db.Query(`
		select request_id, user_id, approve, voted_at
		from approval_votes
		where request_id = ?
		order by voted_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []models.ApprovalVote
	for rows.Next() {
		var v models.ApprovalVote
		if err := rows.Scan(&v.RequestID, &v.UserID, &v.Approve, &v.VotedAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// ResolveApprovalRequest closes a pending request. The guard on status
// makes resolution idempotent under concurrent vote processing: only one
// caller observes applied=true and performs the execution transition.
func (db *DB) ResolveApprovalRequest(id string, status models.ApprovalStatus) (bool, error) {
	res, err := db.Exec(`
		update approval_requests
		set status = ?
		where id = ? and status = 'pending'
	`, status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
