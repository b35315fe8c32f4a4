package db

import (
	"database/sql"
	"errors"
	"time"

	"shipgate.sh/core/warden/models"
)

// GetEnvironmentLock returns the current lock row for an environment. An
// environment with no row is unlocked; a zero-value lock is returned so
// the evaluator has one code path. This read happens per decision, never
// from a cache: a concurrent unlock must be observed by the very next
// evaluation.
func (db *DB) GetEnvironmentLock(environment string) (models.EnvironmentLock, error) {
	l := models.EnvironmentLock{Environment: environment}
	err := db.QueryRow(`
		select environment, locked, required_role, requires_approval, lock_reason, unlocked_by, unlocked_at
		from environment_locks
		where environment = ?
	`, environment).Scan(&l.Environment, &l.Locked, &l.RequiredRole, &l.RequiresApproval, &l.LockReason, &l.UnlockedBy, &l.UnlockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l, nil
	}
	return l, err
}

// SetEnvironmentLock upserts the singleton lock row. This is the
// operator-facing write path; the engine itself never locks anything.
func (db *DB) SetEnvironmentLock(l models.EnvironmentLock) error {
	_, err := db.Exec(`
		insert into environment_locks (environment, locked, required_role, requires_approval, lock_reason, unlocked_by, unlocked_at)
		values (?, ?, ?, ?, ?, ?, ?)
		on conflict (environment) do update set
			locked = excluded.locked,
			required_role = excluded.required_role,
			requires_approval = excluded.requires_approval,
			lock_reason = excluded.lock_reason,
			unlocked_by = excluded.unlocked_by,
			unlocked_at = excluded.unlocked_at
	`, l.Environment, l.Locked, l.RequiredRole, l.RequiresApproval, l.LockReason, l.UnlockedBy, l.UnlockedAt)
	return err
}

// UnlockEnvironment clears a lock, recording who lifted it and when.
func (db *DB) UnlockEnvironment(environment, unlockedBy string) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		insert into environment_locks (environment, locked, unlocked_by, unlocked_at)
		values (?, 0, ?, ?)
		on conflict (environment) do update set
			locked = 0,
			lock_reason = '',
			unlocked_by = excluded.unlocked_by,
			unlocked_at = excluded.unlocked_at
	`, environment, unlockedBy, now)
	return err
}
