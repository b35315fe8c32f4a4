package db

import (
	"shipgate.sh/core/warden/models"
)

// AddAuditEntry appends one row to the audit log. There is no update or
// delete path for this table.
func (db *DB) AddAuditEntry(e models.AuditLogEntry) error {
	_, err := db.Exec(`
		insert into audit_log (action, resource_type, resource_id, user_id, details)
		values (?, ?, ?, ?, ?)
	`, e.Action, e.ResourceType, e.ResourceID, e.UserID, marshalMeta(e.Details))
	return err
}

// AuditEntriesAfter returns entries with ids greater than cursor, oldest
// first. Because the log is append-only and ids are monotonic, this is a
// stable stream position.
func (db *DB) AuditEntriesAfter(cursor int64) ([]models.AuditLogEntry, error) {
	rows, err := db.Query(`
		select id, action, resource_type, resource_id, user_id, details, created_at
		from audit_log
		where id > ?
		order by id asc
	`, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var details string
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.UserID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = unmarshalMeta(details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) ListAuditEntries(resourceType, resourceID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		select id, action, resource_type, resource_id, user_id, details, created_at
		from audit_log
	`
	var args []any
	if resourceType != "" {
		query += ` where resource_type = ?`
		args = append(args, resourceType)
		if resourceID != "" {
			query += ` and resource_id = ?`
			args = append(args, resourceID)
		}
	}
	query += ` order by id desc limit ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var details string
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.UserID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = unmarshalMeta(details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
