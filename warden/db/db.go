package db

import (
	"database/sql"
	"errors"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row the caller named does not exist.
// Callers are expected to test with errors.Is and must not invent
// fallback behavior on it.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists integrations (
			id integer primary key autoincrement,
			owner text not null,
			name text not null,
			webhook_secret text not null default '',
			created_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			unique(owner, name)
		);

		create table if not exists branch_mappings (
			id integer primary key autoincrement,
			integration_id integer not null,
			pattern text not null,
			environment text not null,
			deployable integer not null default 1,

			unique(integration_id, pattern, environment),
			foreign key (integration_id) references integrations(id)
		);

		create table if not exists environment_locks (
			environment text primary key,
			locked integer not null default 0,
			required_role text not null default '',
			requires_approval integer not null default 0,
			lock_reason text not null default '',
			unlocked_by text not null default '',
			unlocked_at datetime
		);

		create table if not exists deliveries (
			delivery_id text primary key,
			event text not null,
			received_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);

		create table if not exists executions (
			id text primary key,
			name text not null,
			branch text not null,
			commit_hash text not null,
			environment text not null,
			status text not null,
			governance_status text not null,
			blocked_reason text not null default '',
			progress integer not null default 0,
			started_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			completed_at datetime,
			metadata text not null default '{}'
		);

		create table if not exists execution_nodes (
			execution_id text not null,
			node_id text not null,
			status text not null,
			started_at datetime,
			completed_at datetime,
			duration_ms integer,
			metadata text not null default '{}',

			primary key (execution_id, node_id),
			foreign key (execution_id) references executions(id)
		);

		create table if not exists checkpoints (
			id text primary key,
			execution_id text not null,
			node_id text not null,
			name text not null,
			state text not null default '{}',
			created_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			unique(execution_id, node_id),
			foreign key (execution_id) references executions(id)
		);

		create table if not exists approval_requests (
			id text primary key,
			execution_id text not null,
			node_id text not null default '',
			title text not null,
			required_approvals integer not null,
			status text not null default 'pending',
			created_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			foreign key (execution_id) references executions(id)
		);

		create table if not exists approval_votes (
			request_id text not null,
			user_id text not null,
			approve integer not null,
			voted_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			primary key (request_id, user_id),
			foreign key (request_id) references approval_requests(id)
		);

		create table if not exists audit_log (
			id integer primary key autoincrement,
			action text not null,
			resource_type text not null,
			resource_id text not null,
			user_id text not null default '',
			details text not null default '{}',
			created_at datetime not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
