package db

import (
	"shipgate.sh/core/policy"
)

func (db *DB) AddBranchMapping(integrationID int64, pattern, environment string, deployable bool) error {
	_, err := db.Exec(`
		insert into branch_mappings (integration_id, pattern, environment, deployable)
		values (?, ?, ?, ?)
	`, integrationID, pattern, environment, deployable)
	return err
}

// BranchMappings returns every mapping for an integration. Read fresh on
// every decision; operators edit these rows out from under us.
func (db *DB) BranchMappings(integrationID int64) ([]policy.BranchMapping, error) {
	rows, err := db.Query(`
		select id, integration_id, pattern, environment, deployable
		from branch_mappings
		where integration_id = ?
		order by id
	`, integrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []policy.BranchMapping
	for rows.Next() {
		var m policy.BranchMapping
		if err := rows.Scan(&m.ID, &m.IntegrationID, &m.Pattern, &m.Environment, &m.Deployable); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (db *DB) RemoveBranchMapping(id int64) error {
	_, err := db.Exec(`delete from branch_mappings where id = ?`, id)
	return err
}
