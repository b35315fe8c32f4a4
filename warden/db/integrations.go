package db

import (
	"database/sql"
	"errors"

	"shipgate.sh/core/warden/models"
)

func (db *DB) AddIntegration(owner, name, secret string) (int64, error) {
	res, err := db.Exec(`
		insert into integrations (owner, name, webhook_secret)
		values (?, ?, ?)
	`, owner, name, secret)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetIntegration looks up the integration for a repository by its
// owner/name identity, as reported in the webhook payload.
func (db *DB) GetIntegration(owner, name string) (models.Integration, error) {
	var i models.Integration
	err := db.QueryRow(`
		select id, owner, name, webhook_secret, created_at
		from integrations
		where owner = ? and name = ?
	`, owner, name).Scan(&i.ID, &i.Owner, &i.Name, &i.WebhookSecret, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return i, ErrNotFound
	}
	return i, err
}

// RotateIntegrationSecret is the only mutation an integration supports.
func (db *DB) RotateIntegrationSecret(id int64, secret string) error {
	res, err := db.Exec(`
		update integrations set webhook_secret = ? where id = ?
	`, secret, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
