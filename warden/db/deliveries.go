package db

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateDelivery signals that a webhook delivery id has been seen
// before. Providers deliver at-least-once; a duplicate is expected and
// must not produce a second execution.
var ErrDuplicateDelivery = errors.New("duplicate delivery")

// RecordDelivery inserts the provider-assigned delivery id, failing with
// ErrDuplicateDelivery on redelivery. The insert is the dedup gate: the
// first handler to commit it wins, concurrent retries lose.
func (db *DB) RecordDelivery(deliveryID, event string) error {
	_, err := db.Exec(`
		insert into deliveries (delivery_id, event)
		values (?, ?)
	`, deliveryID, event)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrDuplicateDelivery
	}
	return err
}

// ForgetDelivery releases a delivery id whose processing failed midway,
// so the provider's redelivery is not misclassified as a duplicate and
// can complete the work.
func (db *DB) ForgetDelivery(deliveryID string) error {
	_, err := db.Exec(`delete from deliveries where delivery_id = ?`, deliveryID)
	return err
}
