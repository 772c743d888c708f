package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: the expiry sweeper scans pending requests by expiry.
	`CREATE INDEX IF NOT EXISTS idx_swaps_status_expires
	     ON swap_requests(status, expires_at)`,
	// Migration 2: public listing filters on moderation and availability.
	`CREATE INDEX IF NOT EXISTS idx_items_listing
	     ON items(approved, availability, category)`,
}

// Migrate ensures the schema and runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
