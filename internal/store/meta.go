package store

import (
	"database/sql"
	"fmt"
)

// Watermark keys, one per entity family.
const (
	WatermarkChildren = "last_sync_at_children"
	WatermarkEvents   = "last_sync_at_events"
)

// Watermark returns the timestamp of the most recent successful pull for the
// given sync-source key, or nil when no pull has completed yet (meaning the
// next pull fetches everything).
func (db *DB) Watermark(key string) (*string, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read watermark %s: %w", key, err)
	}
	return &value, nil
}

// SetWatermark advances the watermark for one sync-source key.
func (db *DB) SetWatermark(key, value string) error {
	query := `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`

	if _, err := db.conn.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to set watermark %s: %w", key, err)
	}

	db.notify("sync_meta")
	return nil
}
