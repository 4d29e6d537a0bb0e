// ABOUTME: Database operations for the entities table
// ABOUTME: Stores raw JSON records per collection for the development backend
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertEntity inserts or replaces a record. created_at survives replacement.
func UpsertEntity(db *sql.DB, collection, id string, data json.RawMessage) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO entities (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, collection, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetEntity returns a record or nil when it does not exist.
func GetEntity(db *sql.DB, collection, id string) (json.RawMessage, error) {
	var data string
	err := db.QueryRow(`
		SELECT data FROM entities
		WHERE collection = ? AND id = ?
	`, collection, id).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}

	return json.RawMessage(data), nil
}

// DeleteEntity removes a record and reports whether it existed.
func DeleteEntity(db *sql.DB, collection, id string) (bool, error) {
	res, err := db.Exec(`DELETE FROM entities WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ListEntities returns every record of a collection in insertion order.
func ListEntities(db *sql.DB, collection string) ([]json.RawMessage, error) {
	rows, err := db.Query(`
		SELECT data FROM entities
		WHERE collection = ?
		ORDER BY created_at, rowid
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	records := []json.RawMessage{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", collection, err)
		}
		records = append(records, json.RawMessage(data))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", collection, err)
	}

	return records, nil
}

// CountEntities returns per-collection record counts.
func CountEntities(db *sql.DB) (map[string]int, error) {
	rows, err := db.Query(`SELECT collection, COUNT(*) FROM entities GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var collection string
		var n int
		if err := rows.Scan(&collection, &n); err != nil {
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		counts[collection] = n
	}

	return counts, rows.Err()
}
