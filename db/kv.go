// ABOUTME: Database operations for the kv table
// ABOUTME: Backs the SQLite flavour of the offline state store
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetKV returns the value stored under key. found is false when the key is absent.
func GetKV(db *sql.DB, key string) (value []byte, found bool, err error) {
	err = db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get kv %s: %w", key, err)
	}
	return value, true, nil
}

// SetKV stores value under key, replacing any previous value.
func SetKV(db *sql.DB, key string, value []byte) error {
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set kv %s: %w", key, err)
	}
	return nil
}

// DeleteKV removes key. Deleting a missing key is not an error.
func DeleteKV(db *sql.DB, key string) error {
	if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete kv %s: %w", key, err)
	}
	return nil
}

// ListKVKeys returns all keys starting with prefix in ascending order.
func ListKVKeys(db *sql.DB, prefix string) ([]string, error) {
	rows, err := db.Query(`
		SELECT key FROM kv
		WHERE key LIKE ? ESCAPE '\'
		ORDER BY key
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan kv key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kv keys: %w", err)
	}

	return keys, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
