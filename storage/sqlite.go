// ABOUTME: SQLite implementation of the KV interface
// ABOUTME: Lets the offline state live next to sync history in one database file
package storage

import (
	"database/sql"

	"github.com/harperreed/agencysync/db"
)

// SQLiteKV stores keys in the kv table.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV wraps an opened database. Close closes the database.
func NewSQLiteKV(database *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: database}
}

// DB exposes the underlying database for history recording.
func (s *SQLiteKV) DB() *sql.DB {
	return s.db
}

func (s *SQLiteKV) Get(key string) ([]byte, error) {
	value, found, err := db.GetKV(s.db, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLiteKV) Set(key string, value []byte) error {
	return db.SetKV(s.db, key, value)
}

func (s *SQLiteKV) Delete(key string) error {
	return db.DeleteKV(s.db, key)
}

func (s *SQLiteKV) Keys(prefix string) ([]string, error) {
	return db.ListKVKeys(s.db, prefix)
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
