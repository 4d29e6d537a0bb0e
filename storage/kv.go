// ABOUTME: Durable key-value abstraction backing the offline queue and cache
// ABOUTME: Implemented by Badger, SQLite, and the Charm replicated store
package storage

import "errors"

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// KV is a durable string-keyed byte store.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys returns keys beginning with prefix in ascending order.
	Keys(prefix string) ([]string, error)
	Close() error
}
