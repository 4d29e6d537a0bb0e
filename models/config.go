// ABOUTME: Offline sync engine configuration with defaults and partial updates
// ABOUTME: Durations persist as milliseconds to keep the stored layout stable
package models

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

const (
	DefaultSyncInterval  = 60 * time.Second
	DefaultMaxRetries    = 5
	DefaultRetryDelay    = 5 * time.Second
	DefaultStoragePrefix = "offline_sync_"
)

// Config is the process-wide offline sync configuration.
type Config struct {
	Collections   []string      `validate:"dive,required,excludes=/"`
	SyncInterval  time.Duration `validate:"gt=0"`
	MaxRetries    int           `validate:"gte=0"`
	RetryDelay    time.Duration `validate:"gte=0"` // informational; retries happen on the next pass
	StoragePrefix string        `validate:"required"`
}

// DefaultConfig returns a config with an empty allow-list and default timings.
func DefaultConfig() Config {
	return Config{
		Collections:   []string{},
		SyncInterval:  DefaultSyncInterval,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		StoragePrefix: DefaultStoragePrefix,
	}
}

// Allows reports whether collection is in the allow-list.
func (c Config) Allows(collection string) bool {
	return slices.Contains(c.Collections, collection)
}

// Repaired returns c with every out-of-range field reset to its default.
// Allow-list entries that are empty or contain a slash are dropped.
func (c Config) Repaired() Config {
	def := DefaultConfig()
	next := c
	next.Collections = make([]string, 0, len(c.Collections))
	for _, name := range c.Collections {
		if name != "" && !strings.Contains(name, "/") {
			next.Collections = append(next.Collections, name)
		}
	}
	if next.SyncInterval <= 0 {
		next.SyncInterval = def.SyncInterval
	}
	if next.MaxRetries < 0 {
		next.MaxRetries = def.MaxRetries
	}
	if next.RetryDelay < 0 {
		next.RetryDelay = def.RetryDelay
	}
	if next.StoragePrefix == "" {
		next.StoragePrefix = def.StoragePrefix
	}
	return next
}

// ConfigUpdate is a partial config; nil fields keep their current value.
type ConfigUpdate struct {
	Collections   []string
	SyncInterval  *time.Duration
	MaxRetries    *int
	RetryDelay    *time.Duration
	StoragePrefix *string
}

// Apply merges the update into c and returns the result.
func (c Config) Apply(u ConfigUpdate) Config {
	next := c
	next.Collections = slices.Clone(c.Collections)
	if u.Collections != nil {
		next.Collections = slices.Clone(u.Collections)
	}
	if u.SyncInterval != nil {
		next.SyncInterval = *u.SyncInterval
	}
	if u.MaxRetries != nil {
		next.MaxRetries = *u.MaxRetries
	}
	if u.RetryDelay != nil {
		next.RetryDelay = *u.RetryDelay
	}
	if u.StoragePrefix != nil {
		next.StoragePrefix = *u.StoragePrefix
	}
	return next
}

type configJSON struct {
	Collections   []string `json:"collections"`
	SyncInterval  int64    `json:"syncInterval"`
	MaxRetries    int      `json:"maxRetries"`
	RetryDelay    int64    `json:"retryDelay"`
	StoragePrefix string   `json:"storagePrefix"`
}

// MarshalJSON writes durations as milliseconds.
func (c Config) MarshalJSON() ([]byte, error) {
	collections := c.Collections
	if collections == nil {
		collections = []string{}
	}
	return json.Marshal(configJSON{
		Collections:   collections,
		SyncInterval:  c.SyncInterval.Milliseconds(),
		MaxRetries:    c.MaxRetries,
		RetryDelay:    c.RetryDelay.Milliseconds(),
		StoragePrefix: c.StoragePrefix,
	})
}

// UnmarshalJSON reads a stored config, filling absent fields with defaults.
func (c *Config) UnmarshalJSON(data []byte) error {
	def := DefaultConfig()
	raw := configJSON{
		Collections:   def.Collections,
		SyncInterval:  def.SyncInterval.Milliseconds(),
		MaxRetries:    def.MaxRetries,
		RetryDelay:    def.RetryDelay.Milliseconds(),
		StoragePrefix: def.StoragePrefix,
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Collections = raw.Collections
	if c.Collections == nil {
		c.Collections = []string{}
	}
	c.SyncInterval = time.Duration(raw.SyncInterval) * time.Millisecond
	c.MaxRetries = raw.MaxRetries
	c.RetryDelay = time.Duration(raw.RetryDelay) * time.Millisecond
	c.StoragePrefix = raw.StoragePrefix
	if c.StoragePrefix == "" {
		c.StoragePrefix = DefaultStoragePrefix
	}
	return nil
}
