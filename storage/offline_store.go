// ABOUTME: Typed view over a KV holding offline sync state
// ABOUTME: Owns the persisted key layout for config, queue, last sync, dead letters, and cache
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/agencysync/models"
)

// ConfigKey is global: it always lives under the default prefix so the
// configured prefix can be discovered at startup.
const ConfigKey = models.DefaultStoragePrefix + "config"

func PendingKey(prefix string) string    { return prefix + "pending" }
func LastSyncKey(prefix string) string   { return prefix + "last_sync" }
func DeadLetterKey(prefix string) string { return prefix + "dead_letter" }

// CachePrefix is the key prefix of every cached record of a collection.
func CachePrefix(prefix, collection string) string {
	return prefix + "cache/" + collection + "/"
}

// CacheKey is the key of one cached record.
func CacheKey(prefix, collection, id string) string {
	return CachePrefix(prefix, collection) + id
}

// OfflineStore reads and writes offline sync state.
type OfflineStore struct {
	kv KV
}

func NewOfflineStore(kv KV) *OfflineStore {
	return &OfflineStore{kv: kv}
}

// KV returns the underlying store.
func (s *OfflineStore) KV() KV {
	return s.kv
}

func (s *OfflineStore) Close() error {
	return s.kv.Close()
}

// LoadConfig returns the stored config. found is false when none was saved.
func (s *OfflineStore) LoadConfig() (cfg models.Config, found bool, err error) {
	found, err = s.getJSON(ConfigKey, &cfg)
	if err != nil || !found {
		return models.DefaultConfig(), false, err
	}
	return cfg, true, nil
}

func (s *OfflineStore) SaveConfig(cfg models.Config) error {
	return s.setJSON(ConfigKey, cfg)
}

// LoadPending returns the stored queue, or an empty queue.
func (s *OfflineStore) LoadPending(prefix string) ([]models.PendingItem, error) {
	var items []models.PendingItem
	if _, err := s.getJSON(PendingKey(prefix), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *OfflineStore) SavePending(prefix string, items []models.PendingItem) error {
	if items == nil {
		items = []models.PendingItem{}
	}
	return s.setJSON(PendingKey(prefix), items)
}

// LoadLastSync returns the zero time when no pass has completed.
func (s *OfflineStore) LoadLastSync(prefix string) (time.Time, error) {
	raw, err := s.kv.Get(LastSyncKey(prefix))
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync: %w", err)
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last sync value %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

func (s *OfflineStore) SaveLastSync(prefix string, t time.Time) error {
	return s.kv.Set(LastSyncKey(prefix), []byte(strconv.FormatInt(t.UnixMilli(), 10)))
}

func (s *OfflineStore) LoadDeadLetters(prefix string) ([]models.DeadLetter, error) {
	var dead []models.DeadLetter
	if _, err := s.getJSON(DeadLetterKey(prefix), &dead); err != nil {
		return nil, err
	}
	return dead, nil
}

func (s *OfflineStore) SaveDeadLetters(prefix string, dead []models.DeadLetter) error {
	if len(dead) == 0 {
		return s.kv.Delete(DeadLetterKey(prefix))
	}
	return s.setJSON(DeadLetterKey(prefix), dead)
}

// PutCached stores the last known body of a record.
func (s *OfflineStore) PutCached(prefix, collection, id string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("cached %s/%s is not valid JSON", collection, id)
	}
	return s.kv.Set(CacheKey(prefix, collection, id), data)
}

// Cached returns every cached record of a collection ordered by id.
func (s *OfflineStore) Cached(prefix, collection string) ([]json.RawMessage, error) {
	keys, err := s.kv.Keys(CachePrefix(prefix, collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache for %s: %w", collection, err)
	}
	sort.Strings(keys)

	records := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		value, err := s.kv.Get(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		records = append(records, json.RawMessage(value))
	}
	return records, nil
}

// AllKeys lists every key under prefix plus the global config key.
func (s *OfflineStore) AllKeys(prefix string) ([]string, error) {
	keys, err := s.kv.Keys(prefix)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ConfigKey, prefix) {
		if _, err := s.kv.Get(ConfigKey); err == nil {
			keys = append(keys, ConfigKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *OfflineStore) getJSON(key string, v any) (bool, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *OfflineStore) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Set(key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
