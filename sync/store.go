// ABOUTME: Offline data cache and dead-letter management on the engine
// ABOUTME: The cache holds last-known entity bodies, separate from the mutation queue
package sync

import (
	"encoding/json"
	"fmt"

	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
)

// StoreOfflineData caches the last known body of an entity.
func (e *Engine) StoreOfflineData(collection, id string, data json.RawMessage) error {
	prefix := e.Config().StoragePrefix
	if err := e.store.PutCached(prefix, collection, id, data); err != nil {
		return fmt.Errorf("failed to cache %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetOfflineData returns every cached entity of a collection.
func (e *Engine) GetOfflineData(collection string) ([]json.RawMessage, error) {
	return e.store.Cached(e.Config().StoragePrefix, collection)
}

// DeadLetters returns items that exhausted their retries, oldest failure first.
func (e *Engine) DeadLetters() []models.DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.DeadLetter(nil), e.dead...)
}

// RetryDeadLetter moves a dead letter back into the queue with its retries reset.
func (e *Engine) RetryDeadLetter(id, collection string) error {
	e.mu.Lock()

	idx := -1
	for i, dl := range e.dead {
		if dl.ID == id && dl.Collection == collection {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, models.ItemKey(id, collection))
	}

	count, shouldSync, err := e.addLocked(e.dead[idx].PendingItem)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	e.dead = append(e.dead[:idx:idx], e.dead[idx+1:]...)
	err = e.store.SaveDeadLetters(e.cfg.StoragePrefix, e.dead)
	e.mu.Unlock()

	e.pub.Publish(events.PendingChanged(count))
	if shouldSync {
		e.goSync(0)
	}
	if err != nil {
		return fmt.Errorf("failed to persist dead letters: %w", err)
	}
	return nil
}

// PurgeDeadLetters discards every dead letter and returns how many were removed.
func (e *Engine) PurgeDeadLetters() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.dead)
	e.dead = nil
	if err := e.store.SaveDeadLetters(e.cfg.StoragePrefix, nil); err != nil {
		return n, fmt.Errorf("failed to persist dead letters: %w", err)
	}
	return n, nil
}
