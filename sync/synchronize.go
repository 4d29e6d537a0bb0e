// ABOUTME: Queue draining, connectivity probing, and the background trigger loops
// ABOUTME: One pass at a time; items replay oldest first with bounded retries
package sync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harperreed/agencysync/backend"
	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
)

// Synchronize drains a snapshot of the queue against the backend and reports
// whether at least one item synced. It returns false without doing anything
// when a pass is already running, the engine is offline, or the queue is empty.
// Items added during the pass wait for the next one.
func (e *Engine) Synchronize(ctx context.Context) bool {
	e.mu.Lock()
	if e.syncing || !e.online || len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	e.syncing = true
	snapshot := e.sortedLocked()
	e.mu.Unlock()

	e.pub.Publish(events.SyncStarted(len(snapshot)))
	e.log.Info().Int("pending", len(snapshot)).Msg("sync pass started")

	result := models.SyncResult{StartedAt: e.now(), Attempted: len(snapshot)}
	interrupted := false

	for _, item := range snapshot {
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		err := e.push(ctx, item)
		if err != nil && ctx.Err() != nil {
			// Cancelled mid-request; the item was not rejected by the backend
			interrupted = true
			break
		}

		e.mu.Lock()
		count := e.settleLocked(item, err, &result)
		e.mu.Unlock()

		e.pub.Publish(events.PendingChanged(count))
	}

	e.mu.Lock()
	result.FinishedAt = e.now()
	result.Remaining = len(e.queue)
	if !interrupted {
		e.lastSync = result.FinishedAt
		if err := e.store.SaveLastSync(e.cfg.StoragePrefix, e.lastSync); err != nil {
			e.log.Error().Err(err).Msg("failed to persist last sync time")
		}
	}
	e.lastResult = &result
	e.mu.Unlock()

	level := events.LevelInfo
	if result.Failed > 0 || result.Dropped > 0 {
		level = events.LevelWarning
	}
	e.pub.Publish(events.Notify(level, result.Summary()))

	if e.history != nil {
		if err := e.history.RecordSyncRun(result); err != nil {
			e.log.Warn().Err(err).Msg("failed to record sync history")
		}
	}

	e.log.Info().
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Int("dropped", result.Dropped).
		Int("remaining", result.Remaining).
		Bool("interrupted", interrupted).
		Msg("sync pass finished")

	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()
	e.pub.Publish(events.SyncEnded(result))

	return result.Synced > 0
}

// LastResult returns the outcome of the most recent pass, if any.
func (e *Engine) LastResult() (models.SyncResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return models.SyncResult{}, false
	}
	return *e.lastResult, true
}

func (e *Engine) push(ctx context.Context, item models.PendingItem) error {
	method, path, body := backend.RequestFor(item)
	err := e.api.Send(ctx, method, path, body)
	if err != nil {
		e.log.Warn().Err(err).Str("collection", item.Collection).Str("id", item.ID).Msg("pending item failed to sync")
	}
	return err
}

// settleLocked applies one item outcome to the live queue and persists it.
// The live entry is only touched while it is still the snapshotted version;
// an item replaced mid-pass keeps its newer data for the next pass.
func (e *Engine) settleLocked(item models.PendingItem, pushErr error, result *models.SyncResult) int {
	key := item.Key()
	live, current := e.queue[key]
	current = current && live.Timestamp == item.Timestamp

	switch {
	case pushErr == nil:
		result.Synced++
		if current {
			delete(e.queue, key)
		}
	case !current:
		result.Failed++
	case live.Retries < e.cfg.MaxRetries:
		result.Failed++
		live.Retries++
		e.queue[key] = live
	default:
		result.Dropped++
		delete(e.queue, key)
		dl := models.DeadLetter{
			PendingItem: live,
			FailedAt:    e.now().UnixMilli(),
			LastError:   pushErr.Error(),
		}
		e.dead = append(e.dead, dl)
		if err := e.store.SaveDeadLetters(e.cfg.StoragePrefix, e.dead); err != nil {
			e.log.Error().Err(err).Msg("failed to persist dead letters")
		}
		e.log.Error().
			Str("collection", live.Collection).
			Str("id", live.ID).
			Int("retries", live.Retries).
			Msg("pending item exceeded max retries; moved to dead letters")
		e.pub.Publish(events.DeadLettered(dl))
	}

	if err := e.persistQueueLocked(); err != nil {
		e.log.Error().Err(err).Msg("failed to persist queue during sync")
	}
	return len(e.queue)
}

// CheckConnection probes the backend and updates the online state. On a
// transition it emits a connectivity event; on regaining connectivity with
// queued work it schedules a pass after the reconnect delay.
func (e *Engine) CheckConnection(ctx context.Context) bool {
	err := e.api.Ping(ctx)
	online := err == nil

	e.mu.Lock()
	was := e.online
	e.online = online
	pending := len(e.queue)
	e.mu.Unlock()

	if was != online {
		if online {
			e.log.Info().Msg("backend reachable; now online")
		} else {
			e.log.Warn().Err(err).Msg("backend unreachable; now offline")
		}
		e.pub.Publish(events.Connectivity(online))
	}

	if !was && online && pending > 0 {
		e.goSync(e.reconnectDelay)
	}
	return online
}

// SetOnline feeds a platform connectivity signal. Coming online is verified
// with a probe; going offline is trusted immediately.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	if online {
		e.CheckConnection(ctx)
		return
	}

	e.mu.Lock()
	was := e.online
	e.online = false
	e.mu.Unlock()

	if was {
		e.log.Warn().Msg("network signal: offline")
		e.pub.Publish(events.Connectivity(false))
	}
}

// Run drives the periodic connectivity probe and sync pass until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(e.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				e.CheckConnection(ctx)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(e.syncInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-e.reconfigured:
				ticker.Reset(e.syncInterval())
			case <-ticker.C:
				e.Synchronize(ctx)
			}
		}
	})

	return g.Wait()
}

func (e *Engine) syncInterval() time.Duration {
	if d := e.Config().SyncInterval; d > 0 {
		return d
	}
	return models.DefaultSyncInterval
}

// goSync starts a pass in the background, optionally after delay.
func (e *Engine) goSync(delay time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-e.ctx.Done():
				return
			case <-timer.C:
			}
		}
		e.Synchronize(e.ctx)
	}()
}
