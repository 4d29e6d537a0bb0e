// ABOUTME: Database operations for the sync_runs table
// ABOUTME: Records the outcome of each queue drain pass for the history view
package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/harperreed/agencysync/models"
)

// SyncRun is one recorded drain pass.
type SyncRun struct {
	ID string
	models.SyncResult
}

// CreateSyncRun stores the result of a drain pass.
func CreateSyncRun(db *sql.DB, result models.SyncResult) (*SyncRun, error) {
	run := &SyncRun{ID: uuid.New().String(), SyncResult: result}

	_, err := db.Exec(`
		INSERT INTO sync_runs (id, started_at, finished_at, attempted, synced, failed, dropped, remaining)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, result.StartedAt.UTC(), result.FinishedAt.UTC(),
		result.Attempted, result.Synced, result.Failed, result.Dropped, result.Remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	return run, nil
}

// ListSyncRuns returns the most recent passes, newest first.
func ListSyncRuns(db *sql.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(`
		SELECT id, started_at, finished_at, attempted, synced, failed, dropped, remaining
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Attempted,
			&run.Synced,
			&run.Failed,
			&run.Dropped,
			&run.Remaining,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// SyncHistory adapts the sync_runs table to the engine's history hook.
type SyncHistory struct {
	DB *sql.DB
}

// RecordSyncRun implements the engine history recorder.
func (h SyncHistory) RecordSyncRun(result models.SyncResult) error {
	_, err := CreateSyncRun(h.DB, result)
	return err
}
