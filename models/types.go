// ABOUTME: Data models for the offline mutation queue
// ABOUTME: Defines PendingItem, Operation, DeadLetter, and SyncResult structs
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation a pending item replays against the backend.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ParseOperation converts user input into an Operation.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return op, nil
	default:
		return "", fmt.Errorf("invalid operation %q (must be create, update, or delete)", s)
	}
}

// PendingItem is one durable queue entry representing an unsynchronized mutation.
// The (ID, Collection) pair identifies it; re-adding the same pair replaces the entry.
type PendingItem struct {
	ID         string          `json:"id" validate:"required"`
	Collection string          `json:"collection" validate:"required"`
	Operation  Operation       `json:"operation" validate:"required,oneof=create update delete"`
	Data       json.RawMessage `json:"data,omitempty" validate:"required_unless=Operation delete"`
	Timestamp  int64           `json:"timestamp"` // epoch ms
	Retries    int             `json:"retries"`
}

// ItemKey builds the dedup key for an (id, collection) pair.
func ItemKey(id, collection string) string {
	return collection + "/" + id
}

// Key returns the dedup key of the item.
func (p PendingItem) Key() string {
	return ItemKey(p.ID, p.Collection)
}

// QueuedAt returns the item timestamp as a time.
func (p PendingItem) QueuedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// DeadLetter is a pending item that exhausted its retries.
type DeadLetter struct {
	PendingItem
	FailedAt  int64  `json:"failedAt"` // epoch ms
	LastError string `json:"lastError,omitempty"`
}

// SyncResult summarizes one drain pass.
type SyncResult struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Attempted  int       `json:"attempted"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Dropped    int       `json:"dropped"`
	Remaining  int       `json:"remaining"`
}

// Summary renders the user-facing notification for a finished pass.
func (r SyncResult) Summary() string {
	msg := fmt.Sprintf("Synced %d of %d pending item(s)", r.Synced, r.Attempted)
	if r.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Dropped > 0 {
		msg += fmt.Sprintf(", %d moved to dead letters", r.Dropped)
	}
	return msg
}
