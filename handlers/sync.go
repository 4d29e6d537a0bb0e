// ABOUTME: Offline queue MCP tool handlers
// ABOUTME: Implements queue_status, add/remove_pending_item, synchronize, check_connection, list_dead_letters
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/agencysync/models"
	offline "github.com/harperreed/agencysync/sync"
)

// Engine is the offline engine surface exposed as tools.
type Engine interface {
	Status() offline.Status
	Pending() []models.PendingItem
	AddPendingItem(item models.PendingItem) error
	RemovePendingItem(id, collection string) (bool, error)
	Synchronize(ctx context.Context) bool
	LastResult() (models.SyncResult, bool)
	CheckConnection(ctx context.Context) bool
	DeadLetters() []models.DeadLetter
}

type SyncHandlers struct {
	engine Engine
}

func NewSyncHandlers(engine Engine) *SyncHandlers {
	return &SyncHandlers{engine: engine}
}

type QueueStatusInput struct {
	IncludeItems bool `json:"include_items,omitempty" jsonschema:"Include every pending item in the response"`
}

type PendingItemOutput struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Operation  string          `json:"operation"`
	Data       json.RawMessage `json:"data,omitempty"`
	QueuedAt   string          `json:"queued_at"`
	Retries    int             `json:"retries"`
}

type QueueStatusOutput struct {
	Online      bool                `json:"online"`
	Syncing     bool                `json:"syncing"`
	Pending     int                 `json:"pending"`
	DeadLetters int                 `json:"dead_letters"`
	LastSync    string              `json:"last_sync,omitempty"`
	Collections []string            `json:"collections"`
	Items       []PendingItemOutput `json:"items,omitempty"`
}

func (h *SyncHandlers) QueueStatus(_ context.Context, request *mcp.CallToolRequest, input QueueStatusInput) (*mcp.CallToolResult, QueueStatusOutput, error) {
	status := h.engine.Status()
	out := QueueStatusOutput{
		Online:      status.Online,
		Syncing:     status.Syncing,
		Pending:     status.Pending,
		DeadLetters: status.DeadLetters,
		Collections: status.Config.Collections,
	}
	if status.LastSync != nil {
		out.LastSync = status.LastSync.Format(timeFormat)
	}
	if input.IncludeItems {
		for _, item := range h.engine.Pending() {
			out.Items = append(out.Items, pendingToOutput(item))
		}
	}
	return nil, out, nil
}

type AddPendingItemInput struct {
	ID         string         `json:"id,omitempty" jsonschema:"Entity id (generated for create when omitted)"`
	Collection string         `json:"collection" jsonschema:"Collection name, must be configured for offline sync (required)"`
	Operation  string         `json:"operation" jsonschema:"One of create, update, delete (required)"`
	Data       map[string]any `json:"data,omitempty" jsonschema:"Entity body; required unless operation is delete"`
}

type QueueChangeOutput struct {
	Key     string `json:"key"`
	Pending int    `json:"pending"`
}

func (h *SyncHandlers) AddPendingItem(_ context.Context, request *mcp.CallToolRequest, input AddPendingItemInput) (*mcp.CallToolResult, QueueChangeOutput, error) {
	if input.Collection == "" {
		return nil, QueueChangeOutput{}, fmt.Errorf("collection is required")
	}
	op, err := models.ParseOperation(input.Operation)
	if err != nil {
		return nil, QueueChangeOutput{}, err
	}

	id := input.ID
	if id == "" {
		if op != models.OperationCreate {
			return nil, QueueChangeOutput{}, fmt.Errorf("id is required for %s", op)
		}
		id = uuid.New().String()
	}

	item := models.PendingItem{ID: id, Collection: input.Collection, Operation: op}
	if input.Data != nil {
		if op == models.OperationCreate {
			if _, ok := input.Data["id"]; !ok {
				input.Data["id"] = id
			}
		}
		data, err := json.Marshal(input.Data)
		if err != nil {
			return nil, QueueChangeOutput{}, fmt.Errorf("failed to encode data: %w", err)
		}
		item.Data = data
	}

	if err := h.engine.AddPendingItem(item); err != nil {
		return nil, QueueChangeOutput{}, fmt.Errorf("failed to queue item: %w", err)
	}

	return nil, QueueChangeOutput{Key: item.Key(), Pending: h.engine.Status().Pending}, nil
}

type RemovePendingItemInput struct {
	ID         string `json:"id" jsonschema:"Entity id (required)"`
	Collection string `json:"collection" jsonschema:"Collection name (required)"`
}

func (h *SyncHandlers) RemovePendingItem(_ context.Context, request *mcp.CallToolRequest, input RemovePendingItemInput) (*mcp.CallToolResult, QueueChangeOutput, error) {
	if input.ID == "" || input.Collection == "" {
		return nil, QueueChangeOutput{}, fmt.Errorf("id and collection are required")
	}

	removed, err := h.engine.RemovePendingItem(input.ID, input.Collection)
	if err != nil {
		return nil, QueueChangeOutput{}, fmt.Errorf("failed to remove item: %w", err)
	}
	key := models.ItemKey(input.ID, input.Collection)
	if !removed {
		return nil, QueueChangeOutput{}, fmt.Errorf("no pending item %s", key)
	}
	return nil, QueueChangeOutput{Key: key, Pending: h.engine.Status().Pending}, nil
}

type SynchronizeInput struct{}

type SynchronizeOutput struct {
	Synced    bool   `json:"synced"`
	Summary   string `json:"summary"`
	Attempted int    `json:"attempted"`
	Failed    int    `json:"failed"`
	Dropped   int    `json:"dropped"`
	Remaining int    `json:"remaining"`
}

func (h *SyncHandlers) Synchronize(ctx context.Context, request *mcp.CallToolRequest, input SynchronizeInput) (*mcp.CallToolResult, SynchronizeOutput, error) {
	before, _ := h.engine.LastResult()
	synced := h.engine.Synchronize(ctx)

	result, ok := h.engine.LastResult()
	if !ok || result.StartedAt.Equal(before.StartedAt) {
		status := h.engine.Status()
		reason := "queue is empty"
		switch {
		case status.Syncing:
			reason = "a sync pass is already running"
		case !status.Online:
			reason = "backend is offline"
		}
		return nil, SynchronizeOutput{Summary: "Nothing synced: " + reason, Remaining: status.Pending}, nil
	}

	return nil, SynchronizeOutput{
		Synced:    synced,
		Summary:   result.Summary(),
		Attempted: result.Attempted,
		Failed:    result.Failed,
		Dropped:   result.Dropped,
		Remaining: result.Remaining,
	}, nil
}

type CheckConnectionInput struct{}

type CheckConnectionOutput struct {
	Online bool `json:"online"`
}

func (h *SyncHandlers) CheckConnection(ctx context.Context, request *mcp.CallToolRequest, input CheckConnectionInput) (*mcp.CallToolResult, CheckConnectionOutput, error) {
	return nil, CheckConnectionOutput{Online: h.engine.CheckConnection(ctx)}, nil
}

type ListDeadLettersInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"Only list dead letters for this collection"`
}

type DeadLetterOutput struct {
	PendingItemOutput
	FailedAt  string `json:"failed_at"`
	LastError string `json:"last_error"`
}

type ListDeadLettersOutput struct {
	DeadLetters []DeadLetterOutput `json:"dead_letters"`
	Count       int                `json:"count"`
}

func (h *SyncHandlers) ListDeadLetters(_ context.Context, request *mcp.CallToolRequest, input ListDeadLettersInput) (*mcp.CallToolResult, ListDeadLettersOutput, error) {
	out := ListDeadLettersOutput{DeadLetters: []DeadLetterOutput{}}
	for _, dl := range h.engine.DeadLetters() {
		if input.Collection != "" && dl.Collection != input.Collection {
			continue
		}
		out.DeadLetters = append(out.DeadLetters, DeadLetterOutput{
			PendingItemOutput: pendingToOutput(dl.PendingItem),
			FailedAt:          millisToString(dl.FailedAt),
			LastError:         dl.LastError,
		})
	}
	out.Count = len(out.DeadLetters)
	return nil, out, nil
}

func pendingToOutput(item models.PendingItem) PendingItemOutput {
	return PendingItemOutput{
		ID:         item.ID,
		Collection: item.Collection,
		Operation:  string(item.Operation),
		Data:       item.Data,
		QueuedAt:   item.QueuedAt().Format(timeFormat),
		Retries:    item.Retries,
	}
}
