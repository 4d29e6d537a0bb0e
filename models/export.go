// ABOUTME: Versioned snapshot document produced by export and consumed by import
// ABOUTME: Also defines the exportable entity set and the two-phase import result
package models

import (
	"encoding/json"
	"slices"
)

// FormatVersion is the snapshot format written by this build.
const FormatVersion = "1.0"

// ExportableEntity names a collection that can appear in a snapshot.
type ExportableEntity string

const (
	EntityTasks     ExportableEntity = "tasks"
	EntityProjects  ExportableEntity = "projects"
	EntityClients   ExportableEntity = "clients"
	EntityDocuments ExportableEntity = "documents"
	EntityPosts     ExportableEntity = "posts"
)

// ExportableEntities lists every exportable collection in canonical order.
var ExportableEntities = []ExportableEntity{
	EntityTasks,
	EntityProjects,
	EntityClients,
	EntityDocuments,
	EntityPosts,
}

// IsExportable reports whether name is a known exportable collection.
func IsExportable(name string) bool {
	return slices.Contains(ExportableEntities, ExportableEntity(name))
}

// ExportMetadata is informational only and never validated against app state.
type ExportMetadata struct {
	AppVersion  string `json:"appVersion"`
	Description string `json:"description,omitempty"`
	ExportedBy  string `json:"exportedBy,omitempty"`
}

// ExportFile is the snapshot document.
type ExportFile struct {
	Version   string                       `json:"version"`
	Timestamp int64                        `json:"timestamp"` // epoch ms
	Entities  map[string][]json.RawMessage `json:"entities"`
	Metadata  ExportMetadata               `json:"metadata"`
}

// ImportResult reports what happened to each collection in a snapshot.
// ImportedEntities is Synced plus Queued: accepted now or accepted for later delivery.
type ImportResult struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	ImportedEntities []string `json:"importedEntities"`
	Synced           []string `json:"synced"`
	Queued           []string `json:"queued"`
	Failed           []string `json:"failed,omitempty"`
	Skipped          int      `json:"skipped,omitempty"`
}
