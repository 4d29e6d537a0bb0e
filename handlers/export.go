// ABOUTME: Snapshot MCP tool handlers
// ABOUTME: Implements export_data and import_data on top of the export service
package handlers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/harperreed/agencysync/export"
	"github.com/harperreed/agencysync/models"
)

const timeFormat = time.RFC3339

// Snapshots is the export/import surface exposed as tools.
type Snapshots interface {
	Export(ctx context.Context, entities []string, opts export.ExportOptions) ([]byte, error)
	ImportFile(ctx context.Context, path string, opts export.ImportOptions) *models.ImportResult
}

type ExportHandlers struct {
	snapshots  Snapshots
	dir        string
	exportedBy string
}

// NewExportHandlers writes snapshots under dir, stamping exportedBy into their metadata.
func NewExportHandlers(snapshots Snapshots, dir, exportedBy string) *ExportHandlers {
	return &ExportHandlers{snapshots: snapshots, dir: dir, exportedBy: exportedBy}
}

type ExportDataInput struct {
	Entities    []string `json:"entities,omitempty" jsonschema:"Collections to export: tasks, projects, clients, documents, posts (default all)"`
	FileName    string   `json:"file_name,omitempty" jsonschema:"Output file name, .json appended when missing (default agency-export-<timestamp>)"`
	Description string   `json:"description,omitempty" jsonschema:"Free-text description stored in the snapshot metadata"`
}

type ExportDataOutput struct {
	Path     string   `json:"path"`
	Bytes    int      `json:"bytes"`
	Entities int      `json:"entities"`
	Exported []string `json:"exported"`
	// Omitted lists requested collections with no backend or cached data
	Omitted []string `json:"omitted,omitempty"`
}

func (h *ExportHandlers) ExportData(ctx context.Context, request *mcp.CallToolRequest, input ExportDataInput) (*mcp.CallToolResult, ExportDataOutput, error) {
	entities := input.Entities
	if len(entities) == 0 {
		entities = allEntities()
	}
	for _, e := range entities {
		if !models.IsExportable(e) {
			return nil, ExportDataOutput{}, fmt.Errorf("invalid entity: %s (valid: tasks, projects, clients, documents, posts)", e)
		}
	}

	name := input.FileName
	if name == "" {
		name = DefaultExportName(time.Now())
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, ExportDataOutput{}, fmt.Errorf("invalid file name %q: must not contain a path", name)
	}

	data, err := h.snapshots.Export(ctx, entities, export.ExportOptions{
		FileName:    name,
		Dir:         h.dir,
		Description: input.Description,
		ExportedBy:  h.exportedBy,
	})
	if err != nil {
		return nil, ExportDataOutput{}, fmt.Errorf("export failed: %w", err)
	}

	out := ExportDataOutput{
		Path:     export.FilePath(h.dir, name),
		Bytes:    len(data),
		Exported: []string{},
	}
	gjson.GetBytes(data, "entities").ForEach(func(key, _ gjson.Result) bool {
		out.Exported = append(out.Exported, key.String())
		return true
	})
	for _, e := range entities {
		if !slices.Contains(out.Exported, e) && !slices.Contains(out.Omitted, e) {
			out.Omitted = append(out.Omitted, e)
		}
	}
	out.Entities = len(out.Exported)

	return nil, out, nil
}

type ImportDataInput struct {
	Path     string   `json:"path" jsonschema:"Path to a snapshot file (required)"`
	Entities []string `json:"entities,omitempty" jsonschema:"Only import these collections (default every collection in the file)"`
}

func (h *ExportHandlers) ImportData(ctx context.Context, request *mcp.CallToolRequest, input ImportDataInput) (*mcp.CallToolResult, models.ImportResult, error) {
	if input.Path == "" {
		return nil, models.ImportResult{}, fmt.Errorf("path is required")
	}
	result := h.snapshots.ImportFile(ctx, input.Path, export.ImportOptions{Entities: input.Entities})
	return nil, *result, nil
}

// DefaultExportName is the file name used when none is given.
func DefaultExportName(now time.Time) string {
	return "agency-export-" + now.Format("20060102-150405")
}

func allEntities() []string {
	out := make([]string, 0, len(models.ExportableEntities))
	for _, e := range models.ExportableEntities {
		out = append(out, string(e))
	}
	return out
}

func millisToString(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timeFormat)
}
