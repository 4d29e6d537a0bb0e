// ABOUTME: Snapshot import that replays collections through the backend
// ABOUTME: Rejected collections are queued record by record for later delivery
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/harperreed/agencysync/models"
)

// SupportedVersions lists snapshot versions this build can read.
var SupportedVersions = []string{models.FormatVersion}

// ProgressFunc is called once per collection processed.
type ProgressFunc func(collection string, done, total int)

// ImportOptions filters collections and reports progress.
type ImportOptions struct {
	Entities []string // empty means every collection in the file
	Progress ProgressFunc
}

// Import reads a snapshot and delivers it. Failures are reported in the result, never returned.
func (s *Service) Import(ctx context.Context, r io.Reader, opts ImportOptions) *models.ImportResult {
	data, err := io.ReadAll(r)
	if err != nil {
		return failed(fmt.Sprintf("failed to read import file: %v", err))
	}

	file, err := parseSnapshot(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("import rejected")
		return failed(err.Error())
	}

	working := workingSet(file, opts.Entities)
	result := &models.ImportResult{
		ImportedEntities: []string{},
		Synced:           []string{},
		Queued:           []string{},
	}

	for i, collection := range working {
		records := file.Entities[collection]

		if err := s.api.PostImport(ctx, collection, records); err == nil {
			result.Synced = append(result.Synced, collection)
			result.ImportedEntities = append(result.ImportedEntities, collection)
			s.log.Info().Str("collection", collection).Int("records", len(records)).Msg("imported")
		} else {
			s.log.Warn().Err(err).Str("collection", collection).Msg("bulk import failed; queueing records for offline delivery")
			skipped, queueErr := s.queueRecords(collection, records)
			result.Skipped += skipped
			if queueErr != nil {
				s.log.Error().Err(queueErr).Str("collection", collection).Msg("failed to queue records")
				result.Failed = append(result.Failed, collection)
			} else {
				result.Queued = append(result.Queued, collection)
				result.ImportedEntities = append(result.ImportedEntities, collection)
			}
		}

		if opts.Progress != nil {
			opts.Progress(collection, i+1, len(working))
		}
	}

	result.Success = len(result.ImportedEntities) > 0
	result.Message = summarize(result)
	return result
}

// ImportFile opens path and imports it.
func (s *Service) ImportFile(ctx context.Context, path string, opts ImportOptions) *models.ImportResult {
	f, err := os.Open(path)
	if err != nil {
		return failed(fmt.Sprintf("failed to open %s: %v", path, err))
	}
	defer func() { _ = f.Close() }()
	return s.Import(ctx, f, opts)
}

// ReadFile loads and checks a snapshot without importing it.
func ReadFile(path string) (*models.ExportFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseSnapshot(data)
}

// queueRecords caches each record and queues it as an update. Records without an id are skipped.
func (s *Service) queueRecords(collection string, records []json.RawMessage) (skipped int, err error) {
	for _, rec := range records {
		id := gjson.GetBytes(rec, "id").String()
		if id == "" {
			skipped++
			continue
		}
		if err := s.cache.StoreOfflineData(collection, id, rec); err != nil {
			return skipped, err
		}
		err := s.queue.AddPendingItem(models.PendingItem{
			ID:         id,
			Collection: collection,
			Operation:  models.OperationUpdate,
			Data:       rec,
		})
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// parseSnapshot checks the required top-level keys before trusting the document.
func parseSnapshot(data []byte) (*models.ExportFile, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid format: not valid JSON")
	}

	var missing []string
	for _, key := range []string{"version", "entities", "metadata"} {
		if !gjson.GetBytes(data, key).Exists() {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("invalid format: missing %s", strings.Join(missing, ", "))
	}

	version := gjson.GetBytes(data, "version").String()
	if !slices.Contains(SupportedVersions, version) {
		return nil, fmt.Errorf("unsupported export version %q", version)
	}
	if !gjson.GetBytes(data, "entities").IsObject() {
		return nil, fmt.Errorf("invalid format: entities must be an object")
	}

	var file models.ExportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}
	return &file, nil
}

// workingSet is the filter intersected with the file's collections, in canonical order
// when no filter is given and in filter order otherwise.
func workingSet(file *models.ExportFile, filter []string) []string {
	var candidates []string
	if len(filter) == 0 {
		for _, e := range models.ExportableEntities {
			candidates = append(candidates, string(e))
		}
	} else {
		candidates = filter
	}

	var working []string
	for _, c := range candidates {
		if _, ok := file.Entities[c]; !ok || !models.IsExportable(c) || slices.Contains(working, c) {
			continue
		}
		working = append(working, c)
	}
	return working
}

func failed(msg string) *models.ImportResult {
	return &models.ImportResult{
		Success:          false,
		Message:          msg,
		ImportedEntities: []string{},
		Synced:           []string{},
		Queued:           []string{},
	}
}

func summarize(r *models.ImportResult) string {
	if !r.Success {
		if len(r.Failed) > 0 {
			return "No entities imported; failed: " + strings.Join(r.Failed, ", ")
		}
		return "No entities imported"
	}
	msg := fmt.Sprintf("Imported %d entities (%d synced, %d queued for sync)",
		len(r.ImportedEntities), len(r.Synced), len(r.Queued))
	if len(r.Failed) > 0 {
		msg += "; failed: " + strings.Join(r.Failed, ", ")
	}
	if r.Skipped > 0 {
		msg += fmt.Sprintf("; %d records without id skipped", r.Skipped)
	}
	return msg
}
