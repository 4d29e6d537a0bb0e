// ABOUTME: Snapshot export of entity collections into the versioned JSON document
// ABOUTME: Falls back to the offline cache when the backend cannot serve a collection
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/harperreed/agencysync/backend"
	"github.com/harperreed/agencysync/models"
)

// OfflineCache is the last-known entity store used when the backend is unavailable.
type OfflineCache interface {
	StoreOfflineData(collection, id string, data json.RawMessage) error
	GetOfflineData(collection string) ([]json.RawMessage, error)
}

// Queue accepts records that could not be imported directly.
type Queue interface {
	AddPendingItem(item models.PendingItem) error
}

// Service exports and imports snapshots.
type Service struct {
	api        backend.API
	cache      OfflineCache
	queue      Queue
	log        zerolog.Logger
	now        func() time.Time
	appVersion string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAppVersion sets metadata.appVersion on exported files.
func WithAppVersion(v string) Option {
	return func(s *Service) { s.appVersion = v }
}

func NewService(api backend.API, cache OfflineCache, queue Queue, opts ...Option) *Service {
	s := &Service{
		api:        api,
		cache:      cache,
		queue:      queue,
		log:        log.Logger.With().Str("component", "export").Logger(),
		now:        time.Now,
		appVersion: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportOptions controls metadata and the optional file write.
type ExportOptions struct {
	FileName    string // written under Dir with .json appended when missing
	Dir         string
	Description string
	ExportedBy  string
}

// Export builds a snapshot of the requested collections. A collection that
// neither the backend nor the cache can provide is omitted. The encoded
// document is returned whether or not a file was written.
func (s *Service) Export(ctx context.Context, entities []string, opts ExportOptions) ([]byte, error) {
	file := models.ExportFile{
		Version:   models.FormatVersion,
		Timestamp: s.now().UnixMilli(),
		Entities:  make(map[string][]json.RawMessage),
		Metadata: models.ExportMetadata{
			AppVersion:  s.appVersion,
			Description: opts.Description,
			ExportedBy:  opts.ExportedBy,
		},
	}

	for _, collection := range entities {
		if !models.IsExportable(collection) {
			s.log.Warn().Str("collection", collection).Msg("not an exportable collection; skipped")
			continue
		}
		if _, seen := file.Entities[collection]; seen {
			continue
		}

		records, err := s.api.FetchExport(ctx, collection)
		if err == nil {
			file.Entities[collection] = records
			s.refreshCache(collection, records)
			continue
		}

		s.log.Warn().Err(err).Str("collection", collection).Msg("export request failed; using offline cache")
		cached, cacheErr := s.cache.GetOfflineData(collection)
		if cacheErr != nil {
			s.log.Error().Err(cacheErr).Str("collection", collection).Msg("offline cache unavailable")
		}
		if len(cached) == 0 {
			s.log.Warn().Str("collection", collection).Msg("no data for collection; omitted from export")
			continue
		}
		file.Entities[collection] = cached
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	if opts.FileName != "" {
		path := FilePath(opts.Dir, opts.FileName)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return data, fmt.Errorf("failed to write %s: %w", path, err)
		}
		s.log.Info().Str("path", path).Int("collections", len(file.Entities)).Msg("export written")
	}

	return data, nil
}

// refreshCache writes fetched records through to the offline cache.
func (s *Service) refreshCache(collection string, records []json.RawMessage) {
	for _, rec := range records {
		id := gjson.GetBytes(rec, "id").String()
		if id == "" {
			continue
		}
		if err := s.cache.StoreOfflineData(collection, id, rec); err != nil {
			s.log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("failed to refresh offline cache")
			return
		}
	}
}

// FilePath joins dir and name, appending .json when missing.
func FilePath(dir, name string) string {
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}
	return filepath.Join(dir, name)
}
