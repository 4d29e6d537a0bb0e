// ABOUTME: Application settings stored at XDG paths with .env and environment overrides
// ABOUTME: Covers backend location, credentials, storage backend, and device identity
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
)

// AppName names the XDG data directory.
const AppName = "agencysync"

// Storage backends.
const (
	StorageBadger = "badger"
	StorageSQLite = "sqlite"
	StorageCharm  = "charm"
)

const (
	DefaultBackendURL     = "http://localhost:8787"
	DefaultStatusAddr     = "127.0.0.1:7420"
	DefaultBackendAddr    = ":8787"
	DefaultRequestTimeout = 15
)

// ErrNotConfigured is returned when a command needs a backend URL that is not set.
var ErrNotConfigured = errors.New("backend url not configured")

// Settings stores backend credentials and local storage choices.
type Settings struct {
	BackendURL     string `json:"backend_url"`
	Token          string `json:"token,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	Storage        string `json:"storage"`
	RequestTimeout int    `json:"request_timeout_seconds"`
	StatusAddr     string `json:"status_addr"`
	BackendAddr    string `json:"backend_addr"`
}

// Dir returns the XDG data directory for the app.
func Dir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Path returns the settings file path.
func Path() string {
	return filepath.Join(Dir(), "config.json")
}

// BadgerDir is where the badger store lives.
func BadgerDir() string {
	return filepath.Join(Dir(), "badger")
}

// SQLitePath is the database for the sqlite store, sync history, and the dev backend.
func SQLitePath() string {
	return filepath.Join(Dir(), "agencysync.db")
}

// Defaults returns settings used before anything is saved.
func Defaults() *Settings {
	return &Settings{
		BackendURL:     DefaultBackendURL,
		Storage:        StorageBadger,
		RequestTimeout: DefaultRequestTimeout,
		StatusAddr:     DefaultStatusAddr,
		BackendAddr:    DefaultBackendAddr,
	}
}

// Load reads settings from disk and applies overrides.
// A .env in the working directory is loaded first; environment variables win over the file:
// - AGENCYSYNC_BACKEND_URL
// - AGENCYSYNC_TOKEN
// - AGENCYSYNC_DEVICE_ID
// - AGENCYSYNC_STORAGE
// - AGENCYSYNC_REQUEST_TIMEOUT
// - AGENCYSYNC_STATUS_ADDR.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	f, err := os.Open(Path())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Settings) {
	if v := os.Getenv("AGENCYSYNC_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("AGENCYSYNC_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("AGENCYSYNC_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("AGENCYSYNC_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("AGENCYSYNC_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeout = n
		}
	}
	if v := os.Getenv("AGENCYSYNC_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
}

// Save writes settings with owner-only permissions.
func (s *Settings) Save() error {
	if err := os.MkdirAll(Dir(), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the fields commands depend on.
func (s *Settings) Validate() error {
	if s.BackendURL == "" {
		return ErrNotConfigured
	}
	switch s.Storage {
	case StorageBadger, StorageSQLite, StorageCharm:
	default:
		return fmt.Errorf("unknown storage backend %q (use badger, sqlite, or charm)", s.Storage)
	}
	return nil
}

// Timeout returns the per-request backend timeout.
func (s *Settings) Timeout() time.Duration {
	if s.RequestTimeout <= 0 {
		return DefaultRequestTimeout * time.Second
	}
	return time.Duration(s.RequestTimeout) * time.Second
}

// EnsureDeviceID assigns and saves a device ID on first use.
func (s *Settings) EnsureDeviceID() (string, error) {
	if s.DeviceID != "" {
		return s.DeviceID, nil
	}
	s.DeviceID = GenerateDeviceID()
	if err := s.Save(); err != nil {
		return s.DeviceID, err
	}
	return s.DeviceID, nil
}

// GenerateDeviceID generates a new ULID for device identification.
func GenerateDeviceID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // device ids are not secrets
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
