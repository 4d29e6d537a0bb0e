// ABOUTME: Settings for replicating offline state through a Charm server
// ABOUTME: Picks the server and per-workspace database, with env overrides for shared machines
package charm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName names the data directory and the default database.
	AppName = "agencysync"

	ConfigFileName = "charm-config.json"
)

// Config selects where the replicated queue lives.
type Config struct {
	Host string `json:"host,omitempty"`

	// Database separates workspaces that share one Charm account
	Database string `json:"database,omitempty"`

	// AutoSync pushes every queue write to the server immediately
	AutoSync bool `json:"auto_sync"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:     DefaultCharmHost,
		Database: AppName,
		AutoSync: true,
	}
}

func ConfigPath() string {
	return filepath.Join(xdg.DataHome, AppName, ConfigFileName)
}

// LoadConfig reads the config file, falling back to defaults when absent.
// AGENCYSYNC_CHARM_HOST and AGENCYSYNC_CHARM_DB override the file.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ConfigPath(), err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if v := os.Getenv("AGENCYSYNC_CHARM_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("AGENCYSYNC_CHARM_DB"); v != "" {
		cfg.Database = v
	}

	cfg.normalize()
	return cfg, nil
}

// normalize accepts hosts pasted as URLs and fills blanks.
func (c *Config) normalize() {
	host := strings.TrimSpace(c.Host)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	c.Host = strings.TrimRight(host, "/")
	if c.Host == "" {
		c.Host = DefaultCharmHost
	}
	if strings.TrimSpace(c.Database) == "" {
		c.Database = AppName
	}
}

// Save writes the config file with owner-only permissions.
func (c *Config) Save() error {
	c.normalize()

	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
