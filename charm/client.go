// ABOUTME: Charm KV client usable as the offline state store
// ABOUTME: Replicates queue and cache to a Charm server so devices share pending work
package charm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
	"github.com/dgraph-io/badger/v3"

	"github.com/harperreed/agencysync/storage"
)

// Client wraps charm KV and implements storage.KV.
type Client struct {
	kv         *kv.KV
	config     *Config
	mu         sync.RWMutex
	testClient *testClient // Used for testing without server dependency
}

var _ storage.KV = (*Client)(nil)

// NewClient opens the charm KV database for this app.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// charm reads the server from the environment
	_ = os.Setenv("CHARM_HOST", cfg.Host)

	db, err := kv.OpenWithDefaults(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	c := &Client{
		kv:     db,
		config: cfg,
	}

	// Pull queue entries written by other devices
	if cfg.AutoSync {
		_ = db.Sync()
	}

	return c, nil
}

// Close is a no-op; charm/kv does not expose Close and badger is released on exit.
func (c *Client) Close() error {
	if c.testClient != nil {
		return c.testClient.Close()
	}
	return nil
}

// Config returns the client's config.
func (c *Client) Config() *Config {
	if c.testClient != nil {
		return c.testClient.Config()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// ID returns the charm user ID for this device.
func (c *Client) ID() (string, error) {
	if c.testClient != nil {
		return "test-user", nil
	}
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.ID()
}

// Sync performs a manual sync with the charm server.
func (c *Client) Sync() error {
	if c.testClient != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Sync()
}

func (c *Client) Get(key string) ([]byte, error) {
	var (
		value []byte
		err   error
	)
	if c.testClient != nil {
		value, err = c.testClient.Get([]byte(key))
	} else {
		c.mu.RLock()
		value, err = c.kv.Get([]byte(key))
		c.mu.RUnlock()
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return value, err
}

// Set stores a value and syncs if enabled.
func (c *Client) Set(key string, value []byte) error {
	if c.testClient != nil {
		return c.testClient.Set([]byte(key), value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Set([]byte(key), value); err != nil {
		return err
	}

	// Sync while still holding lock to avoid race condition
	if c.config.AutoSync {
		_ = c.kv.Sync()
	}
	return nil
}

// Delete removes a key and syncs if enabled.
func (c *Client) Delete(key string) error {
	if c.testClient != nil {
		return c.testClient.Delete([]byte(key))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Delete([]byte(key)); err != nil {
		return err
	}

	if c.config.AutoSync {
		_ = c.kv.Sync()
	}
	return nil
}

// Keys returns keys starting with prefix. charm/kv has no prefix scan, so this filters all keys.
func (c *Client) Keys(prefix string) ([]string, error) {
	var (
		all [][]byte
		err error
	)
	if c.testClient != nil {
		all, err = c.testClient.Keys()
	} else {
		c.mu.RLock()
		all, err = c.kv.Keys()
		c.mu.RUnlock()
	}
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, k := range all {
		if strings.HasPrefix(string(k), prefix) {
			matched = append(matched, string(k))
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Reset wipes all data from the KV store (use with caution!)
func (c *Client) Reset() error {
	if c.testClient != nil {
		return c.testClient.Reset()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Reset()
}
