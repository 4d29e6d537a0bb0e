// ABOUTME: Tests for the charm-backed KV using the in-memory test client
// ABOUTME: Also covers config persistence under an isolated XDG data home
package charm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/harperreed/agencysync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientImplementsKV(t *testing.T) {
	c := NewTestClient(t)

	_, err := c.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, c.Set("offline_sync_cache/tasks/2", []byte(`{"id":"2"}`)))
	require.NoError(t, c.Set("offline_sync_cache/tasks/1", []byte(`{"id":"1"}`)))
	require.NoError(t, c.Set("offline_sync_pending", []byte(`[]`)))

	keys, err := c.Keys("offline_sync_cache/tasks/")
	require.NoError(t, err)
	assert.Equal(t, []string{"offline_sync_cache/tasks/1", "offline_sync_cache/tasks/2"}, keys)

	require.NoError(t, c.Delete("offline_sync_pending"))
	_, err = c.Get("offline_sync_pending")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, c.Sync())
	id, err := c.ID()
	require.NoError(t, err)
	assert.Equal(t, "test-user", id)
}

func TestClientBacksOfflineStore(t *testing.T) {
	store := storage.NewOfflineStore(NewTestClient(t))

	cfg, _, err := store.LoadConfig()
	require.NoError(t, err)
	cfg.Collections = []string{"posts"}
	require.NoError(t, store.SaveConfig(cfg))

	loaded, found, err := store.LoadConfig()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"posts"}, loaded.Collections)
}

func TestClientReset(t *testing.T) {
	c := NewTestClient(t)
	require.NoError(t, c.Set("k", []byte("v")))
	require.NoError(t, c.Reset())

	keys, err := c.Keys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestConfigSaveAndLoad(t *testing.T) {
	orig := xdg.DataHome
	xdg.DataHome = t.TempDir()
	defer func() { xdg.DataHome = orig }()

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultCharmHost, cfg.Host)
	assert.Equal(t, AppName, cfg.Database)
	assert.True(t, cfg.AutoSync)

	cfg.Host = "https://charm.example.com/"
	cfg.Database = "studio-west"
	cfg.AutoSync = false
	require.NoError(t, cfg.Save())

	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "charm.example.com", loaded.Host)
	assert.Equal(t, "studio-west", loaded.Database)
	assert.False(t, loaded.AutoSync)
}

func TestConfigEnvOverrides(t *testing.T) {
	orig := xdg.DataHome
	xdg.DataHome = t.TempDir()
	defer func() { xdg.DataHome = orig }()
	t.Setenv("AGENCYSYNC_CHARM_HOST", "charm.internal")
	t.Setenv("AGENCYSYNC_CHARM_DB", "studio-east")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "charm.internal", cfg.Host)
	assert.Equal(t, "studio-east", cfg.Database)
}

func TestConfigRejectsCorruptFile(t *testing.T) {
	orig := xdg.DataHome
	xdg.DataHome = t.TempDir()
	defer func() { xdg.DataHome = orig }()

	require.NoError(t, os.MkdirAll(filepath.Dir(ConfigPath()), 0700))
	require.NoError(t, os.WriteFile(ConfigPath(), []byte("{not json"), 0600))

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "invalid")
}
