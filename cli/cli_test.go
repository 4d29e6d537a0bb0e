// ABOUTME: Tests for CLI subcommands against an in-process development backend
// ABOUTME: Covers queueing, sync, configure, dead letters, export/import, history, and viz output
package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/agencysync/config"
	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/storage"
	"github.com/harperreed/agencysync/web"
)

type fixture struct {
	app     *App
	out     *bytes.Buffer
	backend *httptest.Server
	down    *atomic.Bool
}

// newFixture wires an App to a sqlite dev backend that can be switched off.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	backendDB, err := db.OpenMemoryDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backendDB.Close() })

	down := &atomic.Bool{}
	handler := web.NewBackendServer(backendDB).Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	kv, err := storage.OpenBadger("")
	require.NoError(t, err)
	history, err := db.OpenMemoryDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	settings := config.Defaults()
	settings.BackendURL = srv.URL
	settings.DeviceID = "01TESTDEVICE"

	app := NewApp(settings, storage.NewOfflineStore(kv), history, AppOptions{})
	t.Cleanup(app.Close)
	require.NoError(t, app.Engine.Load())
	// Probe while the queue is empty so later probes never schedule a background pass
	require.True(t, app.Engine.CheckConnection(context.Background()))

	out := &bytes.Buffer{}
	app.Out = out

	return &fixture{app: app, out: out, backend: srv, down: down}
}

func (f *fixture) run(t *testing.T, cmd func(context.Context, *App, []string) error, args ...string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, cmd(context.Background(), f.app, args))
	return f.out.String()
}

func TestConfigureAndAdd(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, ConfigureCommand, "--collections", "tasks, posts", "--max-retries", "2")
	assert.Contains(t, out, "✓ Configuration saved")
	assert.Contains(t, out, "tasks, posts")
	assert.Equal(t, 2, f.app.Engine.Config().MaxRetries)

	out = f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--data", `{"id":"t1","title":"Brief"}`)
	assert.Contains(t, out, "✓ Queued update of tasks/t1")
	assert.Contains(t, out, "Pending: 1")

	out = f.run(t, PendingCommand)
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "Total: 1 pending")
}

func TestAddRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")
	ctx := context.Background()

	err := AddCommand(ctx, f.app, []string{"--collection", "invoices", "--id", "1", "--data", "{}"})
	assert.ErrorContains(t, err, "not allowed")

	err = AddCommand(ctx, f.app, []string{"--collection", "tasks", "--id", "1", "--operation", "upsert", "--data", "{}"})
	assert.ErrorContains(t, err, "invalid operation")

	err = AddCommand(ctx, f.app, []string{"--collection", "tasks", "--id", "1", "--data", "{nope"})
	assert.ErrorContains(t, err, "not valid JSON")

	err = AddCommand(ctx, f.app, []string{"--collection", "tasks", "--data", "{}"})
	assert.ErrorContains(t, err, "--id is required")

	assert.Zero(t, f.app.Engine.PendingCount())
}

func TestAddCreateGeneratesID(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")

	f.run(t, AddCommand, "--collection", "tasks", "--operation", "create", "--data", `{"title":"New"}`)
	pending := f.app.Engine.Pending()
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].ID, 36)

	f.run(t, AddCommand, "--collection", "tasks", "--operation", "create", "--data", `{"id":"given"}`)
	assert.Equal(t, 2, f.app.Engine.PendingCount())
	assert.Equal(t, "given", f.app.Engine.Pending()[1].ID)
}

func TestAddReadsDataFile(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "posts")

	path := filepath.Join(t.TempDir(), "post.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"p1","body":"hi"}`), 0644))

	f.run(t, AddCommand, "--collection", "posts", "--id", "p1", "--data", "@"+path)
	assert.JSONEq(t, `{"id":"p1","body":"hi"}`, string(f.app.Engine.Pending()[0].Data))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--operation", "delete")

	out := f.run(t, RemoveCommand, "tasks", "t1")
	assert.Contains(t, out, "✓ Removed tasks/t1")

	err := RemoveCommand(context.Background(), f.app, []string{"tasks", "t1"})
	assert.ErrorContains(t, err, "no pending item tasks/t1")
}

func TestSyncDrainsQueueAndRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--data", `{"id":"t1"}`)
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t2", "--data", `{"id":"t2"}`)

	out := f.run(t, SyncCommand)
	assert.Contains(t, out, "✓ Synced 2 of 2 pending item(s)")
	assert.Zero(t, f.app.Engine.PendingCount())

	out = f.run(t, SyncCommand)
	assert.Contains(t, out, "Nothing to sync")

	out = f.run(t, HistoryCommand)
	assert.Contains(t, out, "STARTED")
	runs, err := db.ListSyncRuns(f.app.History, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Synced)
}

func TestSyncOfflineKeepsQueue(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--data", `{"id":"t1"}`)
	f.down.Store(true)

	err := SyncCommand(context.Background(), f.app, nil)
	assert.ErrorContains(t, err, "unreachable")
	assert.Equal(t, 1, f.app.Engine.PendingCount())

	err = CheckCommand(context.Background(), f.app, nil)
	assert.Error(t, err)

	f.down.Store(false)
	out := f.run(t, CheckCommand)
	assert.Contains(t, out, "is reachable")
}

func TestDeadLetterRetryAndPurge(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks", "--max-retries", "0")
	// PUT of a non-object body is rejected by the backend
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--data", `[1]`)

	out := f.run(t, SyncCommand)
	assert.Contains(t, out, "✗")
	require.Len(t, f.app.Engine.DeadLetters(), 1)

	out = f.run(t, DeadLettersCommand)
	assert.Contains(t, out, "tasks")
	assert.Contains(t, out, "t1")

	out = f.run(t, DeadLettersCommand, "retry", "tasks", "t1")
	assert.Contains(t, out, "✓ Requeued tasks/t1")
	assert.Equal(t, 1, f.app.Engine.PendingCount())
	assert.Empty(t, f.app.Engine.DeadLetters())

	err := DeadLettersCommand(context.Background(), f.app, []string{"retry", "tasks", "missing"})
	assert.ErrorContains(t, err, "no dead letter tasks/missing")

	f.run(t, SyncCommand)
	out = f.run(t, DeadLettersCommand, "purge")
	assert.Contains(t, out, "Purged 1 dead letter(s)")
	assert.Empty(t, f.app.Engine.DeadLetters())
}

func TestStatusJSON(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, StatusCommand, "--json")
	assert.Contains(t, out, `"online": true`)
	assert.Contains(t, out, `"pending": 0`)
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")

	// Seed the backend through the sync path
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--data", `{"id":"t1","title":"Brief"}`)
	f.run(t, SyncCommand)

	dir := t.TempDir()
	out := f.run(t, ExportCommand, "--entities", "tasks", "--dir", dir, "--name", "snap", "--description", "weekly")
	path := filepath.Join(dir, "snap.json")
	assert.Contains(t, out, path)

	out = f.run(t, ImportCommand, "--check", path)
	assert.Contains(t, out, "version 1.0")
	assert.Contains(t, out, "weekly")
	assert.Contains(t, out, "tasks")

	out = f.run(t, ImportCommand, path)
	assert.Contains(t, out, "1 synced")

	// With the backend down the records are queued instead
	f.down.Store(true)
	out = f.run(t, ImportCommand, path)
	assert.Contains(t, out, "queued for sync")
	assert.Equal(t, 1, f.app.Engine.PendingCount())
}

func TestExportRejectsUnknownCollection(t *testing.T) {
	f := newFixture(t)
	err := ExportCommand(context.Background(), f.app, []string{"--entities", "invoices", "--stdout"})
	assert.ErrorContains(t, err, `unknown collection "invoices"`)
}

func TestImportFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"9.9","timestamp":1,"entities":{},"metadata":{}}`), 0644))

	err := ImportCommand(context.Background(), f.app, []string{path})
	assert.ErrorContains(t, err, "unsupported export version")
}

func TestVizCommands(t *testing.T) {
	f := newFixture(t)
	f.run(t, ConfigureCommand, "--collections", "tasks")
	f.run(t, AddCommand, "--collection", "tasks", "--id", "t1", "--data", `{"id":"t1"}`)

	out := f.run(t, VizGraphCommand)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "collection_tasks")

	err := VizGraphCommand(context.Background(), f.app, []string{"--format", "svg"})
	assert.ErrorContains(t, err, "--output is required")

	out = f.run(t, VizDashboardCommand)
	assert.Contains(t, out, "PENDING BY COLLECTION")
}

func TestCharmCommandNeedsCharmStorage(t *testing.T) {
	f := newFixture(t)
	err := CharmCommand(context.Background(), f.app, []string{"status"})
	assert.ErrorContains(t, err, "run with --storage charm")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Equal(t, []string{}, splitList(""))
	assert.True(t, strings.HasPrefix(joinOrDash(nil), "-"))
}
