// ABOUTME: Tests for the offline sync engine against a scripted backend
// ABOUTME: Covers dedup, allow-list, ordering, bounded retry, idempotent drain, and reconnects
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/harperreed/agencysync/backend"
	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
	"github.com/harperreed/agencysync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Method string
	Path   string
	Body   string
}

// fakeAPI records every request; send decides the outcome of each one.
type fakeAPI struct {
	mu      sync.Mutex
	pingErr error
	send    func(n int, c call) error
	calls   []call
}

func (f *fakeAPI) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeAPI) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeAPI) Send(_ context.Context, method, path string, body []byte) error {
	c := call{Method: method, Path: path, Body: string(body)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	n := len(f.calls)
	send := f.send
	f.mu.Unlock()

	if send == nil {
		return nil
	}
	return send(n, c)
}

func (f *fakeAPI) FetchExport(context.Context, string) ([]json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) PostImport(context.Context, string, []json.RawMessage) error {
	return errors.New("not implemented")
}

func (f *fakeAPI) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

var errBackend = &backend.StatusError{Method: http.MethodPut, Path: "/api/tasks/42", StatusCode: 500}

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStore(t *testing.T) *storage.OfflineStore {
	t.Helper()
	kv, err := storage.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return storage.NewOfflineStore(kv)
}

func newEngine(t *testing.T, store *storage.OfflineStore, api *fakeAPI, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithAutoSync(false), WithClock(newStepClock().Now), WithReconnectDelay(time.Millisecond)}
	e := NewEngine(store, api, append(base, opts...)...)
	t.Cleanup(e.Close)
	require.NoError(t, e.Load())
	require.NoError(t, e.Configure(models.ConfigUpdate{Collections: []string{"tasks", "projects"}}))
	return e
}

func update(id, data string) models.PendingItem {
	return models.PendingItem{ID: id, Collection: "tasks", Operation: models.OperationUpdate, Data: json.RawMessage(data)}
}

func intPtr(n int) *int { return &n }

func TestAddPendingItemDedupByKey(t *testing.T) {
	e := newEngine(t, newStore(t), &fakeAPI{})

	require.NoError(t, e.AddPendingItem(update("1", `{"title":"first"}`)))
	require.NoError(t, e.AddPendingItem(update("1", `{"title":"second"}`)))

	assert.Equal(t, 1, e.PendingCount())
	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"title":"second"}`, string(pending[0].Data))
	assert.Equal(t, 0, pending[0].Retries)

	// Same id in another collection is a different entry
	other := update("1", `{}`)
	other.Collection = "projects"
	require.NoError(t, e.AddPendingItem(other))
	assert.Equal(t, 2, e.PendingCount())
}

func TestAddPendingItemRejectsUnknownCollection(t *testing.T) {
	store := newStore(t)
	e := newEngine(t, store, &fakeAPI{})

	item := update("1", `{}`)
	item.Collection = "invoices"
	err := e.AddPendingItem(item)

	assert.ErrorIs(t, err, ErrCollectionNotAllowed)
	assert.Equal(t, 0, e.PendingCount())

	persisted, err := store.LoadPending(models.DefaultStoragePrefix)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestAddPendingItemValidation(t *testing.T) {
	e := newEngine(t, newStore(t), &fakeAPI{})

	err := e.AddPendingItem(models.PendingItem{ID: "1", Collection: "tasks", Operation: models.OperationCreate})
	assert.ErrorIs(t, err, ErrInvalidItem, "create needs data")

	err = e.AddPendingItem(models.PendingItem{Collection: "tasks", Operation: models.OperationDelete})
	assert.ErrorIs(t, err, ErrInvalidItem, "id is required")

	err = e.AddPendingItem(models.PendingItem{ID: "1", Collection: "tasks", Operation: "upsert", Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidItem)

	require.NoError(t, e.AddPendingItem(models.PendingItem{
		ID: "1", Collection: "tasks", Operation: models.OperationDelete, Data: json.RawMessage(`{"ignored":true}`),
	}))
	assert.Nil(t, e.Pending()[0].Data, "delete items carry no data")
}

func TestRemovePendingItem(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	e := newEngine(t, newStore(t), &fakeAPI{}, WithPublisher(pub))
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))

	ch := pub.Subscribe()

	removed, err := e.RemovePendingItem("missing", "tasks")
	require.NoError(t, err)
	assert.False(t, removed)
	select {
	case ev := <-ch:
		t.Fatalf("no event expected for a no-op removal, got %v", ev.Type)
	default:
	}

	removed, err = e.RemovePendingItem("1", "tasks")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, e.PendingCount())

	ev := <-ch
	assert.Equal(t, events.EventPendingChanged, ev.Type)
	assert.Equal(t, events.PendingData{Count: 0}, ev.Data)
}

func TestSynchronizeDrainsOldestFirst(t *testing.T) {
	api := &fakeAPI{}
	e := newEngine(t, newStore(t), api)

	require.NoError(t, e.AddPendingItem(update("t1", `{"n":1}`)))
	require.NoError(t, e.AddPendingItem(models.PendingItem{ID: "t2", Collection: "tasks", Operation: models.OperationCreate, Data: json.RawMessage(`{"n":2}`)}))
	require.NoError(t, e.AddPendingItem(models.PendingItem{ID: "t3", Collection: "tasks", Operation: models.OperationDelete}))
	require.True(t, e.CheckConnection(context.Background()))
	e.Wait() // reconnect pass

	calls := api.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, call{Method: http.MethodPut, Path: "/api/tasks/t1", Body: `{"n":1}`}, calls[0])
	assert.Equal(t, call{Method: http.MethodPost, Path: "/api/tasks", Body: `{"n":2}`}, calls[1])
	assert.Equal(t, call{Method: http.MethodDelete, Path: "/api/tasks/t3"}, calls[2])
	assert.Equal(t, 0, e.PendingCount())
}

func TestSynchronizeOrderingSameMillisecond(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{}
	e := newEngine(t, newStore(t), api, WithClock(func() time.Time { return frozen }))

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, e.AddPendingItem(update(id, `{}`)))
	}
	e.SetOnline(context.Background(), true)
	e.Wait()

	var paths []string
	for _, c := range api.Calls() {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"/api/tasks/c", "/api/tasks/a", "/api/tasks/b"}, paths)
}

func TestSynchronizeGuards(t *testing.T) {
	api := &fakeAPI{}
	e := newEngine(t, newStore(t), api)
	ctx := context.Background()

	require.True(t, e.CheckConnection(ctx))
	assert.False(t, e.Synchronize(ctx), "empty queue")

	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	e.SetOnline(ctx, false)
	assert.False(t, e.IsOnline())
	assert.False(t, e.Synchronize(ctx), "offline")
	assert.Empty(t, api.Calls())
}

func TestSynchronizeNoOverlappingPasses(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{send: func(n int, _ call) error {
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	}}
	e := newEngine(t, newStore(t), api)
	ctx := context.Background()

	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	api.setPingErr(nil)
	e.mu.Lock()
	e.online = true
	e.mu.Unlock()

	done := make(chan bool)
	go func() { done <- e.Synchronize(ctx) }()
	<-started

	assert.True(t, e.IsSyncing())
	assert.False(t, e.Synchronize(ctx), "second caller must not start a pass")
	close(release)

	assert.True(t, <-done)
	assert.Len(t, api.Calls(), 1)
	assert.False(t, e.IsSyncing())
}

func TestSynchronizeBoundedRetry(t *testing.T) {
	api := &fakeAPI{send: func(int, call) error { return errBackend }}
	store := newStore(t)
	e := newEngine(t, store, api)
	ctx := context.Background()
	require.NoError(t, e.Configure(models.ConfigUpdate{MaxRetries: intPtr(2)}))

	require.NoError(t, e.AddPendingItem(update("42", `{"title":"x"}`)))
	e.online = true

	for pass := 1; pass <= 3; pass++ {
		assert.False(t, e.Synchronize(ctx))
	}

	assert.Len(t, api.Calls(), 3, "one initial attempt plus maxRetries retries")
	assert.Equal(t, 0, e.PendingCount())

	dead := e.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "42", dead[0].ID)
	assert.Equal(t, 2, dead[0].Retries)
	assert.Contains(t, dead[0].LastError, "status 500")

	persisted, err := store.LoadDeadLetters(models.DefaultStoragePrefix)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)

	last, ok := e.LastResult()
	require.True(t, ok)
	assert.Equal(t, 1, last.Dropped)
}

func TestConcreteRetryScenario(t *testing.T) {
	api := &fakeAPI{send: func(n int, c call) error {
		if c.Method != http.MethodPut || c.Path != "/api/tasks/42" {
			return errors.New("unexpected request")
		}
		if n <= 2 {
			return errBackend
		}
		return nil
	}}
	e := newEngine(t, newStore(t), api)
	ctx := context.Background()

	require.NoError(t, e.Configure(models.ConfigUpdate{Collections: []string{"tasks"}, MaxRetries: intPtr(2)}))
	require.NoError(t, e.AddPendingItem(update("42", `{"title":"x"}`)))
	e.online = true

	assert.False(t, e.Synchronize(ctx))
	assert.False(t, e.Synchronize(ctx))

	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Retries)
	before := e.LastSyncTime()

	assert.True(t, e.Synchronize(ctx))
	assert.Equal(t, 0, e.PendingCount())
	assert.True(t, e.LastSyncTime().After(before))
	assert.Empty(t, e.DeadLetters())
}

func TestSynchronizeKeepsItemReplacedMidPass(t *testing.T) {
	var e *Engine
	api := &fakeAPI{}
	api.send = func(n int, _ call) error {
		if n == 1 {
			require.NoError(t, e.AddPendingItem(update("1", `{"v":2}`)))
		}
		return nil
	}
	e = newEngine(t, newStore(t), api)

	require.NoError(t, e.AddPendingItem(update("1", `{"v":1}`)))
	e.online = true

	assert.True(t, e.Synchronize(context.Background()))

	pending := e.Pending()
	require.Len(t, pending, 1, "newer version must survive the pass")
	assert.JSONEq(t, `{"v":2}`, string(pending[0].Data))

	assert.True(t, e.Synchronize(context.Background()))
	assert.Equal(t, 0, e.PendingCount())
}

func TestSynchronizeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{send: func(int, call) error {
		cancel()
		return nil
	}}
	e := newEngine(t, newStore(t), api)
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	require.NoError(t, e.AddPendingItem(update("2", `{}`)))
	e.online = true

	assert.True(t, e.Synchronize(ctx))
	assert.Len(t, api.Calls(), 1)
	assert.Equal(t, 1, e.PendingCount())
	assert.True(t, e.LastSyncTime().IsZero(), "interrupted pass does not count as a sync")
}

func TestSynchronizeCancelledRequestIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{send: func(int, call) error {
		cancel()
		return ctx.Err()
	}}
	e := newEngine(t, newStore(t), api)
	require.NoError(t, e.Configure(models.ConfigUpdate{MaxRetries: intPtr(0)}))
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	require.NoError(t, e.AddPendingItem(update("2", `{}`)))
	e.online = true

	assert.False(t, e.Synchronize(ctx))
	assert.Len(t, api.Calls(), 1)
	assert.Equal(t, 2, e.PendingCount())
	assert.Empty(t, e.DeadLetters())
	for _, item := range e.Pending() {
		assert.Zero(t, item.Retries)
	}
	assert.True(t, e.LastSyncTime().IsZero())
	assert.False(t, e.IsSyncing())
}

func TestLoadRepairsInvalidStoredConfig(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.KV().Set(storage.ConfigKey, []byte(`{"collections":["tasks"],"syncInterval":0,"maxRetries":-1}`)))

	e := NewEngine(store, &fakeAPI{}, WithAutoSync(false))
	t.Cleanup(e.Close)
	require.NoError(t, e.Load())

	cfg := e.Config()
	assert.Equal(t, []string{"tasks"}, cfg.Collections)
	assert.Equal(t, models.DefaultSyncInterval, cfg.SyncInterval)
	assert.Equal(t, models.DefaultMaxRetries, cfg.MaxRetries)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, e.Run(ctx))
}

func TestSynchronizeEmitsEvents(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	history := &recorder{}
	api := &fakeAPI{}
	e := newEngine(t, newStore(t), api, WithPublisher(pub), WithHistory(history))
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	e.online = true

	ch := pub.Subscribe()
	require.True(t, e.Synchronize(context.Background()))

	var types []events.EventType
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventSyncStart,
		events.EventPendingChanged,
		events.EventNotification,
		events.EventSyncEnd,
	}, types)

	runs := history.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Synced)
}

func TestCheckConnectionTransitions(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	api := &fakeAPI{pingErr: errors.New("connection refused")}
	e := newEngine(t, newStore(t), api, WithPublisher(pub))
	ch := pub.Subscribe()
	ctx := context.Background()

	assert.False(t, e.CheckConnection(ctx))
	assert.Equal(t, 0, len(ch), "offline to offline is not a transition")

	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	<-ch // pending changed

	api.setPingErr(nil)
	assert.True(t, e.CheckConnection(ctx))
	ev := <-ch
	assert.Equal(t, events.EventConnectivity, ev.Type)
	assert.Equal(t, events.ConnectivityData{Online: true}, ev.Data)

	e.Wait()
	assert.Equal(t, 0, e.PendingCount(), "reconnect with queued work schedules a pass")

	api.setPingErr(errors.New("timeout"))
	assert.False(t, e.CheckConnection(ctx))
	assert.False(t, e.IsOnline())
}

func TestAutoSyncOnAdd(t *testing.T) {
	api := &fakeAPI{}
	e := newEngine(t, newStore(t), api, WithAutoSync(true))
	require.True(t, e.CheckConnection(context.Background()))

	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	e.Wait()

	assert.Len(t, api.Calls(), 1)
	assert.Equal(t, 0, e.PendingCount())
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	store := newStore(t)
	api := &fakeAPI{}
	e := newEngine(t, store, api)
	require.NoError(t, e.Configure(models.ConfigUpdate{MaxRetries: intPtr(3)}))
	require.NoError(t, e.AddPendingItem(update("1", `{"a":1}`)))
	require.NoError(t, e.AddPendingItem(update("2", `{"a":2}`)))

	reloaded := NewEngine(store, api)
	defer reloaded.Close()
	require.NoError(t, reloaded.Load())

	assert.Equal(t, 3, reloaded.Config().MaxRetries)
	assert.Equal(t, []string{"tasks", "projects"}, reloaded.Config().Collections)
	assert.Equal(t, e.Pending(), reloaded.Pending())
}

func TestConfigureMovesStateWithPrefix(t *testing.T) {
	store := newStore(t)
	e := newEngine(t, store, &fakeAPI{})
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))

	prefix := "tenant_a_"
	require.NoError(t, e.Configure(models.ConfigUpdate{StoragePrefix: &prefix}))

	items, err := store.LoadPending(prefix)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	cfg, found, err := store.LoadConfig()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, prefix, cfg.StoragePrefix)
}

func TestConfigureRejectsInvalid(t *testing.T) {
	e := newEngine(t, newStore(t), &fakeAPI{})

	assert.ErrorIs(t, e.Configure(models.ConfigUpdate{MaxRetries: intPtr(-1)}), ErrInvalidConfig)
	zero := time.Duration(0)
	assert.ErrorIs(t, e.Configure(models.ConfigUpdate{SyncInterval: &zero}), ErrInvalidConfig)
	assert.ErrorIs(t, e.Configure(models.ConfigUpdate{Collections: []string{"a/b"}}), ErrInvalidConfig)
	assert.Equal(t, models.DefaultMaxRetries, e.Config().MaxRetries)
}

func TestConfigureDoesNotRevalidateQueue(t *testing.T) {
	e := newEngine(t, newStore(t), &fakeAPI{})
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))

	require.NoError(t, e.Configure(models.ConfigUpdate{Collections: []string{"projects"}}))
	assert.Equal(t, 1, e.PendingCount())
}

func TestDeadLetterRetryAndPurge(t *testing.T) {
	fail := true
	var mu sync.Mutex
	api := &fakeAPI{send: func(int, call) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errBackend
		}
		return nil
	}}
	e := newEngine(t, newStore(t), api)
	require.NoError(t, e.Configure(models.ConfigUpdate{MaxRetries: intPtr(0)}))
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))
	require.NoError(t, e.AddPendingItem(update("2", `{}`)))
	e.online = true

	e.Synchronize(context.Background())
	require.Len(t, e.DeadLetters(), 2)

	assert.ErrorIs(t, e.RetryDeadLetter("nope", "tasks"), ErrNotFound)

	require.NoError(t, e.RetryDeadLetter("1", "tasks"))
	assert.Len(t, e.DeadLetters(), 1)
	assert.Equal(t, 1, e.PendingCount())

	mu.Lock()
	fail = false
	mu.Unlock()
	assert.True(t, e.Synchronize(context.Background()))

	n, err := e.PurgeDeadLetters()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, e.DeadLetters())
}

func TestOfflineDataCache(t *testing.T) {
	e := newEngine(t, newStore(t), &fakeAPI{})

	require.NoError(t, e.StoreOfflineData("documents", "d1", json.RawMessage(`{"id":"d1"}`)))
	require.NoError(t, e.StoreOfflineData("documents", "d2", json.RawMessage(`{"id":"d2"}`)))

	records, err := e.GetOfflineData("documents")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 0, e.PendingCount(), "cache is separate from the queue")
}

func TestRunDrivesProbeAndSync(t *testing.T) {
	api := &fakeAPI{}
	e := newEngine(t, newStore(t), api, WithProbeInterval(10*time.Millisecond), WithReconnectDelay(time.Hour))
	interval := 20 * time.Millisecond
	require.NoError(t, e.Configure(models.ConfigUpdate{SyncInterval: &interval}))
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.PendingCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, e.IsOnline())

	cancel()
	assert.NoError(t, <-done)
}

func TestStatusSnapshot(t *testing.T) {
	e := newEngine(t, newStore(t), &fakeAPI{})
	require.NoError(t, e.AddPendingItem(update("1", `{}`)))

	st := e.Status()
	assert.False(t, st.Online)
	assert.Equal(t, 1, st.Pending)
	assert.Nil(t, st.LastSync)
	assert.Equal(t, []string{"tasks", "projects"}, st.Config.Collections)
}

type recorder struct {
	mu   sync.Mutex
	runs []models.SyncResult
}

func (r *recorder) RecordSyncRun(result models.SyncResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, result)
	return nil
}

func (r *recorder) Runs() []models.SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SyncResult(nil), r.runs...)
}
