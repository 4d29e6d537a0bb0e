// ABOUTME: Tests for the status API and its websocket event stream
// ABOUTME: Drives a real engine against the development backend
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
	"github.com/harperreed/agencysync/storage"
	offline "github.com/harperreed/agencysync/sync"
)

type statusFixture struct {
	srv    *httptest.Server
	engine *offline.Engine
	pub    *events.MemoryPublisher
}

func newStatusFixture(t *testing.T, opts ...StatusOption) *statusFixture {
	t.Helper()
	_, client := newDevBackend(t)

	kv, err := storage.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	engine := offline.NewEngine(storage.NewOfflineStore(kv), client,
		offline.WithPublisher(pub),
		offline.WithAutoSync(false),
	)
	t.Cleanup(engine.Close)
	require.NoError(t, engine.Load())
	require.NoError(t, engine.Configure(models.ConfigUpdate{Collections: []string{"tasks"}}))

	srv := httptest.NewServer(NewStatusServer(engine, pub, opts...).Handler())
	t.Cleanup(srv.Close)
	return &statusFixture{srv: srv, engine: engine, pub: pub}
}

func (f *statusFixture) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestStatusAPIQueueLifecycle(t *testing.T) {
	f := newStatusFixture(t)

	code, resp := f.do(t, http.MethodPost, "/pending", `{"id":"1","collection":"tasks","operation":"update","data":{"id":"1","title":"x"}}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, f.engine.PendingCount())

	code, resp = f.do(t, http.MethodGet, "/pending", "")
	require.Equal(t, http.StatusOK, code)
	items, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)

	code, resp = f.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp.Data.(map[string]any)["synced"], "offline until checked")

	code, resp = f.do(t, http.MethodPost, "/check", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]any)["online"])

	code, resp = f.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]any)["synced"])
	assert.Equal(t, "Synced 1 of 1 pending item(s)", resp.Message)
	assert.Equal(t, 0, f.engine.PendingCount())

	code, resp = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	status := resp.Data.(map[string]any)
	assert.Equal(t, true, status["online"])
	assert.EqualValues(t, 0, status["pending"])
	assert.NotNil(t, status["lastSync"])
}

func TestStatusAPIRejectsBadItems(t *testing.T) {
	f := newStatusFixture(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"unknown operation", `{"id":"1","collection":"tasks","operation":"upsert"}`, http.StatusBadRequest},
		{"missing data", `{"id":"1","collection":"tasks","operation":"update"}`, http.StatusBadRequest},
		{"not allowed", `{"id":"1","collection":"invoices","operation":"delete"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := f.do(t, http.MethodPost, "/pending", tt.body)
			assert.Equal(t, tt.code, code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.Equal(t, 0, f.engine.PendingCount())
}

func TestStatusAPIRemovePending(t *testing.T) {
	f := newStatusFixture(t)
	require.NoError(t, f.engine.AddPendingItem(models.PendingItem{ID: "7", Collection: "tasks", Operation: models.OperationDelete}))

	code, _ := f.do(t, http.MethodDelete, "/pending/tasks/7", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp := f.do(t, http.MethodDelete, "/pending/tasks/7", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, resp.Error, "tasks/7")
}

func TestStatusAPIDeadLetters(t *testing.T) {
	f := newStatusFixture(t)
	code, resp := f.do(t, http.MethodGet, "/dead-letters", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}

func TestStatusAPIToken(t *testing.T) {
	f := newStatusFixture(t, WithStatusToken("abc"))

	code, resp := f.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer abc")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStatusAPIEventStream(t *testing.T) {
	f := newStatusFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, f.engine.AddPendingItem(models.PendingItem{ID: "1", Collection: "tasks", Operation: models.OperationDelete}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(events.EventPendingChanged), ev.Type)
	assert.JSONEq(t, `{"count":1}`, string(ev.Data))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return f.pub.SubscriberCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStatusAPISyncWithoutWork(t *testing.T) {
	f := newStatusFixture(t)
	require.True(t, f.engine.CheckConnection(context.Background()))

	code, resp := f.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["synced"])
	assert.NotContains(t, data, "result")
}

func TestStatusAPINetworkSignal(t *testing.T) {
	f := newStatusFixture(t)
	sub := f.pub.Subscribe()

	code, resp := f.do(t, http.MethodPost, "/network", `{"online":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]any)["online"])
	assert.True(t, f.engine.IsOnline())

	code, resp = f.do(t, http.MethodPost, "/network", `{"online":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp.Data.(map[string]any)["online"])
	assert.False(t, f.engine.IsOnline())

	var seen []events.EventType
	for len(sub) > 0 {
		seen = append(seen, (<-sub).Type)
	}
	assert.Equal(t, []events.EventType{events.EventConnectivity, events.EventConnectivity}, seen)

	code, _ = f.do(t, http.MethodPost, "/network", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
