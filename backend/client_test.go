// ABOUTME: Tests for the backend HTTP client against httptest servers
// ABOUTME: Covers request mapping, auth header, status errors, and timeouts
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harperreed/agencysync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFor(t *testing.T) {
	data := json.RawMessage(`{"title":"x"}`)

	method, path, body := RequestFor(models.PendingItem{ID: "42", Collection: "tasks", Operation: models.OperationUpdate, Data: data})
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/api/tasks/42", path)
	assert.Equal(t, []byte(data), body)

	method, path, body = RequestFor(models.PendingItem{ID: "42", Collection: "tasks", Operation: models.OperationCreate, Data: data})
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/tasks", path)
	assert.Equal(t, []byte(data), body)

	method, path, body = RequestFor(models.PendingItem{ID: "a b", Collection: "tasks", Operation: models.OperationDelete})
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/api/tasks/a%20b", path)
	assert.Nil(t, body)
}

func TestClientSendsBearerTokenAndJSON(t *testing.T) {
	var gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithToken("secret"))
	require.NoError(t, c.Send(context.Background(), http.MethodPost, "/api/tasks", []byte(`{"id":"1"}`)))

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"id":"1"}`, gotBody)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Send(context.Background(), http.MethodPut, "/api/tasks/1", []byte(`{}`))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "PUT /api/tasks/1: status 500", se.Error())
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/api/ping", r.URL.Path)
	}))
	c := NewClient(srv.URL)
	assert.NoError(t, c.Ping(context.Background()))

	srv.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	err := c.Send(context.Background(), http.MethodGet, "/api/slow", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClientExportImport(t *testing.T) {
	var imported []json.RawMessage
	mux := http.NewServeMux()
	mux.HandleFunc("/api/export/tasks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1"},{"id":"2"}]`))
	})
	mux.HandleFunc("/api/import/tasks", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&imported))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	records, err := c.FetchExport(context.Background(), "tasks")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, c.PostImport(context.Background(), "tasks", records))
	assert.Len(t, imported, 2)

	_, err = c.FetchExport(context.Background(), "projects")
	assert.Error(t, err)
}
