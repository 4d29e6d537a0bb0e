// ABOUTME: Tests for queue graph generation and the terminal dashboard
// ABOUTME: Checks DOT content and dashboard sections for a small queue
package viz

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/models"
	offline "github.com/harperreed/agencysync/sync"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleQueue() ([]models.PendingItem, []models.DeadLetter) {
	pending := []models.PendingItem{
		{ID: "t1", Collection: "tasks", Operation: models.OperationCreate, Data: json.RawMessage(`{}`), Timestamp: now.Add(-time.Hour).UnixMilli()},
		{ID: "t2", Collection: "tasks", Operation: models.OperationUpdate, Data: json.RawMessage(`{}`), Timestamp: now.Add(-48 * time.Hour).UnixMilli(), Retries: 2},
		{ID: "p1", Collection: "posts", Operation: models.OperationDelete, Timestamp: now.UnixMilli()},
	}
	dead := []models.DeadLetter{
		{PendingItem: models.PendingItem{ID: "c1", Collection: "clients", Operation: models.OperationUpdate}, LastError: "status 500"},
	}
	return pending, dead
}

func TestGenerateQueueGraph(t *testing.T) {
	pending, dead := sampleQueue()
	dot, err := NewGraphGenerator(pending, dead).GenerateQueueGraph()
	require.NoError(t, err)

	assert.Contains(t, dot, "digraph")
	for _, want := range []string{"collection_tasks", "collection_posts", "collection_clients", "pending_tasks/t2", "dead_clients/c1", "retries: 2", "status 500"} {
		assert.Contains(t, dot, want)
	}
}

func TestGenerateQueueGraphEmpty(t *testing.T) {
	dot, err := NewGraphGenerator(nil, nil).GenerateQueueGraph()
	require.NoError(t, err)
	assert.Contains(t, dot, "0 pending, 0 dead")
}

func TestRenderSVG(t *testing.T) {
	pending, dead := sampleQueue()
	out, err := NewGraphGenerator(pending, dead).Render(context.Background(), graphviz.SVG)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "<svg"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, graphviz.XDOT, f)

	f, err = ParseFormat("png")
	require.NoError(t, err)
	assert.Equal(t, graphviz.PNG, f)

	_, err = ParseFormat("gif")
	assert.Error(t, err)
}

func TestDashboard(t *testing.T) {
	pending, dead := sampleQueue()
	last := now.Add(-time.Minute)
	status := offline.Status{Online: true, Pending: len(pending), DeadLetters: len(dead), LastSync: &last}
	runs := []db.SyncRun{{ID: "r1", SyncResult: models.SyncResult{StartedAt: last, Attempted: 4, Synced: 3, Failed: 1}}}

	stats := GenerateDashboardStats(status, pending, runs, now)
	assert.Equal(t, 2, stats.ByCollection["tasks"].Total())
	assert.Equal(t, 1, stats.ByCollection["posts"].Delete)
	require.Len(t, stats.Retrying, 1)
	require.Len(t, stats.StaleItems, 1)
	assert.Equal(t, "tasks/t2", stats.StaleItems[0].Key)
	assert.Equal(t, 48, stats.StaleItems[0].HoursOld)

	out := RenderDashboard(stats)
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "PENDING BY COLLECTION")
	assert.Contains(t, out, "Synced 3 of 4 pending item(s), 1 failed")
	assert.Contains(t, out, "1 items failing and retrying")
	assert.Contains(t, out, "1 dead letters")
}

func TestDashboardEmpty(t *testing.T) {
	out := RenderDashboard(GenerateDashboardStats(offline.Status{}, nil, nil, now))
	assert.Contains(t, out, "offline")
	assert.Contains(t, out, "last sync: never")
	assert.NotContains(t, out, "NEEDS ATTENTION")
}
