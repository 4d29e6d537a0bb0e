// ABOUTME: Terminal dashboard statistics and rendering
// ABOUTME: Provides an ASCII overview of the offline queue and recent sync passes
package viz

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/models"
	offline "github.com/harperreed/agencysync/sync"
)

// StaleAfter marks pending items old enough to need attention.
const StaleAfter = 24 * time.Hour

type DashboardStats struct {
	Status offline.Status

	// Queue breakdown
	ByCollection map[string]CollectionStats

	// Recent passes, newest first
	RecentRuns []db.SyncRun

	// Needs attention
	Retrying    []models.PendingItem
	StaleItems  []StaleItem
	DeadLetters int
}

type CollectionStats struct {
	Collection string
	Create     int
	Update     int
	Delete     int
}

func (c CollectionStats) Total() int {
	return c.Create + c.Update + c.Delete
}

type StaleItem struct {
	Key      string
	HoursOld int
}

// GenerateDashboardStats summarizes a queue snapshot at now.
func GenerateDashboardStats(status offline.Status, pending []models.PendingItem, runs []db.SyncRun, now time.Time) *DashboardStats {
	stats := &DashboardStats{
		Status:       status,
		ByCollection: make(map[string]CollectionStats),
		RecentRuns:   runs,
		DeadLetters:  status.DeadLetters,
	}

	for _, item := range pending {
		cs := stats.ByCollection[item.Collection]
		cs.Collection = item.Collection
		switch item.Operation {
		case models.OperationCreate:
			cs.Create++
		case models.OperationDelete:
			cs.Delete++
		default:
			cs.Update++
		}
		stats.ByCollection[item.Collection] = cs

		if item.Retries > 0 {
			stats.Retrying = append(stats.Retrying, item)
		}
		if age := now.Sub(item.QueuedAt()); age > StaleAfter {
			stats.StaleItems = append(stats.StaleItems, StaleItem{
				Key:      item.Key(),
				HoursOld: int(age.Hours()),
			})
		}
	}

	return stats
}

func RenderDashboard(stats *DashboardStats) string {
	var out strings.Builder

	// Header
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	out.WriteString("  AGENCYSYNC OFFLINE QUEUE\n")
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	out.WriteString("STATUS\n")
	state := "🔴 offline"
	if stats.Status.Online {
		state = "🟢 online"
	}
	if stats.Status.Syncing {
		state += " (syncing)"
	}
	out.WriteString(fmt.Sprintf("  %s  📦 %d pending  ☠️  %d dead letters\n", state, stats.Status.Pending, stats.DeadLetters))
	if stats.Status.LastSync != nil {
		out.WriteString(fmt.Sprintf("  last sync: %s\n", stats.Status.LastSync.Local().Format("2006-01-02 15:04:05")))
	} else {
		out.WriteString("  last sync: never\n")
	}
	out.WriteString("\n")

	if len(stats.ByCollection) > 0 {
		out.WriteString("PENDING BY COLLECTION\n")
		renderCollections(&out, stats.ByCollection)
		out.WriteString("\n")
	}

	if len(stats.RecentRuns) > 0 {
		out.WriteString("RECENT SYNC PASSES\n")
		for _, run := range stats.RecentRuns {
			out.WriteString(fmt.Sprintf("  %s  %s\n", run.StartedAt.Local().Format("01-02 15:04"), run.Summary()))
		}
		out.WriteString("\n")
	}

	// Needs attention
	if len(stats.Retrying) > 0 || len(stats.StaleItems) > 0 || stats.DeadLetters > 0 {
		out.WriteString("NEEDS ATTENTION\n")

		if len(stats.Retrying) > 0 {
			out.WriteString(fmt.Sprintf("  ⚠️  %d items failing and retrying\n", len(stats.Retrying)))
		}
		if len(stats.StaleItems) > 0 {
			out.WriteString(fmt.Sprintf("  ⚠️  %d items queued for more than %d hours\n", len(stats.StaleItems), int(StaleAfter.Hours())))
		}
		if stats.DeadLetters > 0 {
			out.WriteString(fmt.Sprintf("  ⚠️  %d dead letters - see 'agencysync dead-letters list'\n", stats.DeadLetters))
		}
	}

	return out.String()
}

func renderCollections(out *strings.Builder, byCollection map[string]CollectionStats) {
	names := make([]string, 0, len(byCollection))
	maxCount := 0
	for name, cs := range byCollection {
		names = append(names, name)
		if cs.Total() > maxCount {
			maxCount = cs.Total()
		}
	}
	sort.Strings(names)
	if maxCount == 0 {
		maxCount = 1
	}

	for _, name := range names {
		cs := byCollection[name]
		// Calculate bar length (0-10 blocks)
		barLength := (cs.Total() * 10) / maxCount
		bar := strings.Repeat("█", barLength) + strings.Repeat("░", 10-barLength)

		out.WriteString(fmt.Sprintf("  %-12s %s  %2d (+%d ~%d -%d)\n",
			name, bar, cs.Total(), cs.Create, cs.Update, cs.Delete))
	}
}
