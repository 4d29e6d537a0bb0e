// ABOUTME: Typed events emitted by the offline sync engine
// ABOUTME: Consumers subscribe instead of listening on a global event target
package events

import (
	"time"

	"github.com/harperreed/agencysync/models"
)

// EventType defines the type of event.
type EventType string

const (
	// EventConnectivity indicates the online state flipped.
	EventConnectivity EventType = "connectivity"
	// EventPendingChanged indicates the queue was mutated.
	EventPendingChanged EventType = "pending_changed"
	// EventSyncStart indicates a drain pass began.
	EventSyncStart EventType = "sync_start"
	// EventSyncEnd indicates a drain pass finished.
	EventSyncEnd EventType = "sync_end"
	// EventNotification carries a user-facing message.
	EventNotification EventType = "notification"
	// EventDeadLetter indicates an item exhausted its retries.
	EventDeadLetter EventType = "dead_letter"
)

// Event represents a published event.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

type ConnectivityData struct {
	Online bool `json:"online"`
}

type PendingData struct {
	Count int `json:"count"`
}

type SyncStartData struct {
	Pending int `json:"pending"`
}

type SyncEndData struct {
	Result models.SyncResult `json:"result"`
}

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
)

type NotificationData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type DeadLetterData struct {
	Item models.DeadLetter `json:"item"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, Time: time.Now()}
}

func Connectivity(online bool) Event {
	return NewEvent(EventConnectivity, ConnectivityData{Online: online})
}

func PendingChanged(count int) Event {
	return NewEvent(EventPendingChanged, PendingData{Count: count})
}

func SyncStarted(pending int) Event {
	return NewEvent(EventSyncStart, SyncStartData{Pending: pending})
}

func SyncEnded(result models.SyncResult) Event {
	return NewEvent(EventSyncEnd, SyncEndData{Result: result})
}

func Notify(level, message string) Event {
	return NewEvent(EventNotification, NotificationData{Level: level, Message: message})
}

func DeadLettered(item models.DeadLetter) Event {
	return NewEvent(EventDeadLetter, DeadLetterData{Item: item})
}
