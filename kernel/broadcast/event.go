package broadcast

import (
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

// EventType names a debate stream event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventMessage   EventType = "message"
	EventError     EventType = "error"
	EventEnd       EventType = "end"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one ordered item on a session's stream.
//
// Data is one of ConnectedData, MessageData, ErrorData, EndData, or an
// RFC3339 timestamp string for heartbeats.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ConnectedData is sent once when a subscriber attaches.
type ConnectedData struct {
	ID string `json:"id"`
}

// MessageData carries the cumulative content of one logical message.
// Clients render by replacing content for the same id.
type MessageData struct {
	ID      string      `json:"id"`
	Role    debate.Role `json:"role"`
	Content string      `json:"content"`
	Final   bool        `json:"final,omitempty"`
}

// ErrorData signals an unrecoverable provider failure.
type ErrorData struct {
	Message string `json:"message"`
}

// EndReason classifies why a debate ended.
type EndReason string

const (
	EndCancelled EndReason = "cancelled"
	EndError     EndReason = "error"
	EndMaxTurns  EndReason = "max_turns"
)

// EndData concludes a session's stream. Nothing follows it.
type EndData struct {
	Message string    `json:"message"`
	Reason  EndReason `json:"reason,omitempty"`
}

func Connected(id string) Event {
	return Event{Type: EventConnected, Data: ConnectedData{ID: id}}
}

func Message(msg MessageData) Event {
	return Event{Type: EventMessage, Data: msg}
}

func Error(message string) Event {
	return Event{Type: EventError, Data: ErrorData{Message: message}}
}

func End(message string, reason EndReason) Event {
	return Event{Type: EventEnd, Data: EndData{Message: message, Reason: reason}}
}

func Heartbeat(at time.Time) Event {
	return Event{Type: EventHeartbeat, Data: at.UTC().Format(time.RFC3339)}
}
