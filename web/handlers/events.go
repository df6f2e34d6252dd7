package handlers

import (
	"time"

	"github.com/convoscope/convoscope/internal/engine"
)

// Event envelope broadcast over the WebSocket feed.
type Event struct {
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Event type constants.
const (
	EventTopicShift = "topic_shift"
	EventConflict   = "conflict"
)

// TopicShiftEvent is the payload broadcast when an analysis detects topic
// shifts in a conversation.
type TopicShiftEvent struct {
	ConversationID string              `json:"conversation_id"`
	Shifts         []engine.TopicShift `json:"shifts"`
}

// ConflictEvent is the payload broadcast when a conflict scan finds
// conflicting information.
type ConflictEvent struct {
	Conflicts []engine.ConflictingInformation `json:"conflicts"`
}

// analysisEngine is the callback registration surface of the context engine.
type analysisEngine interface {
	OnTopicShift(fn func(conversationID string, shifts []engine.TopicShift))
	OnConflict(fn func(conflicts []engine.ConflictingInformation))
}

// EventFeed forwards engine analysis signals to the WebSocket hub. Analyses
// run on demand (MCP tool calls or API requests); whenever one produces
// signal, every connected dashboard client sees it live.
type EventFeed struct {
	hub *WebSocketHub
}

// NewEventFeed creates a feed publishing to the given hub.
func NewEventFeed(hub *WebSocketHub) *EventFeed {
	return &EventFeed{hub: hub}
}

// Attach subscribes the feed to the engine's analysis callbacks.
func (f *EventFeed) Attach(eng analysisEngine) {
	eng.OnTopicShift(func(conversationID string, shifts []engine.TopicShift) {
		f.hub.Broadcast(Event{
			Type:       EventTopicShift,
			Payload:    TopicShiftEvent{ConversationID: conversationID, Shifts: shifts},
			OccurredAt: time.Now(),
		})
	})
	eng.OnConflict(func(conflicts []engine.ConflictingInformation) {
		f.hub.Broadcast(Event{
			Type:       EventConflict,
			Payload:    ConflictEvent{Conflicts: conflicts},
			OccurredAt: time.Now(),
		})
	})
}
