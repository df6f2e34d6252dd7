package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable indicates a connectivity or query failure in the
	// backing store. Callers must not treat results wrapped in this error as
	// "no data"; genuinely empty result sets are returned without error.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SharedEntityConversation is one candidate row from
// FindConversationsSharingEntities: another conversation that mentions at
// least two of the probe entities.
type SharedEntityConversation struct {
	// ConversationID identifies the candidate conversation.
	ConversationID string

	// EntityCount is the number of probe entities mentioned in this
	// conversation.
	EntityCount int

	// LastMentionedAt is the most recent mention timestamp of any probe
	// entity within this conversation.
	LastMentionedAt time.Time

	// MessageCount is the number of distinct messages in this conversation
	// that mention a probe entity.
	MessageCount int
}

// RelationshipEdge is an aggregated view of the relationship graph: all
// relationships from one source entity to one target entity of one type,
// collapsed into a count and an average strength.
type RelationshipEdge struct {
	SourceEntityID    string
	TargetEntityID    string
	RelationshipType  string
	RelationshipCount int
	AvgStrength       float64
}
