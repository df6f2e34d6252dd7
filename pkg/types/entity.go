package types

import "time"

// Entity represents a named entity extracted from conversation messages.
// Entities can be people, organizations, products, locations, concepts, etc.
// They are owned by the entity store and read-only from the analytics core's
// perspective.
type Entity struct {
	// Core identification fields
	ID             string     `json:"id"`              // Unique identifier
	Name           string     `json:"name"`            // Display name
	NormalizedName string     `json:"normalized_name"` // Lowercased, trimmed form used for matching
	Type           EntityType `json:"type"`            // Entity type (see EntityType constants)

	// Extraction quality and statistics
	ConfidenceScore float64   `json:"confidence_score"` // Extraction confidence (0.0-1.0)
	MentionCount    int       `json:"mention_count"`    // Number of mentions across all conversations
	LastMentionedAt time.Time `json:"last_mentioned_at"`

	// Additional context
	Metadata map[string]interface{} `json:"metadata,omitempty"` // Type-specific metadata
}

// EntityMention is an immutable append-only fact linking an entity occurrence
// to a position inside a message. Many mentions per entity, many per message.
type EntityMention struct {
	EntityID        string    `json:"entity_id"`
	MessageID       string    `json:"message_id"`
	ConversationID  string    `json:"conversation_id"`
	MentionText     string    `json:"mention_text"`
	StartPosition   int       `json:"start_position"`
	EndPosition     int       `json:"end_position"`
	ConfidenceScore float64   `json:"confidence_score"` // Mention-level confidence (0.0-1.0)
	CreatedAt       time.Time `json:"created_at"`
}
