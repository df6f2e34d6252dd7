package types

import "time"

// Message is a single turn inside a conversation. Messages are immutable once
// created; a conversation is an append-only log. Within a conversation,
// CreatedAt defines the total order used for all windowed analysis.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`

	// ParentMessageID links threaded replies; empty for top-level messages.
	ParentMessageID string `json:"parent_message_id,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Conversation is a container for an ordered message log. UpdatedAt advances
// monotonically as messages are appended.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ConversationSummary is a generated summary of a conversation at one of
// three detail levels. Produced by the downstream summarization tool and
// scored by the summary quality validator.
type ConversationSummary struct {
	ConversationID string       `json:"conversation_id"`
	Level          SummaryLevel `json:"level"`
	SummaryText    string       `json:"summary_text"`
	TokenCount     int          `json:"token_count"`
	GeneratedAt    time.Time    `json:"generated_at,omitempty"`
}

// SummaryLevel selects how much detail a summary is expected to carry.
type SummaryLevel string

// Summary level constants.
const (
	SummaryBrief    SummaryLevel = "brief"
	SummaryStandard SummaryLevel = "standard"
	SummaryDetailed SummaryLevel = "detailed"
)
