// Package engine implements the Convoscope context intelligence core:
// entity-mention pattern analysis, topic-shift detection, historical
// relevance ranking, cross-conversation conflict detection, token-budgeted
// context-window assembly, and summary quality validation.
//
// Every component is a pure computation over data fetched at its entry
// point. Nothing in this package mutates the backing store, so all analyses
// may run concurrently for the same conversation.
package engine

import (
	"math"
	"time"

	"github.com/convoscope/convoscope/pkg/types"
)

// MentionTrend classifies how an entity's mention density evolves across a
// conversation.
type MentionTrend string

const (
	TrendIncreasing MentionTrend = "increasing"
	TrendDecreasing MentionTrend = "decreasing"
	TrendStable     MentionTrend = "stable"
	TrendSporadic   MentionTrend = "sporadic"
)

// EntityPattern summarizes one entity's mention behaviour over an ordered
// message window.
type EntityPattern struct {
	// Entity is the entity this pattern describes.
	Entity types.Entity `json:"entity"`

	// Frequency is the total number of mentions in the window.
	Frequency int `json:"frequency"`

	// FirstMention and LastMention are the timestamps of the earliest and
	// latest mentioning message.
	FirstMention time.Time `json:"first_mention"`
	LastMention  time.Time `json:"last_mention"`

	// MentionTrend classifies the mention density curve.
	MentionTrend MentionTrend `json:"mention_trend"`

	// AverageGapBetweenMentions is the mean distance, in message positions,
	// between consecutive mentions. Zero when the entity is mentioned once.
	AverageGapBetweenMentions float64 `json:"average_gap_between_mentions"`
}

// ShiftType classifies a detected topic shift.
type ShiftType string

const (
	// ShiftTopicPivot: the conversation abandoned most prior entities and
	// introduced a substantially new entity set.
	ShiftTopicPivot ShiftType = "topic_pivot"

	// ShiftContextExpansion: new entities were added on top of a retained core.
	ShiftContextExpansion ShiftType = "context_expansion"

	// ShiftEntityReplacement: a majority of prior entities were replaced.
	ShiftEntityReplacement ShiftType = "entity_replacement"

	// ShiftEntityAddition: the default classification for mild shifts.
	ShiftEntityAddition ShiftType = "entity_addition"
)

// TopicShift is a detected change of subject within a conversation. Derived
// and ephemeral; never persisted by the core.
type TopicShift struct {
	// ShiftMessage is the message at the window boundary where the shift
	// was detected.
	ShiftMessage types.Message `json:"shift_message"`

	// PreviousEntities and NewEntities are the entity sets of the windows
	// before and after the boundary.
	PreviousEntities []types.Entity `json:"previous_entities"`
	NewEntities      []types.Entity `json:"new_entities"`

	// ShiftConfidence is 1 minus the Jaccard overlap of the two entity-id
	// sets (0.0-1.0).
	ShiftConfidence float64 `json:"shift_confidence"`

	// ShiftType classifies the shift.
	ShiftType ShiftType `json:"shift_type"`

	// TriggerEntities are entities present after the boundary but absent
	// before it.
	TriggerEntities []types.Entity `json:"trigger_entities"`

	DetectedAt time.Time `json:"detected_at"`
}

// RelevanceType classifies why a historical conversation is relevant.
type RelevanceType string

const (
	// RelevanceEntityOverlap: most of the current entities also appear in
	// the historical conversation.
	RelevanceEntityOverlap RelevanceType = "entity_overlap"

	// RelevanceTopicContinuation: a meaningful subset of entities carries over.
	RelevanceTopicContinuation RelevanceType = "topic_continuation"

	// RelevanceRelationshipChain is an approximate catch-all for weaker
	// connections. No graph path-finding backs this classification.
	RelevanceRelationshipChain RelevanceType = "relationship_chain"
)

// RelevantHistory is one historical conversation scored against the current
// conversation's entity set.
type RelevantHistory struct {
	Conversation types.Conversation `json:"conversation"`

	// RelevantMessages are up to ten messages from the historical
	// conversation that mention a connecting entity.
	RelevantMessages []types.Message `json:"relevant_messages"`

	// ConnectingEntities are the current-conversation entities that also
	// appear in the historical conversation.
	ConnectingEntities []types.Entity `json:"connecting_entities"`

	// RelevanceScore is the weighted blend of entity overlap, recency, and
	// message density (0.0-1.0).
	RelevanceScore float64 `json:"relevance_score"`

	RelevanceType RelevanceType `json:"relevance_type"`

	// DaysSinceLastMention is the age of the newest connecting mention.
	DaysSinceLastMention int `json:"days_since_last_mention"`
}

// Claim is a typed key→value assertion extracted from mention text via
// pattern matching. Derived on demand; never persisted by the core.
type Claim struct {
	ClaimType      string  `json:"claim_type"`
	Value          string  `json:"value"`
	EntityID       string  `json:"entity_id"`
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	Confidence     float64 `json:"confidence"`
}

// ConflictingStatement is one side of a detected conflict.
type ConflictingStatement struct {
	Value          string    `json:"value"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Confidence     float64   `json:"confidence"`
	StatedAt       time.Time `json:"stated_at"`
}

// ConflictingInformation is a context-level conflict: the same claim type
// about one entity carries divergent values across conversations.
type ConflictingInformation struct {
	Entity                types.Entity           `json:"entity"`
	ConflictType          string                 `json:"conflict_type"`
	ClaimType             string                 `json:"claim_type"`
	ConflictingStatements []ConflictingStatement `json:"conflicting_statements"`

	// ConflictSeverity scores how urgent the conflict is (0.0-1.0).
	ConflictSeverity float64 `json:"conflict_severity"`

	SuggestedResolution string    `json:"suggested_resolution,omitempty"`
	DetectedAt          time.Time `json:"detected_at"`
}

// Context-level conflict type constants.
const (
	ConflictPropertyContradiction = "property_contradiction"
	ConflictRelationship          = "relationship_conflict"
	ConflictStatusInconsistency   = "status_inconsistency"
	ConflictTemporalImpossibility = "temporal_impossibility"
)

// ConflictSeverityLevel is the categorical severity used by the entity-level
// conflict checks.
type ConflictSeverityLevel string

const (
	SeverityLow      ConflictSeverityLevel = "low"
	SeverityMedium   ConflictSeverityLevel = "medium"
	SeverityHigh     ConflictSeverityLevel = "high"
	SeverityCritical ConflictSeverityLevel = "critical"
)

// AttributeValue is one observed value for an entity attribute, with its
// provenance.
type AttributeValue struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	MessageID  string    `json:"message_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// EntityKnowledge is the synthesized view of everything the mention history
// asserts about one entity.
type EntityKnowledge struct {
	Entity types.Entity `json:"entity"`

	// Attributes maps attribute name (e.g. "role", "location") to every
	// observed value.
	Attributes map[string][]AttributeValue `json:"attributes"`

	// Edges are the aggregated relationship-graph edges from this entity.
	Edges []KnowledgeEdge `json:"edges"`

	// MentionCount is the number of mentions the synthesis consumed.
	MentionCount int `json:"mention_count"`

	SynthesizedAt time.Time `json:"synthesized_at"`
}

// KnowledgeEdge is a relationship edge as seen by the synthesizer.
type KnowledgeEdge struct {
	TargetEntityID    string  `json:"target_entity_id"`
	RelationshipType  string  `json:"relationship_type"`
	RelationshipCount int     `json:"relationship_count"`
	AvgStrength       float64 `json:"avg_strength"`
}

// EntityConflict is an entity-level conflict found by the knowledge
// synthesizer's independent checks.
type EntityConflict struct {
	Entity       types.Entity          `json:"entity"`
	ConflictType string                `json:"conflict_type"`
	Attribute    string                `json:"attribute,omitempty"`
	Values       []AttributeValue      `json:"values,omitempty"`
	Description  string                `json:"description"`
	Severity     ConflictSeverityLevel `json:"severity"`

	// ResolutionSuggestion is a human-readable hint: prefer the
	// highest-confidence value, prefer the most recent value, or verify
	// manually.
	ResolutionSuggestion string    `json:"resolution_suggestion"`
	DetectedAt           time.Time `json:"detected_at"`
}

// ContextWindow is an assembled, token-budgeted context for a downstream
// assistant. Assembled fresh per request; never persisted by the core.
type ContextWindow struct {
	CoreEntities        []types.Entity  `json:"core_entities"`
	RecommendedMessages []types.Message `json:"recommended_messages"`

	// ContextRelevance is the fraction of (message, core entity) pairs
	// where the entity name occurs in the message content (0.0-1.0).
	ContextRelevance float64 `json:"context_relevance"`

	// EstimatedTokens never exceeds the caller's budget once history
	// admission has run; the base recent-message set alone may exceed it.
	EstimatedTokens int `json:"estimated_tokens"`

	// Freshness decays exponentially with the average message age
	// (7-day half-life), 0 when there are no messages.
	Freshness float64 `json:"freshness"`

	// PotentialEntities are relationship-graph neighbours of the core set,
	// capped at ten.
	PotentialEntities []types.Entity `json:"potential_entities"`
}

// ValidationMetrics are the five component scores of a summary validation.
// All values lie in [0,1].
type ValidationMetrics struct {
	InformationCoverage float64 `json:"information_coverage"`
	EntityPreservation  float64 `json:"entity_preservation"`
	Consistency         float64 `json:"consistency"`
	TokenCompliance     float64 `json:"token_compliance"`
	FactualAccuracy     float64 `json:"factual_accuracy"`
}

// ValidationResult is the scored outcome of validating a generated summary
// against its source messages.
type ValidationResult struct {
	// Score is the weighted blend of the five metrics (0.0-1.0).
	Score    float64           `json:"score"`
	Metrics  ValidationMetrics `json:"metrics"`
	Warnings []string          `json:"warnings"`
	Errors   []string          `json:"errors"`
}

// clamp01 forces a score into [0,1]. Every numeric output of this package is
// clamped before being returned, regardless of intermediate overflow in the
// weighted formulas.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
