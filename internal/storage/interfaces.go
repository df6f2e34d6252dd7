// Package storage provides composable storage interfaces for the Convoscope
// system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The analytics core in
// internal/engine depends only on the read-side ConversationStore; the write
// side exists for importers, tests, and the upstream extraction pipeline.
package storage

import (
	"context"
	"time"

	"github.com/convoscope/convoscope/pkg/types"
)

// ConversationStore is the read contract the context intelligence core
// depends on. Implementations must distinguish "no data" (empty slice, nil
// error) from "could not reach the data" (error wrapping ErrStoreUnavailable).
type ConversationStore interface {
	// GetConversation retrieves a conversation record by ID.
	// Returns ErrNotFound if the conversation doesn't exist.
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)

	// GetRecentMessages returns up to limit messages for a conversation,
	// ordered by creation time descending (newest first). Callers needing
	// chronological order reverse the slice.
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)

	// GetMessagesByIDs resolves a set of message IDs to full messages.
	// Missing IDs are silently omitted from the result. Implementations must
	// tolerate large ID lists via internal chunking.
	GetMessagesByIDs(ctx context.Context, ids []string) ([]types.Message, error)

	// GetEntityByID retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntityByID(ctx context.Context, id string) (*types.Entity, error)

	// GetMostMentionedEntities returns up to limit entities ordered by
	// mention count descending.
	GetMostMentionedEntities(ctx context.Context, limit int) ([]types.Entity, error)

	// GetConversationEntities returns up to limit entities mentioned in the
	// given conversation, ordered by their mention count within that
	// conversation, descending.
	GetConversationEntities(ctx context.Context, conversationID string, limit int) ([]types.Entity, error)

	// GetEntityMentions returns up to limit mentions of one entity across
	// all conversations, newest first.
	GetEntityMentions(ctx context.Context, entityID string, limit int) ([]types.EntityMention, error)

	// GetEntityMentionsForMessages returns all mentions attached to the
	// given messages. Implementations must tolerate large ID lists via
	// internal chunking (backing stores limit IN-clause size).
	GetEntityMentionsForMessages(ctx context.Context, messageIDs []string) ([]types.EntityMention, error)

	// FindConversationsSharingEntities returns conversations other than
	// excludeConversationID that mention at least two of the probe entities
	// after the cutoff timestamp, ordered by most recent mention first.
	FindConversationsSharingEntities(ctx context.Context, entityIDs []string, excludeConversationID string, cutoff time.Time, limit int) ([]SharedEntityConversation, error)

	// GetRelationshipEdges returns aggregated relationship edges whose
	// source is one of the given entities.
	GetRelationshipEdges(ctx context.Context, sourceEntityIDs []string) ([]RelationshipEdge, error)

	// Close releases any resources held by the store.
	Close() error
}

// ConversationWriter is the write contract used by importers, tests, and the
// upstream extraction pipeline. The analytics core never writes.
type ConversationWriter interface {
	// CreateConversation inserts a conversation record.
	CreateConversation(ctx context.Context, conv *types.Conversation) error

	// AddMessage appends a message to its conversation and advances the
	// conversation's updated_at timestamp.
	AddMessage(ctx context.Context, msg *types.Message) error

	// UpsertEntity creates or updates an entity (upsert on ID).
	UpsertEntity(ctx context.Context, entity *types.Entity) error

	// AddMention records an entity mention and bumps the entity's mention
	// statistics.
	AddMention(ctx context.Context, mention *types.EntityMention) error

	// AddRelationship records a relationship between two entities.
	AddRelationship(ctx context.Context, rel *types.Relationship) error
}

// EmbeddingStore is the optional vector search surface. Only the Postgres
// backend implements it (pgvector); the lexical scorers are used when the
// backend does not provide embeddings.
type EmbeddingStore interface {
	// StoreMessageEmbedding stores a vector embedding for a message.
	StoreMessageEmbedding(ctx context.Context, messageID string, embedding []float32, model string) error

	// SimilarMessages returns up to limit message IDs ordered by cosine
	// distance to the query vector, ascending.
	SimilarMessages(ctx context.Context, query []float32, limit int) ([]string, error)
}

// StoreStats are row counts across the core tables, served by the web stats
// endpoint.
type StoreStats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Entities      int `json:"entities"`
	Mentions      int `json:"mentions"`
	Relationships int `json:"relationships"`
}

// StatsProvider is implemented by backends that can report table counts.
type StatsProvider interface {
	Stats(ctx context.Context) (StoreStats, error)
}
