package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/convoscope/convoscope/internal/llm"
	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// VectorIndexer writes message embeddings into a vector-capable backend so
// that SimilarMessages can pre-rank candidate history during relevance
// ranking. It runs on the write side, alongside the ConversationWriter,
// whenever the embedding backend is enabled.
type VectorIndexer struct {
	store  storage.EmbeddingStore
	client llm.EmbeddingClient
	model  string
}

// NewVectorIndexer creates an indexer over a vector-capable store.
func NewVectorIndexer(store storage.EmbeddingStore, client llm.EmbeddingClient, model string) *VectorIndexer {
	return &VectorIndexer{store: store, client: client, model: model}
}

// IndexMessage embeds one message's content and stores the vector. Messages
// with blank content are skipped.
func (ix *VectorIndexer) IndexMessage(ctx context.Context, msg types.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	vec, err := ix.client.Embed(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("embed message %s: %w", msg.ID, err)
	}
	if err := ix.store.StoreMessageEmbedding(ctx, msg.ID, vec, ix.model); err != nil {
		return fmt.Errorf("store embedding for message %s: %w", msg.ID, err)
	}
	return nil
}

// IndexMessages indexes a batch, stopping at the first error.
func (ix *VectorIndexer) IndexMessages(ctx context.Context, msgs []types.Message) error {
	for i := range msgs {
		if err := ix.IndexMessage(ctx, msgs[i]); err != nil {
			return err
		}
	}
	return nil
}
