package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/convoscope/convoscope/internal/llm"
)

// EmbeddingScorer implements RelevanceScorer over an embedding backend:
// cosine similarity of the two texts' vectors, mapped into [0,1].
type EmbeddingScorer struct {
	client llm.EmbeddingClient
}

// NewEmbeddingScorer wraps an embedding client as a relevance scorer.
func NewEmbeddingScorer(client llm.EmbeddingClient) *EmbeddingScorer {
	return &EmbeddingScorer{client: client}
}

// ScoreRelevance embeds both texts and returns their cosine similarity
// shifted into [0,1].
func (s *EmbeddingScorer) ScoreRelevance(ctx context.Context, currentText, candidateText string) (float64, error) {
	if currentText == "" || candidateText == "" {
		return 0, nil
	}

	a, err := s.client.Embed(ctx, currentText)
	if err != nil {
		return 0, fmt.Errorf("embed current text: %w", err)
	}
	b, err := s.client.Embed(ctx, candidateText)
	if err != nil {
		return 0, fmt.Errorf("embed candidate text: %w", err)
	}

	return clamp01((cosineSimilarity(a, b) + 1) / 2), nil
}

// EmbedQuery exposes the raw query vector so the ranker can run store-side
// similarity search (storage.EmbeddingStore) with the same backend that
// powers pairwise scoring.
func (s *EmbeddingScorer) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.client.Embed(ctx, text)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ RelevanceScorer = (*EmbeddingScorer)(nil)
