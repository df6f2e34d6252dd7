package engine

import (
	"context"
	"errors"
	"math"
	"testing"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func TestEmbeddingScorer_IdenticalVectorsScoreOne(t *testing.T) {
	scorer := NewEmbeddingScorer(&fixedEmbedder{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {1, 0, 0},
	}})

	score, err := scorer.ScoreRelevance(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("ScoreRelevance() error = %v", err)
	}
	if math.Abs(score-1.0) > 1e-9 {
		t.Errorf("score = %v, want 1.0", score)
	}
}

func TestEmbeddingScorer_OppositeVectorsScoreZero(t *testing.T) {
	scorer := NewEmbeddingScorer(&fixedEmbedder{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {-1, 0},
	}})

	score, err := scorer.ScoreRelevance(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("ScoreRelevance() error = %v", err)
	}
	if math.Abs(score) > 1e-9 {
		t.Errorf("score = %v, want 0.0", score)
	}
}

func TestEmbeddingScorer_OrthogonalVectorsScoreHalf(t *testing.T) {
	scorer := NewEmbeddingScorer(&fixedEmbedder{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
	}})

	score, err := scorer.ScoreRelevance(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("ScoreRelevance() error = %v", err)
	}
	if math.Abs(score-0.5) > 1e-9 {
		t.Errorf("score = %v, want 0.5", score)
	}
}

func TestEmbeddingScorer_EmptyTextScoresZeroWithoutEmbedding(t *testing.T) {
	scorer := NewEmbeddingScorer(&fixedEmbedder{err: errors.New("should not be called")})

	score, err := scorer.ScoreRelevance(context.Background(), "", "candidate")
	if err != nil {
		t.Fatalf("ScoreRelevance() error = %v", err)
	}
	if score != 0 {
		t.Errorf("score = %v, want 0", score)
	}
}

func TestEmbeddingScorer_PropagatesBackendError(t *testing.T) {
	backendErr := errors.New("backend down")
	scorer := NewEmbeddingScorer(&fixedEmbedder{err: backendErr})

	_, err := scorer.ScoreRelevance(context.Background(), "a", "b")
	if !errors.Is(err, backendErr) {
		t.Errorf("error = %v, want wrapped %v", err, backendErr)
	}
}
