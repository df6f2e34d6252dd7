package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbeddingClient generates vector embeddings for text. The relevance
// ranker's optional embedding scorer is built on this interface.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OllamaConfig holds Ollama embedding client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text)
	Model string

	// Timeout is the request timeout duration (default: 5s)
	Timeout time.Duration
}

// OllamaEmbedder generates embeddings via a local Ollama instance. All
// requests are wrapped with circuit breaker protection.
type OllamaEmbedder struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	breaker *CircuitBreaker
}

// NewOllamaEmbedder creates an embedder, filling zero config fields with
// defaults.
func NewOllamaEmbedder(config OllamaConfig) *OllamaEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &OllamaEmbedder{
		baseURL: config.BaseURL,
		model:   config.Model,
		timeout: config.Timeout,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: NewCircuitBreaker(),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse: the embeddings field is a 2D array; the first row is the
// embedding for our single input.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for the given text. Returns ErrCircuitOpen
// (wrapped) when the breaker is rejecting requests.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("embedding backend: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, errors.New("ollama returned empty embedding vector")
	}
	return respData.Embeddings[0], nil
}

// HealthCheck verifies that Ollama is reachable. Not wrapped by the circuit
// breaker since it is itself a probe.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

var _ EmbeddingClient = (*OllamaEmbedder)(nil)
