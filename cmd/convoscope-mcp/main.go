// cmd/convoscope-mcp is the entry point for the ConvoScope MCP (Model
// Context Protocol) server.  It wires a conversation store through the
// ContextEngine and serves the analysis tools over stdio.
//
// Startup sequence:
//  1. Load configuration from environment variables.
//  2. Open the storage backend (SQLite by default, PostgreSQL optional).
//  3. Load the analysis vocabulary (built-in defaults or a YAML file).
//  4. Create the ContextEngine, optionally with an embedding scorer.
//  5. Create the MCP server and serve JSON-RPC 2.0 requests from stdin,
//     writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/convoscope/convoscope/internal/api/mcp"
	"github.com/convoscope/convoscope/internal/config"
	"github.com/convoscope/convoscope/internal/engine"
	"github.com/convoscope/convoscope/internal/llm"
	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/internal/storage/postgres"
	"github.com/convoscope/convoscope/internal/storage/sqlite"
)

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("convoscope-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open storage backend: %v", err)
	}
	defer store.Close()

	// Set up a root context that is cancelled on SIGINT / SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	vocab, err := config.LoadVocabulary(cfg.Engine.VocabularyPath)
	if err != nil {
		log.Fatalf("failed to load vocabulary: %v", err)
	}
	if cfg.Engine.VocabularyPath != "" {
		log.Printf("loaded vocabulary from %s", cfg.Engine.VocabularyPath)
	}

	opts := vocab.EngineOptions()
	if cfg.Embedding.Enabled {
		embedder := llm.NewOllamaEmbedder(llm.OllamaConfig{
			BaseURL: cfg.Embedding.URL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
		opts = append(opts, engine.WithRelevanceScorer(engine.NewEmbeddingScorer(embedder)))
		log.Printf("embedding scorer enabled (%s via %s)", cfg.Embedding.Model, cfg.Embedding.URL)
	}

	eng, err := engine.NewContextEngine(store, opts...)
	if err != nil {
		log.Fatalf("failed to create context engine: %v", err)
	}

	srv := mcp.NewServer(eng, store)

	// Wrap the server in a StdioTransport that reads line-delimited JSON-RPC
	// from stdin and writes responses to stdout.  All logging inside the
	// transport is directed to stderr.
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Println("ready, serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		// A non-nil error here is normal (context cancellation) or indicates a
		// fatal stdin/stdout problem.  Either way it is informational only.
		log.Printf("transport stopped: %v", err)
	}
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.ConversationStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		log.Println("using PostgreSQL backend")
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o700); err != nil {
			return nil, err
		}
		log.Printf("using SQLite backend at %s", cfg.Storage.SQLitePath)
		return sqlite.NewStore(cfg.Storage.SQLitePath)
	}
}
