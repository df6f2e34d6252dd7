// cmd/convoscope-web runs the ConvoScope web process: the live analysis
// event feed over WebSocket plus the health and stats endpoints.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/convoscope/convoscope/internal/config"
	"github.com/convoscope/convoscope/internal/engine"
	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/internal/storage/postgres"
	"github.com/convoscope/convoscope/internal/storage/sqlite"
	"github.com/convoscope/convoscope/web/handlers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vocab, err := config.LoadVocabulary(cfg.Engine.VocabularyPath)
	if err != nil {
		log.Fatalf("Failed to load vocabulary: %v", err)
	}

	eng, err := engine.NewContextEngine(store, vocab.EngineOptions()...)
	if err != nil {
		log.Fatalf("Failed to create context engine: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Hub plus event feed: analyses that produce signal are pushed to every
	// connected dashboard client.
	hub := handlers.NewWebSocketHub(addr, fmt.Sprintf("localhost:%d", cfg.Server.Port))
	go hub.Run()
	defer hub.Stop()
	handlers.NewEventFeed(hub).Attach(eng)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handlers.HealthHandler)
	mux.Handle("/ws", hub)

	var statsProvider storage.StatsProvider
	if sp, ok := store.(storage.StatsProvider); ok {
		statsProvider = sp
	}
	mux.Handle("/api/stats", http.HandlerFunc(handlers.NewStatsHandler(statsProvider).GetStats))

	rl := handlers.NewRateLimiter(50, 100)
	handler := handlers.RateLimitMiddleware(mux, rl)
	handler = handlers.RequireAuth(handler, cfg.Server.APIToken)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("ConvoScope web running at http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.ConversationStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o700); err != nil {
			return nil, err
		}
		return sqlite.NewStore(cfg.Storage.SQLitePath)
	}
}
