// Package config provides configuration management for ConvoScope.
// It loads settings from environment variables with the CONVOSCOPE_ prefix
// and provides sensible defaults for all configuration options.
//
// Analysis vocabularies (claim rules, attribute patterns, validation
// weights) live in an optional YAML file referenced by
// CONVOSCOPE_VOCABULARY_PATH; see LoadVocabulary.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the ConvoScope application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Engine    EngineConfig
}

// ServerConfig contains HTTP server configuration for the web process.
type ServerConfig struct {
	Port     int    // Server port (default: 7373)
	Host     string // Server host (default: 127.0.0.1)
	APIToken string // Bearer token for the web API; empty disables auth
}

// StorageConfig contains database backend configuration.
type StorageConfig struct {
	Backend     string // Storage backend: sqlite, postgres (default: sqlite)
	SQLitePath  string // Path to the SQLite database file (default: ./data/convoscope.db)
	PostgresDSN string // PostgreSQL connection string, required when Backend is postgres
}

// EmbeddingConfig contains embedding service configuration. Embeddings are
// an optional extra relevance signal; the engine works without them.
type EmbeddingConfig struct {
	Enabled bool          // Enable the embedding-based relevance scorer (default: false)
	URL     string        // Ollama API URL (default: http://localhost:11434)
	Model   string        // Embedding model name (default: nomic-embed-text)
	Timeout time.Duration // Request timeout (default: 5s)
}

// EngineConfig contains analysis engine settings.
type EngineConfig struct {
	// MaxContextTokens is the default context window budget when a caller
	// does not supply one (default: 4000).
	MaxContextTokens int

	// VocabularyPath points at an optional YAML vocabulary file overriding
	// the built-in claim rules and attribute patterns. Empty means use the
	// defaults compiled into the engine.
	VocabularyPath string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CONVOSCOPE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvInt("CONVOSCOPE_PORT", 7373),
			Host:     getEnv("CONVOSCOPE_HOST", "127.0.0.1"),
			APIToken: getEnv("CONVOSCOPE_API_TOKEN", ""),
		},
		Storage: StorageConfig{
			Backend:     getEnv("CONVOSCOPE_STORAGE_BACKEND", "sqlite"),
			SQLitePath:  getEnv("CONVOSCOPE_SQLITE_PATH", "./data/convoscope.db"),
			PostgresDSN: getEnv("CONVOSCOPE_POSTGRES_DSN", ""),
		},
		Embedding: EmbeddingConfig{
			Enabled: getEnvBool("CONVOSCOPE_EMBEDDING_ENABLED", false),
			URL:     getEnv("CONVOSCOPE_EMBEDDING_URL", "http://localhost:11434"),
			Model:   getEnv("CONVOSCOPE_EMBEDDING_MODEL", "nomic-embed-text"),
			Timeout: getEnvDuration("CONVOSCOPE_EMBEDDING_TIMEOUT", 5*time.Second),
		},
		Engine: EngineConfig{
			MaxContextTokens: getEnvInt("CONVOSCOPE_MAX_CONTEXT_TOKENS", 4000),
			VocabularyPath:   getEnv("CONVOSCOPE_VOCABULARY_PATH", ""),
		},
	}
	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "10s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
