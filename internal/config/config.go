// Package config loads service configuration from defaults, an optional .env
// file, and DOCCHAT_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Parse     ParseConfig
	Storage   StorageConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

// GatewayConfig points at an OpenAI-compatible API used for both embeddings
// and chat completions. The embed model is shared by ingestion and query
// time; changing it invalidates every stored vector.
type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

// ParseConfig selects the document parser: "local" extracts text in-process,
// anything else is sent as the mode field to the OCR service at BaseURL.
type ParseConfig struct {
	Mode    string
	BaseURL string
}

type StorageConfig struct {
	DataDir    string
	StagingDir string
}

type ChunkingConfig struct {
	WindowLines int
	MinChars    int
}

type RetrievalConfig struct {
	TopK           int
	NeighborRadius int
}

type AuthConfig struct {
	// APIToken protects the HTTP API. Empty disables auth (local use).
	APIToken string
	// BootstrapAdmin seeds the allowlist on first start.
	BootstrapAdmin string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4200,
			MCPPort: 4201,
		},
		Gateway: GatewayConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Parse: ParseConfig{
			Mode: "local",
		},
		Storage: StorageConfig{
			DataDir:    dataDir,
			StagingDir: filepath.Join(dataDir, "staging"),
		},
		Chunking: ChunkingConfig{
			WindowLines: 40,
			MinChars:    80,
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			NeighborRadius: 1,
		},
		Auth: AuthConfig{
			BootstrapAdmin: "admin@localhost",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "docchat")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "docchat")
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; DOCCHAT_* environment variables override everything.
func Load() (Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Gateway.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: gateway API key. Set DOCCHAT_GATEWAY_API_KEY")
	}
	if cfg.Parse.Mode != "local" && cfg.Parse.BaseURL == "" {
		return Config{}, fmt.Errorf("parse mode %q requires DOCCHAT_PARSE_BASE_URL", cfg.Parse.Mode)
	}
	return cfg, nil
}
