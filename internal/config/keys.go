package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "DOCCHAT_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "DOCCHAT_SERVER_MCP_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		env: "DOCCHAT_GATEWAY_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
	},
	{
		env: "DOCCHAT_GATEWAY_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gateway.APIKey = v.(string) },
	},
	{
		env: "DOCCHAT_GATEWAY_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gateway.ChatModel = v.(string) },
	},
	{
		env: "DOCCHAT_GATEWAY_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gateway.EmbedModel = v.(string) },
	},
	{
		env: "DOCCHAT_PARSE_MODE", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Parse.Mode = v.(string) },
	},
	{
		env: "DOCCHAT_PARSE_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Parse.BaseURL = v.(string) },
	},
	{
		env: "DOCCHAT_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "DOCCHAT_STORAGE_STAGING_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.StagingDir = v.(string) },
	},
	{
		env: "DOCCHAT_CHUNKING_WINDOW_LINES", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.WindowLines = v.(int) },
	},
	{
		env: "DOCCHAT_CHUNKING_MIN_CHARS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chunking.MinChars = v.(int) },
	},
	{
		env: "DOCCHAT_RETRIEVAL_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "DOCCHAT_RETRIEVAL_NEIGHBOR_RADIUS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.NeighborRadius = v.(int) },
	},
	{
		env: "DOCCHAT_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.APIToken = v.(string) },
	},
	{
		env: "DOCCHAT_BOOTSTRAP_ADMIN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.BootstrapAdmin = v.(string) },
	},
	{
		env: "DOCCHAT_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
