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
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "THREADSMITH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "backend.base_url", typ: kString, env: "THREADSMITH_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.gen_model", typ: kString, env: "THREADSMITH_BACKEND_GEN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Backend.GenModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.GenModel },
	},
	{
		key: "backend.analysis_model", typ: kString, env: "THREADSMITH_BACKEND_ANALYSIS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Backend.AnalysisModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.AnalysisModel },
	},
	{
		key: "backend.embed_model", typ: kString, env: "THREADSMITH_BACKEND_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Backend.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "THREADSMITH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "prompts.dir", typ: kString, env: "THREADSMITH_PROMPTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Prompts.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompts.Dir },
	},
	{
		key: "generation.example_tokens", typ: kInt, env: "THREADSMITH_GENERATION_EXAMPLE_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.ExampleTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.ExampleTokens },
	},
	{
		key: "generation.default_threads", typ: kInt, env: "THREADSMITH_GENERATION_DEFAULT_THREADS",
		apply:   func(cfg *Config, v any) { cfg.Generation.DefaultThreads = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.DefaultThreads },
	},
	{
		key: "log.level", typ: kString, env: "THREADSMITH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "api.auth_token", typ: kString, env: "THREADSMITH_API_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.API.AuthToken },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
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
