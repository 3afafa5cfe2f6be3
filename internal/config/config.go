package config

import (
	"path/filepath"
	"strings"
)

type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Storage    StorageConfig
	Prompts    PromptsConfig
	Generation GenerationConfig
	API        APIConfig
	Log        LogConfig
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Port int
}

type BackendConfig struct {
	BaseURL       string
	GenModel      string
	AnalysisModel string
	EmbedModel    string
}

type StorageConfig struct {
	DataDir string
}

type PromptsConfig struct {
	// Dir holds the instruction sections and version history. Empty means
	// "prompts" under the data dir, resolved after all overrides apply.
	Dir string
}

type GenerationConfig struct {
	ExampleTokens  int
	DefaultThreads int
}

type APIConfig struct {
	// AuthToken protects the HTTP API. Empty disables authentication,
	// which is the expected mode for a localhost-only install.
	AuthToken string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Backend: BackendConfig{
			BaseURL:       "http://localhost:11434",
			GenModel:      "mistral-nemo",
			AnalysisModel: "phi3.5",
			EmbedModel:    "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Generation: GenerationConfig{
			ExampleTokens:  2000,
			DefaultThreads: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.threadsmith.app) and the
// API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/threadsmith/config.json and the token falls back to a
// secrets file under $XDG_DATA_HOME/threadsmith.
//
// Environment variables (THREADSMITH_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.AuthToken == "" {
		if tok, err := kc.Get("threadsmith", "api_token"); err == nil && tok != "" {
			cfg.API.AuthToken = tok
		}
	}

	if cfg.Prompts.Dir == "" {
		cfg.Prompts.Dir = filepath.Join(cfg.Storage.DataDir, "prompts")
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
