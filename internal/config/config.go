// Package config loads and validates the YAML configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Cache      CacheConfig      `yaml:"cache"`
	Store      StoreConfig      `yaml:"store"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Reference  ReferenceConfig  `yaml:"reference"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Bind           string   `yaml:"bind"` // loopback | lan
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LLMConfig selects and configures the generation provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai | mock
	BaseURL   string `yaml:"baseUrl"`
	APIKey    string `yaml:"apiKey"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"maxTokens"`
}

// GenerationConfig tunes the generation loop.
type GenerationConfig struct {
	MaxToolSteps       int    `yaml:"maxToolSteps"`
	CallTimeoutSeconds int    `yaml:"callTimeoutSeconds"`
	ToolTimeoutSeconds int    `yaml:"toolTimeoutSeconds"`
	Persona            string `yaml:"persona"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLMinutes int  `yaml:"ttlMinutes"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite | memory
	Path   string `yaml:"path"`
}

// WorkspaceConfig sets the root for sandboxed filesystem tools.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ReferenceConfig points at the reference text indexed for retrieval.
type ReferenceConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8723,
			Bind: "loopback",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Generation: GenerationConfig{
			MaxToolSteps:       5,
			CallTimeoutSeconds: 120,
			ToolTimeoutSeconds: 30,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLMinutes: 15,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "parley.db",
		},
		Workspace: WorkspaceConfig{
			Root: "workspace",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
