package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so API keys can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, cfg.validate()
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = def.Server.Bind
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.Generation.MaxToolSteps == 0 {
		cfg.Generation.MaxToolSteps = def.Generation.MaxToolSteps
	}
	if cfg.Generation.CallTimeoutSeconds == 0 {
		cfg.Generation.CallTimeoutSeconds = def.Generation.CallTimeoutSeconds
	}
	if cfg.Generation.ToolTimeoutSeconds == 0 {
		cfg.Generation.ToolTimeoutSeconds = def.Generation.ToolTimeoutSeconds
	}
	if cfg.Cache.TTLMinutes == 0 {
		cfg.Cache.TTLMinutes = def.Cache.TTLMinutes
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = def.Workspace.Root
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides reads PARLEY_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PARLEY_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("PARLEY_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PARLEY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("PARLEY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("PARLEY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// validate rejects configurations that cannot be served.
func (cfg Config) validate() error {
	switch cfg.Server.Bind {
	case "loopback", "lan":
	default:
		return &ConfigError{Message: "server.bind must be loopback or lan"}
	}
	switch cfg.LLM.Provider {
	case "openai", "mock":
	default:
		return &ConfigError{Message: "llm.provider must be openai or mock"}
	}
	switch cfg.Store.Driver {
	case "sqlite", "memory":
	default:
		return &ConfigError{Message: "store.driver must be sqlite or memory"}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &ConfigError{Message: "server.port out of range"}
	}
	return nil
}
