package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from path, falling back to the zero-config
// defaults when path is empty or the file doesn't exist. .env/.env.local
// are loaded into the process environment first so ${VAR} expansion below
// can see them, matching the teacher's env-file-then-expand ordering.
func Load(path string) (Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg := Defaults()
	if path == "" {
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	expanded := ExpandEnvVarsInData(generic)

	// Round-trip through YAML so the expanded generic map (with env vars
	// substituted and scalars coerced by parseValue) lands on the typed
	// Config, overriding only the keys the file actually sets.
	expandedYAML, err := yaml.Marshal(expanded)
	if err != nil {
		return Config{}, fmt.Errorf("config: re-encode %s: %w", path, err)
	}
	if err := yaml.Unmarshal(expandedYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants Load cannot express via zero values alone.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("config: bridge.port %d out of range", c.Bridge.Port)
	}
	if c.Runtime.AgentRunTimeout <= 0 {
		return fmt.Errorf("config: runtime.agent_run_timeout must be positive")
	}
	if c.Runtime.WarmContainerIdleTTL <= 0 {
		return fmt.Errorf("config: runtime.warm_container_idle_ttl must be positive")
	}
	if c.Encryption.KeyEnvVar == "" {
		return fmt.Errorf("config: encryption.key_env_var is required")
	}
	if os.Getenv(c.Encryption.KeyEnvVar) == "" {
		return fmt.Errorf("config: environment variable %s is not set", c.Encryption.KeyEnvVar)
	}
	return nil
}
