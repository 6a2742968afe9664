package config

import (
	"time"

	"github.com/genbase-project/genbase/pkg/observability"
)

// Config is the fully resolved, validated configuration for a genbase
// platform process. It is produced by Load and never mutated afterwards;
// components read it once at construction time.
type Config struct {
	Database      DatabaseConfig       `yaml:"database"`
	Bridge        BridgeConfig         `yaml:"bridge"`
	Storage       StorageConfig        `yaml:"storage"`
	Registry      RegistryConfig       `yaml:"registry"`
	Runtime       RuntimeConfig        `yaml:"runtime"`
	Log           LogConfig            `yaml:"log"`
	Encryption    EncryptionConfig     `yaml:"encryption"`
	Observability observability.Config `yaml:"observability"`
}

// DatabaseConfig selects the relational store backing every persistent
// component (kit metadata, module registry, provides graph, chat history,
// profile documents).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`   // "postgres", "mysql", or "sqlite3"
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// BridgeConfig controls the Platform Bridge's TCP listener and the RPC
// ceiling enforced on every call an agent makes through it.
type BridgeConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
}

// StorageConfig lays out the base directories where workspace files, kit
// sources, and per-kit virtualenvs live on disk.
type StorageConfig struct {
	WorkspaceBaseDir string `yaml:"workspace_base_dir"`
	KitBaseDir       string `yaml:"kit_base_dir"`
	VenvBaseDir      string `yaml:"venv_base_dir"`
	ScratchBaseDir   string `yaml:"scratch_base_dir"`
}

// RegistryConfig points at the external kit registry the Kit Store
// downloads from when a kit isn't already cached locally.
type RegistryConfig struct {
	URL         string        `yaml:"url"`
	FetchRetries int          `yaml:"fetch_retries"`
	FetchBackoff time.Duration `yaml:"fetch_backoff"`
}

// RuntimeConfig holds the tunables that govern container lifecycle and
// agent execution deadlines. These also double as the seed values loaded
// into the GlobalConfig settings table on first boot; operators can
// override them at runtime without a restart.
type RuntimeConfig struct {
	AgentRunTimeout       time.Duration `yaml:"agent_run_timeout"`
	WarmContainerIdleTTL  time.Duration `yaml:"warm_container_idle_ttl"`
	ContainerStartTimeout time.Duration `yaml:"container_start_timeout"`
}

// LogConfig configures the package-level structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// EncryptionConfig names the environment variable holding the at-rest
// encryption key used to seal module env_vars.
type EncryptionConfig struct {
	KeyEnvVar string `yaml:"key_env_var"`
}

// Defaults returns the zero-config values used when no YAML file is
// present and no environment overrides are set, sufficient to run the
// platform as a single local binary against an embedded SQLite database.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    ".genbase/platform.db",
		},
		Bridge: BridgeConfig{
			Host:       "127.0.0.1",
			Port:       7477,
			RPCTimeout: 300 * time.Second,
		},
		Storage: StorageConfig{
			WorkspaceBaseDir: ".genbase/workspaces",
			KitBaseDir:       ".genbase/kits",
			VenvBaseDir:      ".genbase/venvs",
			ScratchBaseDir:   ".genbase/scratch",
		},
		Registry: RegistryConfig{
			URL:          "",
			FetchRetries: 3,
			FetchBackoff: 500 * time.Millisecond,
		},
		Runtime: RuntimeConfig{
			AgentRunTimeout:       600 * time.Second,
			WarmContainerIdleTTL:  900 * time.Second,
			ContainerStartTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Encryption: EncryptionConfig{
			KeyEnvVar: "ENV_ENCRYPTION_KEY",
		},
	}
}
