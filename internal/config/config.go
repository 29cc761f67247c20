// Package config loads Cortex's ambient runtime configuration: the REST
// surface toggle and port, and the external collaborators named in §6
// (file handler, one translation provider, the Redis-style storage
// backend, this node's identity). Grounded on the teacher's
// internal/config/config.go: an optional YAML file with environment
// variable expansion, strict unknown-field decoding, environment overrides
// (CORTEX_*, WHISPER_*, APPTEK_*, REDIS*) applied after decode, then
// defaults, then validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is Cortex's top-level runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Files    FilesConfig    `yaml:"files"`
	Storage  StorageConfig  `yaml:"storage"`
	Identity IdentityConfig `yaml:"identity"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Models and Pathways declare the gateway's model assignments and
	// pathway bindings (§3) as data, so a deployment can add a pathway
	// without a Go rebuild. ExecutePathwayOverride has no YAML
	// representation; pathways needing one are registered in code.
	Models   []ModelDef   `yaml:"models"`
	Pathways []PathwayDef `yaml:"pathways"`
}

// ServerConfig configures the optional OpenAI-compatible REST surface
// (§6 "REST surface ... enabled by env CORTEX_ENABLE_REST=true").
type ServerConfig struct {
	Port       int  `yaml:"port"`
	EnableREST bool `yaml:"enable_rest"`
}

// FilesConfig names the external file-handler collaborator and the one
// translation provider spec.md §6 calls out by env var.
type FilesConfig struct {
	WhisperMediaAPIURL string `yaml:"whisper_media_api_url"`
	AppTekAPIEndpoint  string `yaml:"apptek_api_endpoint"`
	AppTekAPIKey       string `yaml:"apptek_api_key"`
}

// StorageConfig configures the Redis-style backing store referenced by
// spec.md §6 (`storageConnectionString`, `redisEncryptionKey`).
type StorageConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	EncryptionKey    string        `yaml:"encryption_key"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
}

// IdentityConfig carries this node's identity (`cortexId`, §6).
type IdentityConfig struct {
	CortexID string `yaml:"cortex_id"`
}

// LoggingConfig configures the ambient slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads and decodes the YAML file at path (if non-empty), expanding
// ${VAR} references against the environment first, then applies
// environment overrides (see applyEnvOverrides), defaults, and validation. An
// empty path yields defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		expanded := os.ExpandEnv(string(data))
		decoder := yaml.NewDecoder(strings.NewReader(expanded))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("config: %s contains more than one document", path)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CORTEX_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_ENABLE_REST")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Server.EnableREST = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("WHISPER_MEDIA_API_URL")); v != "" {
		cfg.Files.WhisperMediaAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APPTEK_API_ENDPOINT")); v != "" {
		cfg.Files.AppTekAPIEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("APPTEK_API_KEY")); v != "" {
		cfg.Files.AppTekAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS")); v != "" {
		cfg.Storage.ConnectionString = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ENCRYPTION_KEY")); v != "" {
		cfg.Storage.EncryptionKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_ID")); v != "" {
		cfg.Identity.CortexID = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DialTimeout == 0 {
		cfg.Storage.DialTimeout = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", cfg.Server.Port)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format %q must be json or text", cfg.Logging.Format)
	}
	return nil
}
