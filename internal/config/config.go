// Package config loads configuration from config.yaml and ROUTEX_-prefixed
// environment variables (ROUTEX_SEARCH__LIMIT sets search.limit).
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/routex-demo/internal/storage"
)

// DefaultPath is read when no path is given.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROUTEX_"

type Config struct {
	Routex    RoutexConfig    `koanf:"routex"`
	Backend   BackendConfig   `koanf:"backend"`
	Storage   storage.Config  `koanf:"storage"`
	Vault     VaultConfig     `koanf:"vault"`
	Redirect  RedirectConfig  `koanf:"redirect"`
	Search    SearchConfig    `koanf:"search"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Tickets   TicketsConfig   `koanf:"tickets"`
}

// RoutexConfig points at the remote banking-operation service.
type RoutexConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// BackendConfig points the client at the ticket backend.
type BackendConfig struct {
	URL string `koanf:"url"`
}

type VaultConfig struct {
	Type string `koanf:"type"` // keyring, storage, none
}

// RedirectConfig is the local return address of the terminal client.
type RedirectConfig struct {
	Listen string `koanf:"listen"`
	Path   string `koanf:"path"`
}

type SearchConfig struct {
	Limit          int `koanf:"limit"`
	MinQueryLength int `koanf:"min_query_length"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// TicketsConfig is the signing setup of the ticket backend. Key is base64.
type TicketsConfig struct {
	KeyID    string        `koanf:"key_id"`
	Key      string        `koanf:"key"`
	Validity time.Duration `koanf:"validity"`
}

// DecodedKey returns the signing key bytes.
func (t TicketsConfig) DecodedKey() ([]byte, error) {
	if t.Key == "" {
		return nil, fmt.Errorf("tickets.key is not set")
	}
	key, err := base64.StdEncoding.DecodeString(t.Key)
	if err != nil {
		return nil, fmt.Errorf("tickets.key is not valid base64: %w", err)
	}
	return key, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"routex.url":              "https://routex.yaxi.tech",
	"routex.timeout":          "60s",
	"backend.url":             "http://localhost:8080",
	"storage.type":            string(storage.TypeFile),
	"storage.path":            defaultStatePath(),
	"vault.type":              "keyring",
	"redirect.listen":         "127.0.0.1:8765",
	"redirect.path":           "/return",
	"search.limit":            50,
	"search.min_query_length": 3,
	"log.level":               "info",
	"log.format":              "json",
	"telemetry.enabled":       false,
	"server.port":             8080,
	"server.request_timeout":  "30s",
	"tickets.validity":        "10m",
}

func defaultStatePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "routex-demo"
	}
	return ".routex-demo"
}

// Load reads path (DefaultPath if empty), then environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Tickets.Key = substituteEnvVars(cfg.Tickets.Key)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch storage.Type(c.Storage.Type) {
	case storage.TypeMemory, storage.TypeFile, storage.TypeSQLite:
	default:
		return fmt.Errorf("storage.type %q must be memory, file or sqlite", c.Storage.Type)
	}
	switch c.Vault.Type {
	case "keyring", "storage", "none":
	default:
		return fmt.Errorf("vault.type %q must be keyring, storage or none", c.Vault.Type)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be positive")
	}
	if c.Search.MinQueryLength < 0 {
		return fmt.Errorf("search.min_query_length must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
