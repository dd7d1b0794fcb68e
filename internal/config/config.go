package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"RoleChat/internal/backend"
	"RoleChat/internal/memory"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "rolechat.yaml"

// Config holds application configuration
type Config struct {
	Backend        string        `yaml:"backend"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	EndpointURL    string        `yaml:"endpoint_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Role      string `yaml:"role"`
	SessionID string `yaml:"session_id"` // defaults to the role's slug
	SampleDir string `yaml:"sample_dir"`

	Store     StoreConfig `yaml:"store"`
	Sync      SyncConfig  `yaml:"sync"`
	Relay     RelayConfig `yaml:"relay"`
	Log       LogConfig   `yaml:"log"`
	Telemetry bool        `yaml:"telemetry"`
}

// StoreConfig selects the memory store driver.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	Dir         string `yaml:"dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
}

// SyncConfig configures the optional JSONBin mirror. Empty credentials disable it.
type SyncConfig struct {
	BinID        string        `yaml:"bin_id"`
	AccessKey    string        `yaml:"access_key"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Enabled reports whether both credentials are present.
func (s SyncConfig) Enabled() bool {
	return s.BinID != "" && s.AccessKey != ""
}

// RelayConfig configures the relay HTTP server.
type RelayConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:        backend.BackendOpenAI,
		Model:          "glm-4-flash",
		Temperature:    0.5,
		EndpointURL:    backend.DefaultEndpoint,
		RequestTimeout: 60 * time.Second,
		Role:           "小丸子",
		SampleDir:      "samples",
		Store: StoreConfig{
			Driver:     memory.DriverFile,
			Dir:        "memory",
			SQLitePath: "rolechat.db",
		},
		Sync: SyncConfig{
			PollInterval: 2 * time.Second,
		},
		Relay: RelayConfig{Addr: ":8080"},
		Log: LogConfig{
			Dir:   "logs",
			Level: "info",
		},
		Telemetry: true,
	}
}

// Load reads path (a missing file means defaults), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	c.Backend = envOrDefault("ROLECHAT_BACKEND", c.Backend)
	c.APIKey = envOrDefault("ROLECHAT_API_KEY", c.APIKey)
	c.Model = envOrDefault("ROLECHAT_MODEL", c.Model)
	c.EndpointURL = envOrDefault("ROLECHAT_ENDPOINT_URL", c.EndpointURL)
	c.Role = envOrDefault("ROLECHAT_ROLE", c.Role)
	c.SessionID = envOrDefault("ROLECHAT_SESSION_ID", c.SessionID)
	c.SampleDir = envOrDefault("ROLECHAT_SAMPLE_DIR", c.SampleDir)

	c.Store.Driver = envOrDefault("ROLECHAT_STORE_DRIVER", c.Store.Driver)
	c.Store.Dir = envOrDefault("ROLECHAT_STORE_DIR", c.Store.Dir)
	c.Store.SQLitePath = envOrDefault("ROLECHAT_SQLITE_PATH", c.Store.SQLitePath)
	c.Store.DatabaseURL = envOrDefault("DATABASE_URL", c.Store.DatabaseURL)

	c.Sync.BinID = envOrDefault("JSONBIN_BIN_ID", c.Sync.BinID)
	c.Sync.AccessKey = envOrDefault("JSONBIN_ACCESS_KEY", c.Sync.AccessKey)
	c.Sync.BaseURL = envOrDefault("JSONBIN_BASE_URL", c.Sync.BaseURL)

	c.Relay.Addr = envOrDefault("ROLECHAT_RELAY_ADDR", c.Relay.Addr)
	c.Log.Dir = envOrDefault("ROLECHAT_LOG_DIR", c.Log.Dir)
	c.Log.Level = envOrDefault("ROLECHAT_LOG_LEVEL", c.Log.Level)

	var err error
	if c.Temperature, err = floatFromEnv("ROLECHAT_TEMPERATURE", c.Temperature); err != nil {
		return err
	}
	if c.RequestTimeout, err = durationFromEnv("ROLECHAT_REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.Sync.PollInterval, err = durationFromEnv("ROLECHAT_SYNC_POLL_INTERVAL", c.Sync.PollInterval); err != nil {
		return err
	}
	if c.Log.Stderr, err = boolFromEnv("ROLECHAT_LOG_STDERR", c.Log.Stderr); err != nil {
		return err
	}
	if c.Telemetry, err = boolFromEnv("ROLECHAT_TELEMETRY", c.Telemetry); err != nil {
		return err
	}
	return nil
}

// Validate checks option ranges and driver requirements. Credentials for the
// completion backend are checked when the backend is built.
func (c *Config) Validate() error {
	switch c.Backend {
	case backend.BackendOpenAI, backend.BackendOllama, backend.BackendAnthropic, backend.BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	switch c.Store.Driver {
	case memory.DriverFile, memory.DriverSQLite:
	case memory.DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store driver %q requires DATABASE_URL", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync poll_interval must be positive")
	}
	return nil
}

// StoreOptions converts the store section for memory.NewStore.
func (c *Config) StoreOptions() memory.Config {
	return memory.Config{
		Driver:      c.Store.Driver,
		Dir:         c.Store.Dir,
		SQLitePath:  c.Store.SQLitePath,
		DatabaseURL: c.Store.DatabaseURL,
	}
}

// BackendOptions converts the completion settings for backend.New.
func (c *Config) BackendOptions() backend.Config {
	return backend.Config{
		Backend:     c.Backend,
		APIKey:      c.APIKey,
		Model:       c.Model,
		EndpointURL: c.endpointFor(c.Backend),
		Timeout:     c.RequestTimeout,
	}
}

// endpointFor drops the default OpenAI-compatible endpoint for other backends
// so they use their own defaults.
func (c *Config) endpointFor(name string) string {
	if name != backend.BackendOpenAI && c.EndpointURL == backend.DefaultEndpoint {
		return ""
	}
	return c.EndpointURL
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
