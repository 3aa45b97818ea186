package config

import (
	"fmt"
	"os"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/shared/paths"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	HTTP      HTTPConfig      `toml:"http"`
	Logging   LogConfig       `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" toml:"host"`
}

// StorageConfig locates installed scripts and their stored values. Empty
// paths resolve under the user data directory.
type StorageConfig struct {
	ScriptDir      string `envconfig:"SCRIPT_DIR" toml:"script_dir"`
	TempDir        string `envconfig:"TEMP_DIR" toml:"temp_dir"`
	RegistryFormat string `envconfig:"REGISTRY_FORMAT" default:"json" toml:"registry_format"`
	PrefsBackend   string `envconfig:"PREFS_BACKEND" default:"sqlite" toml:"prefs_backend"`
	PrefsPath      string `envconfig:"PREFS_PATH" toml:"prefs_path"`
}

// SandboxConfig bounds script evaluation.
type SandboxConfig struct {
	Timeout      Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s" toml:"timeout"`
	MaxCallStack int      `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024" toml:"max_call_stack"`
}

// HTTPConfig tunes the outbound client used for downloads, pages and
// GM_xmlhttpRequest.
type HTTPConfig struct {
	Timeout   Duration `envconfig:"HTTP_TIMEOUT" default:"30s" toml:"timeout"`
	Retries   int      `envconfig:"HTTP_RETRIES" default:"3" toml:"retries"`
	UserAgent string   `envconfig:"HTTP_USER_AGENT" default:"ScriptMonkey/1.0" toml:"user_agent"`
	RateLimit float64  `envconfig:"HTTP_RATE_LIMIT" default:"0" toml:"rate_limit"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// Duration decodes "5s"-style values from both the environment and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// LoadFile loads the environment and then overrides it with the keys
// present in the TOML file at path.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			RegistryFormat: "json",
			PrefsBackend:   "sqlite",
		},
		Sandbox: SandboxConfig{
			Timeout:      Duration(5 * time.Second),
			MaxCallStack: 1024,
		},
		HTTP: HTTPConfig{
			Timeout:   Duration(30 * time.Second),
			Retries:   3,
			UserAgent: "ScriptMonkey/1.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects unknown enumerated values.
func (c *Config) Validate() error {
	switch c.Storage.RegistryFormat {
	case "json", "yaml":
	default:
		return fmt.Errorf("invalid REGISTRY_FORMAT %q", c.Storage.RegistryFormat)
	}
	switch c.Storage.PrefsBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid PREFS_BACKEND %q", c.Storage.PrefsBackend)
	}
	return nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// ScriptRoot returns the configured script directory or the default.
func (s StorageConfig) ScriptRoot() string {
	if s.ScriptDir != "" {
		return s.ScriptDir
	}
	return paths.ScriptRoot()
}

// TempRoot returns the staging directory for downloads.
func (s StorageConfig) TempRoot() string {
	if s.TempDir != "" {
		return s.TempDir
	}
	return paths.TempRoot()
}

// PrefsFile returns the sqlite preference database path.
func (s StorageConfig) PrefsFile() string {
	if s.PrefsPath != "" {
		return s.PrefsPath
	}
	return paths.PrefsFile()
}
