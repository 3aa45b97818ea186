package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Storage config
	assert.Equal(t, "json", cfg.Storage.RegistryFormat)
	assert.Equal(t, "sqlite", cfg.Storage.PrefsBackend)
	assert.NotEmpty(t, cfg.Storage.ScriptRoot())

	// Sandbox config
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, 1024, cfg.Sandbox.MaxCallStack)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "127.0.0.1",
		"SCRIPT_DIR":             "/srv/scripts",
		"REGISTRY_FORMAT":        "yaml",
		"PREFS_BACKEND":          "memory",
		"SANDBOX_TIMEOUT":        "250ms",
		"SANDBOX_MAX_CALL_STACK": "256",
		"HTTP_RETRIES":           "0",
		"HTTP_RATE_LIMIT":        "2.5",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"RATE_LIMIT_RPS":         "500",
		"RATE_LIMIT_BURST":       "1000",
		"RATE_LIMIT_ENABLED":     "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
	assert.Equal(t, "/srv/scripts", cfg.Storage.ScriptRoot())
	assert.Equal(t, "yaml", cfg.Storage.RegistryFormat)
	assert.Equal(t, "memory", cfg.Storage.PrefsBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, 256, cfg.Sandbox.MaxCallStack)
	assert.Equal(t, 0, cfg.HTTP.Retries)
	assert.Equal(t, 2.5, cfg.HTTP.RateLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"registry format", "REGISTRY_FORMAT", "xml"},
		{"prefs backend", "PREFS_BACKEND", "redis"},
		{"duration", "SANDBOX_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("REGISTRY_FORMAT", "xml")
	cfg := LoadOrDefault()
	assert.Equal(t, "json", cfg.Storage.RegistryFormat)
}

func TestLoadFileOverridesEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "scriptmonkey.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "7000"

[sandbox]
timeout = "2s"

[storage]
prefs_backend = "memory"
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level, "keys absent from the file keep their environment value")
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, "memory", cfg.Storage.PrefsBackend)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
