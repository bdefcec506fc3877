package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 20, cfg.Chrome.MaxInstances)
	assert.Equal(t, []string{"firefox", "webkit", "safari"}, cfg.Sidecar.Browsers)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.HealthInterval)
	assert.Equal(t, 10, cfg.Supervisor.DomainFullCheckEvery)
	assert.Equal(t, 3, cfg.Injection.MaxAttempts)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.CallbackURL())
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_BASE_PATH", "recorder/")
	t.Setenv("CHROME_HEADLESS", "true")
	t.Setenv("SIDECAR_BROWSERS", "firefox,chrome")
	t.Setenv("SIDECAR_ARGS", "--port 9515")
	t.Setenv("SUPERVISOR_HEALTH_INTERVAL", "250ms")
	t.Setenv("HOOKS_RATE_LIMIT", "2.5")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/recorder", cfg.Server.BasePath)
	assert.True(t, cfg.Chrome.HeadlessMode)
	assert.Equal(t, []string{"firefox", "chrome"}, cfg.Sidecar.Browsers)
	assert.Equal(t, []string{"--port", "9515"}, cfg.Sidecar.Args)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.HealthInterval)
	assert.Equal(t, 2.5, cfg.Hooks.RateLimit)
	assert.Equal(t, "http://127.0.0.1:9090/recorder", cfg.CallbackURL())
}

func TestPublicURL(t *testing.T) {
	t.Setenv("SERVER_PUBLIC_URL", "https://recorder.example.com/")
	t.Setenv("SERVER_BASE_PATH", "/api")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://recorder.example.com/api", cfg.CallbackURL())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\ninjection:\n  max_attempts: 5\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Injection.MaxAttempts)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.port", "http")
	v.Set("server.mode", "verbose")
	v.Set("injection.max_attempts", 0)
	v.Set("hooks.token_secret", "s")
	v.Set("hooks.token_ttl", "0s")

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.mode")
	assert.Contains(t, err.Error(), "injection.max_attempts")
	assert.Contains(t, err.Error(), "hooks.token_ttl")
}
