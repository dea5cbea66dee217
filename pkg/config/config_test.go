package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/retry"
	"github.com/cuemby/conduit/pkg/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, retry.DefaultConfig(), cfg.RetryPolicy())
	assert.Equal(t, "http://localhost:8080/hubs/migration", cfg.HubURL())
	assert.Equal(t, progress.DefaultReconnectDelays, cfg.ProgressConfig().ReconnectDelays)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_STATE_DIR", dir)
	path := writeFile(t, dir, "conduit.yaml", `
api:
  base_url: https://console.example.com/root
  timeout: 5s
retry:
  max_retries: 5
  initial_delay: 200ms
  max_delay: 2s
  backoff_multiplier: 3
  retryable_statuses: [429, 503]
token:
  backend: memory
hub:
  reconnect_delays: [0s, 1s]
  transports: [LongPolling]
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.API.Timeout.Duration)
	assert.Equal(t, retry.Config{
		MaxRetries:        5,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 3,
		RetryableStatuses: []int{429, 503},
	}, cfg.RetryPolicy())
	assert.Equal(t, tokenstore.BackendMemory, cfg.Token.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, "token.key"), cfg.Token.KeyFile)

	pc := cfg.ProgressConfig()
	assert.Equal(t, "https://console.example.com/root/hubs/migration", pc.HubURL)
	assert.Equal(t, []time.Duration{0, time.Second}, pc.ReconnectDelays)
	assert.Equal(t, []progress.TransportType{progress.TransportLongPolling}, pc.Transports)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_STATE_DIR", dir)
	path := writeFile(t, dir, "conduit.toml", `
[api]
base_url = "http://127.0.0.1:9000"
timeout = "45s"

[dev_server]
driver = "postgres"
dsn = "postgres://conduit@localhost/conduit"
janitor_schedule = "@every 30s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout.Duration)
	assert.Equal(t, "postgres", cfg.DevServer.Driver)
	assert.Equal(t, "@every 30s", cfg.DevServer.JanitorSchedule)
	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestLoadFindsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_STATE_DIR", dir)
	writeFile(t, dir, "config.yaml", "api:\n  base_url: http://found.example\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://found.example", cfg.API.BaseURL)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("CONDUIT_STATE_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, cfg.API.BaseURL)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_STATE_DIR", dir)
	t.Setenv("CONDUIT_API_URL", "https://env.example.com")
	t.Setenv("CONDUIT_RETRY_MAX", "0")
	t.Setenv("CONDUIT_TOKEN_PASSPHRASE", "correct horse")
	t.Setenv("CONDUIT_TIMEOUT", "2s")
	t.Setenv("CONDUIT_LOG_JSON", "true")
	t.Setenv("CONDUIT_HUB_RECONNECT_DELAYS", "0s, 50ms")

	path := writeFile(t, dir, "c.yaml", "api:\n  base_url: http://file.example\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, "correct horse", cfg.Token.Passphrase)
	assert.Equal(t, 2*time.Second, cfg.API.Timeout.Duration)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, []time.Duration{0, 50 * time.Millisecond}, cfg.ProgressConfig().ReconnectDelays)
}

func TestInvalidEnvironmentValue(t *testing.T) {
	t.Setenv("CONDUIT_STATE_DIR", t.TempDir())
	t.Setenv("CONDUIT_RETRY_MAX", "many")

	_, err := Load("")
	assert.ErrorContains(t, err, "CONDUIT_RETRY_MAX")
}

func TestPassphraseIsNeverReadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_STATE_DIR", dir)
	path := writeFile(t, dir, "c.yaml", "token:\n  passphrase: leaked\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Token.Passphrase)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "must use http or https"},
		{"no host", func(c *Config) { c.API.BaseURL = "http://" }, "has no host"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry"},
		{"multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 1 }, "retry"},
		{"backend", func(c *Config) { c.Token.Backend = "keychain" }, "unknown token store backend"},
		{"transport", func(c *Config) { c.Hub.Transports = []string{"ServerSentEvents"} }, "unknown transport"},
		{"delays", func(c *Config) { c.Hub.ReconnectDelays = []Duration{{-time.Second}} }, "negative"},
		{"driver", func(c *Config) { c.DevServer.Driver = "oracle" }, "unknown driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestInvalidDurationInFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONDUIT_STATE_DIR", dir)
	path := writeFile(t, dir, "c.yaml", "api:\n  timeout: soon\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestClientConfig(t *testing.T) {
	cfg := Default()
	cfg.API.Insecure = true

	cc, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.API.BaseURL, cc.BaseURL)
	require.NotNil(t, cc.TLS)
	assert.True(t, cc.TLS.InsecureSkipVerify)

	cfg.API.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = cfg.ClientConfig()
	assert.Error(t, err)
}
