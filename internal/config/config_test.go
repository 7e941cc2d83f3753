package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stocksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 3*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, time.Second, cfg.Sync.Debounce)
	assert.Equal(t, 15*time.Second, cfg.Sync.ProbeInterval)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
db_path: /var/lib/stocksync/local.db
tenant:
  id: loja-1
  actor: maria
remote:
  kind: http
  url: http://localhost:9000
sync:
  debounce: 250ms
logger:
  level: debug
  encoding: json
`)
	t.Setenv("STOCK_TENANT_ID", "loja-2")
	t.Setenv("STOCK_PROBE_INTERVAL", "1m")
	t.Setenv("LOGGER_DISABLE_CALLER", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stocksync/local.db", cfg.DBPath)
	assert.Equal(t, "loja-2", cfg.Tenant.ID, "environment wins over the file")
	assert.Equal(t, "maria", cfg.Tenant.Actor)
	assert.Equal(t, RemoteHTTP, cfg.Remote.Kind)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, time.Minute, cfg.Sync.ProbeInterval)
	assert.Equal(t, 3*time.Second, cfg.Sync.RequestTimeout, "unset keys keep their default")
	assert.Equal(t, "json", cfg.Logger.Encoding)
	assert.True(t, cfg.Logger.DisableCaller)
}

func TestLoad_MalformedEnvironmentIgnored(t *testing.T) {
	t.Setenv("STOCK_REQUEST_TIMEOUT", "soon")
	t.Setenv("LOGGER_DEVELOPMENT", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Sync.RequestTimeout)
	assert.False(t, cfg.Logger.Development)
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeFile(t, "remote:\n  knd: sql\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown remote", func(c *Config) { c.Remote.Kind = "grpc" }, "remote.kind"},
		{"sql without dsn", func(c *Config) { c.Remote.Kind = RemoteSQL }, "remote.dsn"},
		{"sql bad driver", func(c *Config) {
			c.Remote.Kind = RemoteSQL
			c.Remote.Driver = "mysql"
			c.Remote.DSN = "x"
		}, "remote.driver"},
		{"http without url", func(c *Config) { c.Remote.Kind = RemoteHTTP }, "remote.url"},
		{"no tenant", func(c *Config) { c.Tenant.ID = "" }, "tenant.id"},
		{"no db", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"zero timeout", func(c *Config) { c.Sync.RequestTimeout = 0 }, "durations"},
		{"bad encoding", func(c *Config) { c.Logger.Encoding = "xml" }, "logger.encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, Default().Validate())
}
