package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/expenses.db", cfg.Database.Path)
	assert.Equal(t, "https://api.exchangerate-api.com/v4", cfg.Currency.APIURL)
	assert.Equal(t, time.Hour, cfg.Currency.CacheTTL)
	assert.Equal(t, int64(10<<20), cfg.Approval.MaxReceiptBytes)
	assert.True(t, cfg.Approval.MetricsEnabled)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  path: /tmp/approvals.db
currency:
  cache_ttl: 15m
redis:
  addr: localhost:6379
approval:
  metrics_enabled: false
`)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/approvals.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Currency.CacheTTL)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.False(t, cfg.Approval.MetricsEnabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no rates api", func(c *Config) { c.Currency.APIURL = "" }, "currency.api_url"},
		{"zero ttl", func(c *Config) { c.Currency.CacheTTL = 0 }, "currency.cache_ttl"},
		{"zero upload cap", func(c *Config) { c.Approval.MaxReceiptBytes = 0 }, "approval.max_receipt_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToContainerConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Redis.Addr = "localhost:6379"

	cc := cfg.ToContainerConfig()

	assert.Equal(t, cfg.Database.Path, cc.Database.Path)
	assert.Equal(t, "localhost:6379", cc.Redis.Addr)
	assert.Equal(t, cfg.Approval.MaxReceiptBytes, cc.Server.MaxUploadBytes)
	assert.NoError(t, cc.Validate())
}
