package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LEDGERSYNC_DB_PATH", "LOG_LEVEL", "CONNECTIVITY_MODE", "DRAIN_MAX_RETRIES", "PORT", "NATS_URL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ledgersync.db", cfg.Database.Path)
	assert.Equal(t, ModePQ, cfg.Connectivity.Mode)
	assert.Equal(t, 3, cfg.Drain.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Drain.Interval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.NATS.Enabled)
	assert.Len(t, cfg.Tables, 6)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
tables: [invoices, expenses]
init_timeout: 2s
log_level: debug
database:
  path: /var/lib/ledgersync/data.db
drain:
  interval: 1m
  max_retries: 5
  item_timeout: 20s
connectivity:
  mode: probe
  ping_interval: 15s
http:
  addr: 127.0.0.1:9000
nats:
  enabled: true
  url: nats://bus:4222
  subject: books.events
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices", "expenses"}, cfg.Tables)
	assert.Equal(t, 2*time.Second, cfg.InitTimeout)
	assert.Equal(t, "/var/lib/ledgersync/data.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.Drain.Interval)
	assert.Equal(t, ModeProbe, cfg.Connectivity.Mode)
	assert.Equal(t, 15*time.Second, cfg.Connectivity.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.ProbeTimeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)

	ec := cfg.engineConfig()
	assert.Equal(t, 5, ec.Drain.MaxRetries)
	assert.Equal(t, 20*time.Second, ec.Drain.ItemTimeout)

	nc := cfg.natsConfig()
	assert.Equal(t, "nats://bus:4222", nc.URL)
	assert.Equal(t, "books.events", nc.Subject)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERSYNC_DB_PATH", "/tmp/other.db")
	t.Setenv("PORT", "9191")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("DRAIN_MAX_RETRIES", "7")
	path := writeConfig(t, "database:\n  path: file.db\n")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, ":9191", cfg.HTTP.Addr)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 7, cfg.Drain.MaxRetries)
}

func TestLoadConfigInvalid(t *testing.T) {
	clearEnv(t)

	_, err := loadConfig(writeConfig(t, "connectivity:\n  mode: carrier-pigeon\nlog_level: loud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Contains(t, err.Error(), "log_level")

	_, err = loadConfig(writeConfig(t, "drain: [not, a, map]\n"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
