package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "./source", cfg.SourceDir)
	assert.Equal(t, "fs", cfg.Storage.Driver)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	assert.Equal(t, "none", cfg.Metrics)
	assert.Equal(t, "none", cfg.Tracing)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 250*time.Millisecond, cfg.WatchDebounce)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradepost.yaml")
	body := "data_dir: /var/lib/tradepost\nstorage:\n  driver: SQLite\n  sqlite_path: /tmp/x.db\nmetrics: prometheus\nwatch_debounce: 1s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("TRADEPOST_LOG_LEVEL", "debug")
	t.Setenv("TRADEPOST_STORAGE_SQLITE_PATH", "/env/override.db")

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tradepost", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/env/override.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "prometheus", cfg.Metrics)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.WatchDebounce)
}

func TestReadFileMissing(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, ReadFile(New(), ""))
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	v := New()
	v.Set("storage.driver", "floppy")
	v.Set("metrics", "statsd")
	v.Set("tracing", "zipkin")
	v.Set("log_level", "loud")
	v.Set("log_format", "xml")
	_, err := Load(v)
	require.Error(t, err)
	for _, key := range []string{"storage.driver", "metrics", "tracing", "log_level", "log_format"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateBackendRequirements(t *testing.T) {
	v := New()
	v.Set("storage.driver", "s3")
	_, err := Load(v)
	require.ErrorContains(t, err, "storage.s3.bucket is required")

	v = New()
	v.Set("storage.driver", "postgres")
	_, err = Load(v)
	require.ErrorContains(t, err, "storage.postgres_dsn is required")

	v = New()
	v.Set("watch_debounce", "-1s")
	_, err = Load(v)
	require.ErrorContains(t, err, "watch_debounce")
}
