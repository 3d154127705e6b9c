package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := New("").Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTTL)
}

func TestLoadReadsFileOverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_concurrency: 7\nstorage_driver: sqlite\n"), 0o600))

	t.Setenv("CONTENTPIPELINE_STORAGE_DRIVER", "mysql")

	cfg, err := New(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.WorkerConcurrency)
	// Env overrides the file, matching viper's precedence order.
	assert.Equal(t, "mysql", cfg.StorageDriver)
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_concurrency: 2\n"), 0o600))

	loader := New(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	loader.Watch(func(cfg *Config, err error) {
		if err == nil {
			changed <- cfg
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("worker_concurrency: 9\n"), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, 9, cfg.WorkerConcurrency)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
