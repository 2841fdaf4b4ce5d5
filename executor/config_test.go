package executor

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigSizesFromGOMAXPROCS(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Workers)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.CommitQueueCapacity)
	assert.True(t, cfg.HaltOnFirstError)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "workers = 3\ncommit_queue_capacity = 7\nhalt_on_first_error = false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 7, cfg.CommitQueueCapacity)
	assert.False(t, cfg.HaltOnFirstError)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
