package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strictdb/config"
)

func TestDefaultValues(t *testing.T) {
	cfg := config.Default()
	require.True(t, cfg.EnableNestLoop)
	require.True(t, cfg.EnableSortMerge)
	require.Equal(t, 1024, cfg.BufferPoolFrames)
	require.Equal(t, 2*time.Second, cfg.LockWaitTimeout())
	require.Equal(t, 30*time.Second, cfg.CheckpointInterval())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strictdb.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
enable_sortmerge = false
buffer_pool_frames = 256
lock_wait_timeout_ms = 500
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.True(t, cfg.EnableNestLoop, "unset fields keep their default")
	require.False(t, cfg.EnableSortMerge)
	require.Equal(t, 256, cfg.BufferPoolFrames)
	require.Equal(t, 500*time.Millisecond, cfg.LockWaitTimeout())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.hcl"))
	require.Error(t, err)
}
