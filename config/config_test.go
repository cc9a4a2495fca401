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
	path := filepath.Join(t.TempDir(), "prunedb.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 100, cfg.FillFactor)
	assert.False(t, cfg.ThresholdActive())
	assert.Equal(t, filepath.Join("data", "wal"), cfg.WALPath())
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[storage]
data_dir = /tmp/prune
buffer_pool_pages = 64
fill_factor = 80

[wal]
compress = false

[prune]
old_snapshot_threshold = 5m
recovery_prune = true

[log]
level = debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/prune", cfg.DataDir)
	assert.Equal(t, 64, cfg.BufferPoolPages)
	assert.Equal(t, 80, cfg.FillFactor)
	assert.False(t, cfg.WALCompress)
	assert.True(t, cfg.ThresholdActive())
	assert.Equal(t, 5*time.Minute, cfg.OldSnapshotThreshold)
	assert.True(t, cfg.RecoveryPrune)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/prune/wal", cfg.WALPath())
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "[storage]\nfill_factor = 5\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[prune]\nold_snapshot_threshold = soon\n"))
	assert.Error(t, err)

	cfg, err := Load(writeConfig(t, "[prune]\nold_snapshot_threshold = -1\n"))
	require.NoError(t, err)
	assert.False(t, cfg.ThresholdActive())
}
