package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewCheckpointManager(dir)
	require.NoError(t, err)

	cp, err := cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.LSN)

	require.NoError(t, cm.SaveCheckpoint(17, 9))
	cp, err = cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(17), cp.LSN)
	assert.EqualValues(t, 9, cp.NextXID)

	_, err = os.Stat(filepath.Join(dir, "checkpoint.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptedCheckpointStartsFromZero(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewCheckpointManager(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte("{not json"), 0644))

	cp, err := cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.LSN)

	require.NoError(t, cm.DeleteCheckpoint())
	require.NoError(t, cm.DeleteCheckpoint())
}
