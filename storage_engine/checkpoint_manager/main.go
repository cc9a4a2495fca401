package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"PruneDB/logger"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
Checkpoint manager persists the LSN recovery may start from: every change
with a smaller LSN is already in the data files. Replaying from there
instead of from the start keeps recovery short and never re-applies a page
change twice (redo is additionally guarded by the page LSN).
*/

var log = logger.Component("checkpoint")

func NewCheckpointManager(dbPath string) (*CheckpointManager, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dbPath)
	}
	return &CheckpointManager{
		checkpointPath: filepath.Join(dbPath, "checkpoint.json"),
	}, nil
}

// SaveCheckpoint atomically saves a checkpoint
func (cm *CheckpointManager) SaveCheckpoint(lsn uint64, nextXID types.TransactionID) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := json.MarshalIndent(Checkpoint{
		LSN:       lsn,
		NextXID:   nextXID,
		Timestamp: time.Now().Unix(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	// write temp, fsync, rename over the old file, fsync the directory:
	// the checkpoint file is always either the old or the new one
	tempPath := cm.checkpointPath + ".tmp"
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open temp checkpoint")
	}
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return errors.Wrap(err, "failed to write temp checkpoint")
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return errors.Wrap(err, "failed to sync temp checkpoint")
	}
	tempFile.Close()

	if err := os.Rename(tempPath, cm.checkpointPath); err != nil {
		return errors.Wrap(err, "failed to rename checkpoint")
	}

	if dir, err := os.Open(filepath.Dir(cm.checkpointPath)); err == nil {
		dir.Sync()
		dir.Close()
	}

	log.Infof("checkpoint saved at LSN %d", lsn)
	return nil
}

// LoadCheckpoint loads the last checkpoint. No file, or a corrupted one,
// means recovery starts from LSN 0.
func (cm *CheckpointManager) LoadCheckpoint() (*Checkpoint, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	data, err := os.ReadFile(cm.checkpointPath)
	if os.IsNotExist(err) {
		return &Checkpoint{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint")
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		log.Warnf("checkpoint file corrupted, starting from LSN 0: %v", err)
		return &Checkpoint{}, nil
	}

	log.Debugf("loaded LSN=%d nextXID=%d", checkpoint.LSN, checkpoint.NextXID)
	return &checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint file
func (cm *CheckpointManager) DeleteCheckpoint() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.Remove(cm.checkpointPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete checkpoint")
	}
	return nil
}
