package checkpoint

import (
	"sync"

	"PruneDB/types"
)

// CheckpointManager manages WAL checkpoints
type CheckpointManager struct {
	checkpointPath string
	mu             sync.RWMutex
}

// Checkpoint represents a recovery point in the WAL
type Checkpoint struct {
	LSN uint64 `json:"lsn"`
	// NextXID keeps xid allocation monotonic across restarts even if the
	// WAL before LSN has been recycled.
	NextXID   types.TransactionID `json:"next_xid"`
	Timestamp int64               `json:"timestamp"` // informational only
}
