package storageengine

import (
	"sync"

	"PruneDB/config"
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/access/pruneheap"
	"PruneDB/storage_engine/bufferpool"
	"PruneDB/storage_engine/catalog"
	checkpoint "PruneDB/storage_engine/checkpoint_manager"
	diskmanager "PruneDB/storage_engine/disk_manager"
	snapshot "PruneDB/storage_engine/snapshot_manager"
	"PruneDB/storage_engine/stats"
	txn "PruneDB/storage_engine/transaction_manager"
	"PruneDB/storage_engine/wal_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

var (
	ErrEngineClosed  = errors.New("storage engine is closed")
	ErrNoTransaction = errors.New("transaction is required")
	ErrSlotNotDead   = errors.New("line pointer is not dead")
)

type StorageEngine struct {
	Cfg *config.Cfg

	BufferPool  *bufferpool.BufferPool
	VictimCache *bufferpool.VictimCache

	DiskManager       *diskmanager.DiskManager
	CatalogManager    *catalog.CatalogManager
	HeapManager       *heapfile.HeapFileManager
	WalManager        *wal_manager.WALManager
	TxnManager        *txn.TxnManager
	SnapshotManager   *snapshot.Manager // nil unless the old-snapshot threshold is on
	CheckpointManager *checkpoint.CheckpointManager

	Pruner  *pruneheap.Pruner
	Metrics *stats.PruneMetrics

	DbRoot string

	// DDL and checkpoints; DML only synchronises on pages
	mu     sync.Mutex
	closed bool
}

// VacuumResult is what one VacuumPage call did to a page.
type VacuumResult struct {
	pruneheap.Result
	// DeadSlots are the Dead line pointers left behind; their index
	// entries must go before ReleaseDeadSlots may free them.
	DeadSlots []types.RowPointer
}
