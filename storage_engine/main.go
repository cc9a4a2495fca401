package storageengine

import (
	"os"
	"path/filepath"

	"PruneDB/config"
	"PruneDB/logger"
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
	"github.com/prometheus/client_golang/prometheus"
)

/*
The main file of the storage engine. NewStorageEngine wires every manager
together, replays the WAL and only then installs opportunistic pruning on
the heap, so nothing is pruned from a half recovered page.

	catalog ──► heap files ──► buffer pool ──► disk manager
	                │               ▲
	                ▼               │ WAL before data
	             pruner ───────► WAL
	                │
	    txn manager (clog, horizon) + snapshot manager (threshold)
*/

var log = logger.Component("engine")

const heapDir = "heap"

// NewStorageEngine opens (or creates) the database under cfg.DataDir. reg
// receives the prune metrics; nil leaves them unregistered.
func NewStorageEngine(cfg *config.Cfg, reg prometheus.Registerer) (*StorageEngine, error) {
	if cfg == nil {
		cfg = config.NewCfg()
	}
	dbRoot := cfg.DataDir
	if err := os.MkdirAll(dbRoot, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create db root")
	}

	catalogManager, err := catalog.NewCatalogManager(dbRoot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init catalog manager")
	}

	se := &StorageEngine{
		Cfg:            cfg,
		DbRoot:         dbRoot,
		CatalogManager: catalogManager,
		DiskManager:    diskmanager.NewDiskManager(),
	}

	se.BufferPool = bufferpool.NewBufferPool(cfg.BufferPoolPages, se.DiskManager)
	if se.VictimCache, err = bufferpool.NewVictimCache(cfg.VictimCacheBytes); err != nil {
		return nil, err
	}
	se.BufferPool.SetVictimCache(se.VictimCache)

	se.WalManager, err = wal_manager.OpenWAL(cfg.WALPath(), wal_manager.Options{
		SegmentSize: cfg.WALSegmentSize,
		Compress:    cfg.WALCompress,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open WAL")
	}
	se.BufferPool.SetWALManager(se.WalManager)

	if se.CheckpointManager, err = checkpoint.NewCheckpointManager(dbRoot); err != nil {
		return nil, errors.Wrap(err, "failed to init checkpoint manager")
	}

	txnOpts := []txn.Option{txn.WithLSNSource(se.WalManager.GetCurrentLSN)}
	if cfg.ThresholdActive() {
		se.SnapshotManager = snapshot.NewManager(cfg.OldSnapshotThreshold,
			snapshot.WithLatestXID(func() types.TransactionID { return se.TxnManager.NextXID() }))
		txnOpts = append(txnOpts, txn.WithSnapshotObserver(se.SnapshotManager))
	}
	if se.TxnManager, err = txn.NewTxnManager(txnOpts...); err != nil {
		return nil, err
	}

	se.Metrics = stats.NewPruneMetrics(reg)
	pruneOpts := []pruneheap.Option{pruneheap.WithStats(se.Metrics)}
	if se.SnapshotManager != nil {
		pruneOpts = append(pruneOpts, pruneheap.WithSnapshotLimiter(se.SnapshotManager))
	}
	se.Pruner = pruneheap.NewPruner(se.TxnManager, se.TxnManager, se.WalManager, pruneOpts...)

	se.HeapManager = heapfile.NewHeapFileManager(filepath.Join(dbRoot, heapDir),
		se.DiskManager, se.BufferPool, se.WalManager, se.TxnManager)
	for _, rel := range se.CatalogManager.Relations() {
		if _, err := se.HeapManager.OpenHeapFile(rel); err != nil {
			return nil, errors.Wrapf(err, "failed to open relation %s", rel.Name)
		}
	}

	if err := se.RecoverFromWAL(); err != nil {
		se.shutdown()
		return nil, errors.Wrap(err, "WAL recovery failed")
	}

	if cfg.RecoveryPrune {
		if err := se.vacuumAll(); err != nil {
			se.shutdown()
			return nil, errors.Wrap(err, "post-recovery prune failed")
		}
	}

	se.HeapManager.SetPageAccessHook(se.pruneOnAccess)
	log.Infof("storage engine ready root=%s relations=%d threshold=%s",
		dbRoot, len(se.CatalogManager.Relations()), cfg.OldSnapshotThreshold)
	return se, nil
}

// CreateRelation registers a relation, creates its heap file and logs the
// definition so recovery can recreate both.
func (se *StorageEngine) CreateRelation(def types.RelationDef) (*types.RelationDef, error) {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return nil, ErrEngineClosed
	}

	rel, err := se.CatalogManager.RegisterRelation(def)
	if err != nil {
		return nil, err
	}
	if _, err := se.HeapManager.CreateHeapFile(rel); err != nil {
		return nil, errors.Wrapf(err, "failed to create heap of %s", rel.Name)
	}

	op := &types.Operation{Type: types.OpCreateRelation, RelID: rel.ID, Relation: rel}
	if _, err := se.WalManager.AppendOperation(op); err != nil {
		return nil, errors.Wrap(err, "failed to log relation")
	}
	if err := se.WalManager.Sync(); err != nil {
		return nil, err
	}
	return rel, nil
}

func (se *StorageEngine) Relation(name string) (*types.RelationDef, error) {
	return se.CatalogManager.GetRelation(name)
}

// heapFile resolves a relation name to its definition and heap file.
func (se *StorageEngine) heapFile(name string) (*types.RelationDef, *heapfile.HeapFile, error) {
	rel, err := se.CatalogManager.GetRelation(name)
	if err != nil {
		return nil, nil, err
	}
	hf, err := se.HeapManager.GetHeapFileByID(rel.FileID)
	if err != nil {
		return nil, nil, err
	}
	return rel, hf, nil
}

func (se *StorageEngine) NumPages(relName string) (int64, error) {
	_, hf, err := se.heapFile(relName)
	if err != nil {
		return 0, err
	}
	return hf.NumPages()
}

// Close checkpoints and releases every file. The engine cannot be used
// afterwards.
func (se *StorageEngine) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return nil
	}
	if err := se.checkpointLocked(); err != nil {
		log.Warnf("checkpoint on close failed: %v", err)
	}
	se.closed = true
	return se.shutdown()
}

func (se *StorageEngine) shutdown() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(se.WalManager.Close())
	keep(se.DiskManager.CloseAll())
	se.VictimCache.Close()
	return firstErr
}
