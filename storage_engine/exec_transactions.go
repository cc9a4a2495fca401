package storageengine

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	txn "PruneDB/storage_engine/transaction_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// Transaction WAL logging
/* BEGIN/COMMIT/ABORT records rebuild the commit log on recovery. A commit
is durable once its record is synced; heap pages may reach disk later, the
WAL-before-data guard in the buffer pool makes sure of that.
*/

func (se *StorageEngine) logTxn(kind types.OperationType, xid types.TransactionID, sync bool) error {
	if _, err := se.WalManager.AppendOperation(&types.Operation{Type: kind, TxnID: xid}); err != nil {
		return errors.Wrapf(err, "failed to log %s of xid %d", kind, xid)
	}
	if sync {
		return se.WalManager.Sync()
	}
	return nil
}

// BeginTransaction starts a new transaction with a fresh snapshot.
func (se *StorageEngine) BeginTransaction() (*txn.Transaction, error) {
	t := se.TxnManager.Begin()
	if err := se.logTxn(types.OpTxnBegin, t.ID, false); err != nil {
		se.TxnManager.Abort(t.ID)
		return nil, err
	}
	return t, nil
}

// CommitTransaction makes t durable, then visible.
func (se *StorageEngine) CommitTransaction(t *txn.Transaction) error {
	if t == nil {
		return ErrNoTransaction
	}
	// fsync WAL: this is the durability boundary
	if err := se.logTxn(types.OpTxnCommit, t.ID, true); err != nil {
		return err
	}
	log.Debugf("COMMIT xid=%d pages=%d", t.ID, len(t.Touched))
	return se.TxnManager.Commit(t.ID)
}

// AbortTransaction marks t aborted. Nothing is undone: the versions t wrote
// are invisible from now on. Every page t touched gets a prune hint so
// those versions are reclaimed on the next visit instead of at vacuum.
func (se *StorageEngine) AbortTransaction(t *txn.Transaction) error {
	if t == nil {
		return ErrNoTransaction
	}
	if err := se.logTxn(types.OpTxnAbort, t.ID, true); err != nil {
		return err
	}
	aborted, err := se.TxnManager.Abort(t.ID)
	if err != nil {
		return err
	}

	for _, tp := range aborted.Touched {
		buf, err := se.BufferPool.ReadBuffer(tp.PageID)
		if err != nil {
			log.Warnf("abort of xid %d: cannot hint page %d: %v", t.ID, tp.PageID, err)
			continue
		}
		buf.LockExclusive()
		heapfile.PageSetPrunable(buf.Page(), t.ID)
		buf.MarkDirtyHint()
		buf.Release()
	}
	log.Debugf("ABORT xid=%d hinted=%d", t.ID, len(aborted.Touched))
	return nil
}

// SaveCheckpoint flushes every page the WAL covers and records the LSN
// recovery may start redo from. No DML may run concurrently: a page changed
// after the sync is skipped by the flush but lies before the recorded LSN.
func (se *StorageEngine) SaveCheckpoint() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.closed {
		return ErrEngineClosed
	}
	return se.checkpointLocked()
}

func (se *StorageEngine) checkpointLocked() error {
	lsn := se.WalManager.GetCurrentLSN()
	if err := se.WalManager.Sync(); err != nil {
		return err
	}
	if err := se.BufferPool.FlushAllPages(); err != nil {
		return errors.Wrap(err, "checkpoint flush failed")
	}
	if err := se.DiskManager.Sync(); err != nil {
		return err
	}
	log.Infof("checkpoint at LSN=%d nextXID=%d", lsn, se.TxnManager.NextXID())
	return se.CheckpointManager.SaveCheckpoint(lsn, se.TxnManager.NextXID())
}
