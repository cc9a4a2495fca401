package storageengine

import (
	"sort"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/access/pruneheap"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// RecoverFromWAL is called once at startup before the engine accepts any
// work.
//
// The commit log is rebuilt from every transaction record in the WAL, not
// just those after the checkpoint: a row committed long ago must still read
// as committed. Page changes are redone from the checkpoint LSN on, each
// only where the page LSN shows it missing. Uncommitted work is never
// undone; its versions stay on disk, invisible, until pruning removes them.
func (se *StorageEngine) RecoverFromWAL() error {
	var startLSN uint64
	ckpt, err := se.CheckpointManager.LoadCheckpoint()
	if err != nil {
		log.Warnf("failed to load checkpoint, replaying from LSN 0: %v", err)
	} else {
		startLSN = ckpt.LSN
		se.TxnManager.BeginRecovery(ckpt.NextXID)
	}

	var ops []*types.Operation
	if err := se.WalManager.ReplayFromLSN(0, func(op *types.Operation) error {
		ops = append(ops, op)
		return nil
	}); err != nil {
		return errors.Wrap(err, "failed to read WAL")
	}
	if len(ops) == 0 {
		log.Infof("WAL recovery complete, nothing to replay")
		return nil
	}

	se.Pruner.SetInRecovery(true)
	defer se.Pruner.SetInRecovery(false)

	log.Infof("recovery: %d WAL records, checkpoint LSN=%d", len(ops), startLSN)

	counts := make(map[types.OperationType]int)
	for _, op := range ops {
		switch op.Type {
		case types.OpTxnBegin:
			se.TxnManager.RecordStatus(op.TxnID, types.XidInProgress)
			continue
		case types.OpTxnCommit:
			se.TxnManager.RecordStatus(op.TxnID, types.XidCommitted)
			continue
		case types.OpTxnAbort:
			se.TxnManager.RecordStatus(op.TxnID, types.XidAborted)
			continue
		case types.OpCreateRelation:
			// relations are needed by later records whatever the checkpoint says
			if err := se.replayCreateRelation(op); err != nil {
				return errors.Wrapf(err, "replay failed at LSN %d", op.LSN)
			}
			continue
		}

		if op.LSN <= startLSN {
			continue
		}
		if err := se.redo(op); err != nil {
			return errors.Wrapf(err, "redo failed at LSN %d (%s rel=%d)", op.LSN, op.Type, op.RelID)
		}
		counts[op.Type]++
	}

	aborted := se.TxnManager.FinishRecovery()
	log.Infof("recovery complete: redo insert=%d update=%d delete=%d prune=%d, unfinished=%v",
		counts[types.OpInsert], counts[types.OpUpdate], counts[types.OpDelete], counts[types.OpPrune], sortedXIDs(aborted))

	if err := se.WalManager.Sync(); err != nil {
		return err
	}
	return se.BufferPool.FlushAllPages()
}

func (se *StorageEngine) redo(op *types.Operation) error {
	relID := op.RelID
	if op.Type == types.OpPrune {
		if op.Prune == nil {
			return errors.New("prune record without payload")
		}
		relID = op.Prune.FileID
	}
	hf, err := se.HeapManager.GetHeapFileByID(relID)
	if err != nil {
		return err
	}

	switch op.Type {
	case types.OpInsert:
		return hf.RedoInsert(op)
	case types.OpUpdate:
		return hf.RedoUpdate(op)
	case types.OpDelete:
		return hf.RedoDelete(op)
	case types.OpPrune:
		return se.redoPrune(hf, op)
	}
	log.Warnf("skipping unknown WAL record type %d at LSN %d", op.Type, op.LSN)
	return nil
}

// redoPrune replays a prune or a dead slot release through the same
// Execute the live pass used, so the page ends up byte for byte the same.
func (se *StorageEngine) redoPrune(hf *heapfile.HeapFile, op *types.Operation) error {
	rec := op.Prune
	return hf.RedoPage(rec.PageNo, op.LSN, func(pg *page.Page) error {
		return pruneheap.ApplyRecord(pg, rec)
	})
}

func (se *StorageEngine) replayCreateRelation(op *types.Operation) error {
	if op.Relation == nil {
		return errors.Errorf("relation record at LSN %d has no definition", op.LSN)
	}
	rel, err := se.CatalogManager.RestoreRelation(*op.Relation)
	if err != nil {
		return err
	}
	_, err = se.HeapManager.OpenHeapFile(rel)
	return err
}

func sortedXIDs(xids []types.TransactionID) []types.TransactionID {
	sort.Slice(xids, func(i, j int) bool { return xids[i] < xids[j] })
	return xids
}
