package storageengine

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	diskmanager "PruneDB/storage_engine/disk_manager"
	snapshot "PruneDB/storage_engine/snapshot_manager"
	txn "PruneDB/storage_engine/transaction_manager"
	"PruneDB/types"
)

/*
Heap DML on behalf of a transaction. Visibility is the transaction's
snapshot; with the old-snapshot threshold on, every page read is also
checked against the latch so a snapshot whose rows were pruned away fails
with snapshot.ErrSnapshotTooOld instead of silently missing them.
*/

// snapshotReader is the heapfile.VisibilityChecker of one transaction.
type snapshotReader struct {
	tm   *txn.TxnManager
	sm   *snapshot.Manager
	snap *txn.Snapshot
}

func (r snapshotReader) TupleVisible(hdr *heapfile.TupleHeader) bool {
	if !r.tm.XidVisible(r.snap, hdr.Xmin) {
		return false
	}
	return !hdr.Xmax.IsValid() || !r.tm.XidVisible(r.snap, hdr.Xmax)
}

// CheckPage implements heapfile.PageChecker.
func (r snapshotReader) CheckPage(pageLSN uint64) error {
	if r.sm == nil {
		return nil
	}
	return r.sm.CheckSnapshot(r.snap.TakenAt, r.snap.LSN, pageLSN)
}

func (se *StorageEngine) reader(t *txn.Transaction) snapshotReader {
	return snapshotReader{tm: se.TxnManager, sm: se.SnapshotManager, snap: t.Snapshot}
}

func touch(t *txn.Transaction, relID uint32, tids ...types.RowPointer) {
	for _, tid := range tids {
		t.Touch(relID, diskmanager.GlobalPageID(tid.FileID, int64(tid.PageNumber)))
	}
}

// Insert adds row to relation relName.
func (se *StorageEngine) Insert(t *txn.Transaction, relName string, row types.Row) (types.RowPointer, error) {
	if t == nil {
		return types.RowPointer{}, ErrNoTransaction
	}
	rel, hf, err := se.heapFile(relName)
	if err != nil {
		return types.RowPointer{}, err
	}
	tid, err := hf.Insert(t.ID, row)
	if err != nil {
		return types.RowPointer{}, err
	}
	touch(t, rel.ID, tid)
	return tid, nil
}

// Update replaces the version of tid visible to t. tid is usually the chain
// root an index handed out; the result says where the new version went
// and whether the update stayed HOT or PHOT.
func (se *StorageEngine) Update(t *txn.Transaction, tid types.RowPointer, row types.Row) (*heapfile.UpdateResult, error) {
	if t == nil {
		return nil, ErrNoTransaction
	}
	hf, err := se.HeapManager.GetHeapFileByID(tid.FileID)
	if err != nil {
		return nil, err
	}
	res, err := hf.Update(tid, t.ID, se.reader(t), row)
	if err != nil {
		return nil, err
	}
	touch(t, hf.Relation().ID, res.Old, res.New)
	return res, nil
}

// Delete removes the version of tid visible to t and returns the version
// it hit.
func (se *StorageEngine) Delete(t *txn.Transaction, tid types.RowPointer) (types.RowPointer, error) {
	if t == nil {
		return types.RowPointer{}, ErrNoTransaction
	}
	hf, err := se.HeapManager.GetHeapFileByID(tid.FileID)
	if err != nil {
		return types.RowPointer{}, err
	}
	hit, err := hf.Delete(tid, t.ID, se.reader(t))
	if err != nil {
		return types.RowPointer{}, err
	}
	touch(t, hf.Relation().ID, hit)
	return hit, nil
}

// Fetch returns the version of the chain rooted at tid that t can see.
func (se *StorageEngine) Fetch(t *txn.Transaction, tid types.RowPointer) (types.Row, types.RowPointer, error) {
	if t == nil {
		return types.Row{}, types.RowPointer{}, ErrNoTransaction
	}
	hf, err := se.HeapManager.GetHeapFileByID(tid.FileID)
	if err != nil {
		return types.Row{}, types.RowPointer{}, err
	}
	return hf.Fetch(tid, se.reader(t))
}

// Scan visits every row of relName visible to t.
func (se *StorageEngine) Scan(t *txn.Transaction, relName string, fn func(tid types.RowPointer, row types.Row) bool) error {
	if t == nil {
		return ErrNoTransaction
	}
	_, hf, err := se.heapFile(relName)
	if err != nil {
		return err
	}
	return hf.Scan(se.reader(t), fn)
}
