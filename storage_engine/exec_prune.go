package storageengine

import (
	"slices"
	"time"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/access/pruneheap"
	"PruneDB/storage_engine/bufferpool"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
Page maintenance.

  - pruneOnAccess is the heap's page access hook: every reader or updater
    that pins a heap page gives the pruner a chance to tidy it without
    waiting for anybody.
  - VacuumPage is the scheduled path: it waits for the cleanup lock and
    prunes unconditionally.
  - ReleaseDeadSlots turns Dead line pointers back into Unused ones once
    the caller has removed every index entry pointing at them. Pruning
    itself never does that, so a slot number an index still holds is
    never handed to a new row.
*/

func (se *StorageEngine) pruneOnAccess(rel *types.RelationDef, buf *bufferpool.Buffer) {
	if _, err := se.Pruner.PruneOpt(rel, buf); err != nil {
		log.Warnf("prune of %s page %d failed: %v", rel.Name, buf.Page().PageNo(), err)
	}
}

// VacuumPage prunes one page of relName, waiting for the cleanup lock.
func (se *StorageEngine) VacuumPage(relName string, pageNo uint32) (*VacuumResult, error) {
	rel, hf, err := se.heapFile(relName)
	if err != nil {
		return nil, err
	}
	return se.vacuumPage(rel, hf, pageNo)
}

func (se *StorageEngine) vacuumPage(rel *types.RelationDef, hf *heapfile.HeapFile, pageNo uint32) (*VacuumResult, error) {
	buf, err := hf.ReadBuffer(pageNo)
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	buf.LockForCleanup()

	pg := buf.Page()
	if !heapfile.IsInitialized(pg) {
		return &VacuumResult{}, nil
	}
	res, err := se.Pruner.PrunePage(rel, buf, types.InvalidTransactionID, time.Time{}, false)
	if err != nil {
		return nil, err
	}
	if res.Deleted > res.NowDead {
		se.Metrics.ReportReclaimed(rel.ID, res.Deleted-res.NowDead)
	}
	return &VacuumResult{Result: res, DeadSlots: deadSlots(hf.FileID(), pg)}, nil
}

// VacuumRelation runs VacuumPage over every page of relName and sums the
// results.
func (se *StorageEngine) VacuumRelation(relName string) (*VacuumResult, error) {
	rel, hf, err := se.heapFile(relName)
	if err != nil {
		return nil, err
	}
	return se.vacuumRelation(rel, hf)
}

func (se *StorageEngine) vacuumRelation(rel *types.RelationDef, hf *heapfile.HeapFile) (*VacuumResult, error) {
	n, err := hf.NumPages()
	if err != nil {
		return nil, err
	}
	total := &VacuumResult{}
	for pageNo := int64(0); pageNo < n; pageNo++ {
		res, err := se.vacuumPage(rel, hf, uint32(pageNo))
		if err != nil {
			return nil, errors.Wrapf(err, "vacuum %s page %d", rel.Name, pageNo)
		}
		total.Deleted += res.Deleted
		total.NowDead += res.NowDead
		total.Changed = total.Changed || res.Changed
		if res.LatestRemovedXID.Follows(total.LatestRemovedXID) {
			total.LatestRemovedXID = res.LatestRemovedXID
		}
		total.DeadSlots = append(total.DeadSlots, res.DeadSlots...)
	}
	log.Infof("vacuum %s: pages=%d deleted=%d dead=%d", rel.Name, n, total.Deleted, total.NowDead)
	return total, nil
}

func (se *StorageEngine) vacuumAll() error {
	for _, rel := range se.CatalogManager.Relations() {
		hf, err := se.HeapManager.GetHeapFileByID(rel.FileID)
		if err != nil {
			return err
		}
		if _, err := se.vacuumRelation(rel, hf); err != nil {
			return err
		}
	}
	return nil
}

func deadSlots(fileID uint32, pg *page.Page) []types.RowPointer {
	var out []types.RowPointer
	for off := types.FirstOffsetNumber; off <= heapfile.MaxOffsetNumber(pg); off = off.Next() {
		if heapfile.GetItemID(pg, off).State() == heapfile.LPDead {
			out = append(out, types.RowPointer{FileID: fileID, PageNumber: pg.PageNo(), SlotIndex: off})
		}
	}
	return out
}

// ReleaseDeadSlots marks the given Dead line pointers of one page Unused.
// The caller guarantees no index entry references them any more. Any slot
// that is not Dead fails the whole call and leaves the page untouched.
func (se *StorageEngine) ReleaseDeadSlots(relName string, pageNo uint32, slots []types.OffsetNumber) (int, error) {
	rel, hf, err := se.heapFile(relName)
	if err != nil {
		return 0, err
	}
	slots = slices.Clone(slots)
	slices.Sort(slots)
	slots = slices.Compact(slots)
	if len(slots) == 0 {
		return 0, nil
	}

	buf, err := hf.ReadBuffer(pageNo)
	if err != nil {
		return 0, err
	}
	defer buf.Release()
	buf.LockForCleanup()
	pg := buf.Page()

	maxOff := heapfile.MaxOffsetNumber(pg)
	for _, off := range slots {
		if off < types.FirstOffsetNumber || off > maxOff {
			return 0, errors.Wrapf(heapfile.ErrSlotOutOfRange, "slot %d of page %d", off, pageNo)
		}
		if heapfile.GetItemID(pg, off).State() != heapfile.LPDead {
			return 0, errors.Wrapf(ErrSlotNotDead, "slot %d of page %d", off, pageNo)
		}
	}

	rec := &types.PruneRecord{
		RelID:       rel.ID,
		FileID:      hf.FileID(),
		PageNo:      pageNo,
		NowUnused:   slots,
		NewPruneXID: heapfile.GetPruneXID(pg),
	}
	before := append([]byte(nil), pg.Data...)
	restore := func() {
		copy(pg.Data, before)
		pg.SyncLSN()
	}
	if err := pruneheap.ApplyRecord(pg, rec); err != nil {
		restore()
		return 0, err
	}
	lsn, err := se.WalManager.LogPrune(rec)
	if err != nil {
		restore()
		return 0, errors.Wrapf(err, "log release on page %d", pageNo)
	}
	pg.SetLSN(lsn)
	buf.MarkDirty()

	se.Metrics.SlotsReleased(rel.ID, len(slots))
	log.Debugf("released %d dead slot(s) on %s page %d lsn=%d", len(slots), rel.Name, pageNo, lsn)
	return len(slots), nil
}

// RootTuples maps every slot of one page to the root of its chain.
func (se *StorageEngine) RootTuples(relName string, pageNo uint32) ([]types.OffsetNumber, error) {
	_, hf, err := se.heapFile(relName)
	if err != nil {
		return nil, err
	}
	buf, err := hf.ReadBuffer(pageNo)
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	buf.LockShared()
	if !heapfile.IsInitialized(buf.Page()) {
		return nil, nil
	}
	return pruneheap.GetRootTuples(buf.Page())
}
