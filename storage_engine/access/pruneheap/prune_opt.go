package pruneheap

import (
	"time"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/types"
)

// PruneOpt prunes the page of buf if that looks worthwhile and the page can
// be had without waiting. It is called with buf pinned but not locked, on
// the way to reading or updating the page.
//
// The hint and free space checks run without the content lock; a stale
// answer only means a missed or an unneeded attempt. They are repeated
// once the cleanup lock is held. Returns whether a prune pass ran.
func (p *Pruner) PruneOpt(rel *types.RelationDef, buf Buffer) (bool, error) {
	if p.InRecovery() {
		return false, nil
	}
	pg := buf.Page()

	pruneXID := heapfile.GetPruneXID(pg)
	if !pruneXID.IsValid() {
		return false, nil
	}

	var (
		limitedXmin types.TransactionID
		limitedTs   time.Time
	)
	if !p.horizon.IsRemovable(pruneXID) {
		if p.limiter == nil || !p.limiter.Active() {
			return false, nil
		}
		xmin, ts, ok := p.limiter.LimitedHorizon(p.horizon.NonRemovableHorizon(), rel)
		if !ok || !pruneXID.Precedes(xmin) {
			return false, nil
		}
		limitedXmin, limitedTs = xmin, ts
	}

	minFree := minFreeSpace(rel)
	if !heapfile.IsPageFull(pg) && heapfile.HeapFreeSpace(pg) >= minFree {
		return false, nil
	}

	if !buf.ConditionalLockForCleanup() {
		log.Debugf("page %d busy, not pruning", pg.PageNo())
		p.skipped("busy")
		return false, nil
	}
	defer buf.Unlock()

	if !heapfile.IsPageFull(pg) && heapfile.HeapFreeSpace(pg) >= minFree {
		p.skipped("enough_space")
		return false, nil
	}
	if _, err := p.PrunePage(rel, buf, limitedXmin, limitedTs, true); err != nil {
		return false, err
	}
	return true, nil
}

// minFreeSpace is the free space below which a page is worth pruning: the
// fill factor reserve, but never less than a tenth of the page.
func minFreeSpace(rel *types.RelationDef) int {
	target := 0
	if rel != nil && rel.FillFactor > 0 && rel.FillFactor < 100 {
		target = types.PageSize * (100 - rel.FillFactor) / 100
	}
	if floor := types.PageSize / 10; target < floor {
		target = floor
	}
	return target
}
