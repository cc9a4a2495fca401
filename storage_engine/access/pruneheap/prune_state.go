package pruneheap

import (
	"time"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
pruneState is the workspace of one prune pass over one page. It lives only
as long as the pass and is never shared.

Every slot gets at most one final disposition. finalized[] enforces that;
marked[] additionally covers slots that are kept but already belong to a
walked chain (redirect targets), so the page scan does not start a second
chain there.
*/
type pruneState struct {
	rel *types.RelationDef

	// old-snapshot limit, either handed in by the trigger or computed on
	// first need
	oldSnapXmin   types.TransactionID
	oldSnapTs     time.Time
	oldSnapUsed   bool
	limitComputed bool

	newPruneXID      types.TransactionID
	latestRemovedXID types.TransactionID

	redirected     []types.RedirectPair
	redirectedData []types.RedirectWithData
	nowDead        []types.OffsetNumber
	nowUnused      []types.OffsetNumber

	finalized [types.MaxHeapTuplesPerPage + 1]bool
	marked    [types.MaxHeapTuplesPerPage + 1]bool

	natts       int
	interesting *heapfile.AttrSet // nil until a chain needs column analysis
}

func newPruneState(rel *types.RelationDef, limitedXmin types.TransactionID, limitedTs time.Time) *pruneState {
	ps := &pruneState{
		rel:         rel,
		oldSnapXmin: limitedXmin,
		oldSnapTs:   limitedTs,
	}
	if rel != nil {
		ps.natts = rel.NumAttributes
	}
	return ps
}

func (ps *pruneState) changes() int {
	return len(ps.redirected) + len(ps.redirectedData) + len(ps.nowDead) + len(ps.nowUnused)
}

// recordPrunable keeps the oldest xid that may make the page worth pruning
// again.
func (ps *pruneState) recordPrunable(xid types.TransactionID) {
	if !xid.IsNormal() {
		return
	}
	if !ps.newPruneXID.IsValid() || xid.Precedes(ps.newPruneXID) {
		ps.newPruneXID = xid
	}
}

func (ps *pruneState) checkSlot(off types.OffsetNumber) error {
	if !off.IsValid() {
		return errors.Wrapf(ErrWorkspaceFull, "slot %d", off)
	}
	if ps.changes() >= types.MaxHeapTuplesPerPage {
		return errors.Wrapf(ErrWorkspaceFull, "%d changes recorded", ps.changes())
	}
	return nil
}

func (ps *pruneState) finalize(off types.OffsetNumber) error {
	if err := ps.checkSlot(off); err != nil {
		return err
	}
	if ps.finalized[off] {
		return errors.Wrapf(ErrSlotAlreadyFinalized, "slot %d", off)
	}
	ps.finalized[off] = true
	ps.marked[off] = true
	return nil
}

func (ps *pruneState) mark(off types.OffsetNumber) error {
	if !off.IsValid() {
		return errors.Wrapf(ErrWorkspaceFull, "slot %d", off)
	}
	ps.marked[off] = true
	return nil
}

func (ps *pruneState) recordRedirect(from, to types.OffsetNumber) error {
	if err := ps.finalize(from); err != nil {
		return err
	}
	if err := ps.mark(to); err != nil {
		return err
	}
	ps.redirected = append(ps.redirected, types.RedirectPair{From: from, To: to})
	return nil
}

func (ps *pruneState) recordRedirectWithData(from, to types.OffsetNumber, attrs *heapfile.AttrSet) error {
	if err := ps.finalize(from); err != nil {
		return err
	}
	if err := ps.mark(to); err != nil {
		return err
	}
	ps.redirectedData = append(ps.redirectedData, types.RedirectWithData{
		From: from,
		To:   to,
		Data: heapfile.EncodeRedirectData(ps.natts, attrs),
	})
	return nil
}

func (ps *pruneState) recordDead(off types.OffsetNumber) error {
	if err := ps.finalize(off); err != nil {
		return err
	}
	ps.nowDead = append(ps.nowDead, off)
	return nil
}

func (ps *pruneState) recordUnused(off types.OffsetNumber) error {
	if err := ps.finalize(off); err != nil {
		return err
	}
	ps.nowUnused = append(ps.nowUnused, off)
	return nil
}

// record packages the decisions for Execute and the WAL.
func (ps *pruneState) record(fileID, pageNo uint32) *types.PruneRecord {
	rec := &types.PruneRecord{
		FileID:           fileID,
		PageNo:           pageNo,
		Redirected:       ps.redirected,
		RedirectedData:   ps.redirectedData,
		NowDead:          ps.nowDead,
		NowUnused:        ps.nowUnused,
		LatestRemovedXID: ps.latestRemovedXID,
		NewPruneXID:      ps.newPruneXID,
	}
	if ps.rel != nil {
		rec.RelID = ps.rel.ID
	}
	return rec
}
