package heapfile

import (
	"PruneDB/storage_engine/bufferpool"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// this file contains internal functions, they do not take hf.mu.
// the external functions in row_ops_external.go serialise writers per file.

// insertRow places a new version created by xid on the first page with
// room, extending the file if needed.
func (hf *HeapFile) insertRow(xid types.TransactionID, row types.Row) (types.RowPointer, error) {
	tup, err := EncodeTuple(TupleHeader{Xmin: xid}, row)
	if err != nil {
		return types.RowPointer{}, err
	}

	buf, err := hf.findSuitablePage(len(tup)+hf.fillReserve(), -1)
	if err != nil {
		return types.RowPointer{}, errors.Wrap(err, "failed to find suitable page")
	}
	defer buf.Release()

	pg := buf.Page()
	before := pageImage(buf)
	off, err := PlaceTuple(pg, tup)
	if err != nil {
		copy(pg.Data, before)
		return types.RowPointer{}, errors.Wrap(err, "failed to place tuple")
	}
	target := types.RowPointer{FileID: hf.fileID, PageNumber: pg.PageNo(), SlotIndex: off}

	op := &types.Operation{
		Type:   types.OpInsert,
		TxnID:  xid,
		RelID:  hf.rel.ID,
		Target: &target,
		Tuple:  tupleCopy(pg, off),
	}
	if err := hf.logChange(op, []*bufferpool.Buffer{buf}, [][]byte{before}); err != nil {
		return types.RowPointer{}, err
	}

	log.Debugf("INSERT rel=%s tid=%s xid=%d lsn=%d", hf.rel.Name, target, xid, pg.LSN())
	return target, nil
}

// updateRow replaces the version of tid visible through vis with row.
//
// The new version stays on the page whenever it fits:
//   - no indexed column changed: HOT, new version is HeapOnly
//   - some indexed columns changed: PHOT, new version is PartialHeapOnly
//   - every indexed column changed: plain same-page update
//
// Otherwise the old page is flagged full and the new version goes to
// another page (cold update).
func (hf *HeapFile) updateRow(tid types.RowPointer, xid types.TransactionID, vis VisibilityChecker, row types.Row) (*UpdateResult, error) {
	buf, err := hf.pinForAccess(tid.PageNumber)
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	buf.LockExclusive()
	pg := buf.Page()

	if pc, ok := vis.(PageChecker); ok {
		if err := pc.CheckPage(pg.LSN()); err != nil {
			return nil, err
		}
	}

	off, hdr, err := findVisible(pg, tid.SlotIndex, vis, false)
	if err != nil {
		return nil, errors.Wrapf(err, "update %s", tid)
	}
	if err := hf.checkUpdatable(&hdr, xid); err != nil {
		return nil, errors.Wrapf(err, "update %s", tid)
	}
	oldTup, err := TupleAt(pg, off)
	if err != nil {
		return nil, err
	}
	_, oldRow, err := DecodeTuple(oldTup)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", tid)
	}

	source := types.RowPointer{FileID: hf.fileID, PageNumber: pg.PageNo(), SlotIndex: off}
	result := &UpdateResult{
		Old:      source,
		Modified: ModifiedRowAttrs(oldRow, row, hf.rel.IndexedColumns),
	}

	var newMask, oldFlags uint16
	switch {
	case result.Modified.IsEmpty():
		result.Kind, newMask, oldFlags = UpdateHOT, HeapOnly, HotUpdated
	case result.Modified.Len() < len(hf.rel.IndexedColumns):
		result.Kind, newMask, oldFlags = UpdatePHOT, PartialHeapOnly, PartialHotUpdated
	default:
		result.Kind = UpdateSamePage
	}

	newTup, err := EncodeTuple(TupleHeader{Xmin: xid, Infomask: newMask}, row)
	if err != nil {
		return nil, err
	}

	if HeapFreeSpace(pg) >= len(newTup) {
		before := pageImage(buf)
		newOff, err := PlaceTuple(pg, newTup)
		if err != nil {
			copy(pg.Data, before)
			return nil, errors.Wrap(err, "failed to place new version")
		}
		result.New = types.RowPointer{FileID: hf.fileID, PageNumber: pg.PageNo(), SlotIndex: newOff}
		if err := SetTupleUpdated(pg, off, xid, result.New, oldFlags); err != nil {
			copy(pg.Data, before)
			return nil, err
		}
		PageSetPrunable(pg, xid)

		op := &types.Operation{
			Type:        types.OpUpdate,
			TxnID:       xid,
			RelID:       hf.rel.ID,
			Source:      &source,
			Target:      &result.New,
			Tuple:       tupleCopy(pg, newOff),
			UpdateFlags: oldFlags,
		}
		if err := hf.logChange(op, []*bufferpool.Buffer{buf}, [][]byte{before}); err != nil {
			return nil, err
		}
		log.Debugf("UPDATE(%s) rel=%s %s -> %s xid=%d", result.Kind, hf.rel.Name, source, result.New, xid)
		return result, nil
	}

	return hf.coldUpdate(buf, source, xid, row, result)
}

// coldUpdate moves the new version to another page. buf is the old page,
// exclusively locked; the old page is locked before the new one.
func (hf *HeapFile) coldUpdate(buf *bufferpool.Buffer, source types.RowPointer, xid types.TransactionID, row types.Row, result *UpdateResult) (*UpdateResult, error) {
	pg := buf.Page()
	result.Kind = UpdateCold

	// Next visitor gets to prune it.
	SetPageFull(pg)
	buf.MarkDirtyHint()

	newTup, err := EncodeTuple(TupleHeader{Xmin: xid}, row)
	if err != nil {
		return nil, err
	}
	other, err := hf.findSuitablePage(len(newTup)+hf.fillReserve(), int64(pg.PageNo()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to find page for cold update")
	}
	defer other.Release()

	before := [][]byte{pageImage(buf), pageImage(other)}
	restore := func() {
		copy(pg.Data, before[0])
		copy(other.Page().Data, before[1])
	}
	newOff, err := PlaceTuple(other.Page(), newTup)
	if err != nil {
		restore()
		return nil, errors.Wrap(err, "failed to place new version")
	}
	result.New = types.RowPointer{FileID: hf.fileID, PageNumber: other.Page().PageNo(), SlotIndex: newOff}
	if err := SetTupleUpdated(pg, source.SlotIndex, xid, result.New, 0); err != nil {
		restore()
		return nil, err
	}
	PageSetPrunable(pg, xid)

	op := &types.Operation{
		Type:     types.OpUpdate,
		TxnID:    xid,
		RelID:    hf.rel.ID,
		Source:   &source,
		Target:   &result.New,
		Tuple:    tupleCopy(other.Page(), newOff),
		PageFull: true,
	}
	if err := hf.logChange(op, []*bufferpool.Buffer{buf, other}, before); err != nil {
		return nil, err
	}
	log.Debugf("UPDATE(%s) rel=%s %s -> %s xid=%d", result.Kind, hf.rel.Name, source, result.New, xid)
	return result, nil
}

// deleteRow stamps xid as xmax on the version of tid visible through vis.
func (hf *HeapFile) deleteRow(tid types.RowPointer, xid types.TransactionID, vis VisibilityChecker) (types.RowPointer, error) {
	buf, err := hf.ReadBuffer(tid.PageNumber)
	if err != nil {
		return types.RowPointer{}, err
	}
	defer buf.Release()
	buf.LockExclusive()
	pg := buf.Page()

	off, hdr, err := findVisible(pg, tid.SlotIndex, vis, false)
	if err != nil {
		return types.RowPointer{}, errors.Wrapf(err, "delete %s", tid)
	}
	if err := hf.checkUpdatable(&hdr, xid); err != nil {
		return types.RowPointer{}, errors.Wrapf(err, "delete %s", tid)
	}

	before := pageImage(buf)
	if err := SetTupleDeleted(pg, off, xid); err != nil {
		return types.RowPointer{}, err
	}
	PageSetPrunable(pg, xid)

	source := types.RowPointer{FileID: hf.fileID, PageNumber: pg.PageNo(), SlotIndex: off}
	op := &types.Operation{
		Type:   types.OpDelete,
		TxnID:  xid,
		RelID:  hf.rel.ID,
		Source: &source,
	}
	if err := hf.logChange(op, []*bufferpool.Buffer{buf}, [][]byte{before}); err != nil {
		return types.RowPointer{}, err
	}
	log.Debugf("DELETE rel=%s tid=%s xid=%d", hf.rel.Name, source, xid)
	return source, nil
}

// fetchRow returns the version reachable from root that vis can see.
func (hf *HeapFile) fetchRow(root types.RowPointer, vis VisibilityChecker) (types.Row, types.RowPointer, error) {
	buf, err := hf.pinForAccess(root.PageNumber)
	if err != nil {
		return types.Row{}, types.RowPointer{}, err
	}
	defer buf.Release()
	buf.LockShared()
	pg := buf.Page()

	if pc, ok := vis.(PageChecker); ok {
		if err := pc.CheckPage(pg.LSN()); err != nil {
			return types.Row{}, types.RowPointer{}, err
		}
	}

	off, _, err := findVisible(pg, root.SlotIndex, vis, true)
	if err != nil {
		return types.Row{}, types.RowPointer{}, errors.Wrapf(err, "fetch %s", root)
	}
	tup, err := TupleAt(pg, off)
	if err != nil {
		return types.Row{}, types.RowPointer{}, err
	}
	_, row, err := DecodeTuple(tup)
	if err != nil {
		return types.Row{}, types.RowPointer{}, err
	}
	return row.Clone(), types.RowPointer{FileID: hf.fileID, PageNumber: pg.PageNo(), SlotIndex: off}, nil
}

// scanPage collects every Normal tuple on one page that vis can see.
func (hf *HeapFile) scanPage(pageNo uint32, vis VisibilityChecker) ([]types.RowPointer, []types.Row, error) {
	buf, err := hf.pinForAccess(pageNo)
	if err != nil {
		return nil, nil, err
	}
	defer buf.Release()
	buf.LockShared()
	pg := buf.Page()
	if !IsInitialized(pg) {
		return nil, nil, nil
	}
	if pc, ok := vis.(PageChecker); ok {
		if err := pc.CheckPage(pg.LSN()); err != nil {
			return nil, nil, err
		}
	}

	var tids []types.RowPointer
	var rows []types.Row
	maxOff := MaxOffsetNumber(pg)
	for off := types.FirstOffsetNumber; off <= maxOff; off = off.Next() {
		if GetItemID(pg, off).State() != LPNormal {
			continue
		}
		tup, err := TupleAt(pg, off)
		if err != nil {
			return nil, nil, err
		}
		hdr, row, err := DecodeTuple(tup)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "page %d slot %d", pageNo, off)
		}
		if !vis.TupleVisible(&hdr) {
			continue
		}
		tids = append(tids, types.RowPointer{FileID: hf.fileID, PageNumber: pageNo, SlotIndex: off})
		rows = append(rows, row.Clone())
	}
	return tids, rows, nil
}

// findVisible walks the chain starting at line pointer start and returns
// the first member vis can see. Redirects are followed; a HOT or PHOT link
// is followed only while the successor's xmin matches the predecessor's
// xmax. With fromRoot set, a chain may not start at a HeapOnly tuple: its
// line pointer may have been recycled since the caller learned of it.
func findVisible(pg *page.Page, start types.OffsetNumber, vis VisibilityChecker, fromRoot bool) (types.OffsetNumber, TupleHeader, error) {
	off := start
	priorXmax := types.InvalidTransactionID
	atStart := true
	maxOff := MaxOffsetNumber(pg)

	for steps := 0; steps <= int(maxOff); steps++ {
		if off < types.FirstOffsetNumber || off > maxOff {
			break
		}
		id := GetItemID(pg, off)
		if target, ok := RedirectTarget(id); ok {
			off = target
			priorXmax = types.InvalidTransactionID
			atStart = false
			continue
		}
		if id.State() != LPNormal {
			break
		}
		hdr, err := TupleHeaderAt(pg, off)
		if err != nil {
			return types.InvalidOffsetNumber, TupleHeader{}, err
		}
		if fromRoot && atStart && hdr.IsHeapOnly() {
			break
		}
		if priorXmax.IsValid() && hdr.Xmin != priorXmax {
			break
		}
		if vis.TupleVisible(&hdr) {
			return off, hdr, nil
		}
		if !hdr.IsHotUpdated() && !hdr.IsPartialHotUpdated() {
			break
		}
		if hdr.CtidPage != pg.PageNo() {
			break
		}
		off = hdr.CtidSlot
		priorXmax = hdr.Xmax
		atStart = false
	}
	return types.InvalidOffsetNumber, TupleHeader{}, ErrRowNotFound
}

// checkUpdatable refuses a version that another transaction already
// replaced. An aborted xmax is simply overwritten.
func (hf *HeapFile) checkUpdatable(hdr *TupleHeader, xid types.TransactionID) error {
	if !hdr.Xmax.IsValid() {
		return nil
	}
	if hdr.Xmax == xid {
		return errors.Wrap(ErrTupleUpdated, "by this transaction")
	}
	switch hf.clog.Status(hdr.Xmax) {
	case types.XidAborted:
		return nil
	case types.XidInProgress:
		return errors.Wrapf(ErrConcurrentUpdate, "xmax %d", hdr.Xmax)
	}
	return errors.Wrapf(ErrTupleUpdated, "xmax %d committed", hdr.Xmax)
}

// fillReserve is the free space inserts leave behind on each page so
// later updates of its rows can stay on the page.
func (hf *HeapFile) fillReserve() int {
	ff := hf.rel.FillFactor
	if ff <= 0 || ff >= 100 {
		return 0
	}
	return types.PageSize * (100 - ff) / 100
}

func tupleCopy(pg *page.Page, off types.OffsetNumber) []byte {
	tup, err := TupleAt(pg, off)
	if err != nil {
		return nil
	}
	return append([]byte(nil), tup...)
}
