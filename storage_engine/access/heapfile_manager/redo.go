package heapfile

import (
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// Redo of heap DML. Each record is applied only to pages whose LSN is
// older than the record; the page LSN is advanced afterwards. Recovery is
// single threaded, so pages are locked one at a time.

func (hf *HeapFile) RedoInsert(op *types.Operation) error {
	if op.Target == nil {
		return errors.Errorf("insert record %d has no target", op.LSN)
	}
	return hf.RedoPage(op.Target.PageNumber, op.LSN, func(pg *page.Page) error {
		return PlaceTupleAt(pg, op.Target.SlotIndex, op.Tuple)
	})
}

func (hf *HeapFile) RedoUpdate(op *types.Operation) error {
	if op.Target == nil || op.Source == nil {
		return errors.Errorf("update record %d lacks source or target", op.LSN)
	}
	markOld := func(pg *page.Page) error {
		if err := SetTupleUpdated(pg, op.Source.SlotIndex, op.TxnID, *op.Target, op.UpdateFlags); err != nil {
			return err
		}
		PageSetPrunable(pg, op.TxnID)
		if op.PageFull {
			SetPageFull(pg)
		}
		return nil
	}
	placeNew := func(pg *page.Page) error {
		return PlaceTupleAt(pg, op.Target.SlotIndex, op.Tuple)
	}

	if op.Source.PageNumber == op.Target.PageNumber {
		return hf.RedoPage(op.Target.PageNumber, op.LSN, func(pg *page.Page) error {
			if err := placeNew(pg); err != nil {
				return err
			}
			return markOld(pg)
		})
	}
	if err := hf.RedoPage(op.Source.PageNumber, op.LSN, markOld); err != nil {
		return err
	}
	return hf.RedoPage(op.Target.PageNumber, op.LSN, placeNew)
}

func (hf *HeapFile) RedoDelete(op *types.Operation) error {
	if op.Source == nil {
		return errors.Errorf("delete record %d has no source", op.LSN)
	}
	return hf.RedoPage(op.Source.PageNumber, op.LSN, func(pg *page.Page) error {
		if err := SetTupleDeleted(pg, op.Source.SlotIndex, op.TxnID); err != nil {
			return err
		}
		PageSetPrunable(pg, op.TxnID)
		return nil
	})
}

// RedoPage applies fn to page pageNo unless the page already reflects lsn.
func (hf *HeapFile) RedoPage(pageNo uint32, lsn uint64, fn func(pg *page.Page) error) error {
	buf, err := hf.RedoBuffer(pageNo)
	if err != nil {
		return err
	}
	defer buf.Release()

	pg := buf.Page()
	if pg.LSN() >= lsn {
		return nil
	}
	if err := fn(pg); err != nil {
		return errors.Wrapf(err, "redo lsn %d on page %d", lsn, pageNo)
	}
	pg.SetLSN(lsn)
	buf.MarkDirty()
	return nil
}
