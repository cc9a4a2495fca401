package heapfile

import (
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// RepairFragmentation squeezes out the storage no longer owned by any line
// pointer. Tuples and redirect records are packed right after the header in
// ascending line pointer order and their line pointers rewritten; line
// pointer numbers and states do not change. FlagHasFreeLines is recomputed.
//
// The result depends only on the line pointer array and the storage it
// references, so applying the same changes to the same page image always
// yields the same bytes. Caller holds the exclusive content lock.
func RepairFragmentation(pg *page.Page) error {
	maxOff := MaxOffsetNumber(pg)
	slotStart := int(GetSlotRegionStart(pg))

	scratch := make([]byte, slotStart-HeapHeaderSize)
	pos := 0
	hasFree := false

	for off := types.FirstOffsetNumber; off <= maxOff; off = off.Next() {
		id := GetItemID(pg, off)
		if id.State() == LPUnused {
			hasFree = true
			continue
		}
		start, length, ok, err := storageOf(pg, id)
		if err != nil {
			return errors.Wrapf(err, "repair slot %d", off)
		}
		if !ok {
			continue
		}
		if start < HeapHeaderSize || start+length > slotStart {
			return errors.Wrapf(ErrCorruptPage, "slot %d storage [%d,%d) outside storage area", off, start, start+length)
		}
		newOff := uint16(HeapHeaderSize + pos)
		pos += copy(scratch[pos:], pg.Data[start:start+length])

		switch v := id.(type) {
		case Normal:
			SetItemID(pg, off, Normal{Off: newOff, Len: v.Len})
		case RedirectWithData:
			SetItemID(pg, off, RedirectWithData{Target: v.Target, DataOff: newOff})
		}
	}

	copy(pg.Data[HeapHeaderSize:slotStart], scratch)
	setRecordEndPtr(pg, uint16(HeapHeaderSize+pos))
	setHasFreeLines(pg, hasFree)
	return nil
}
