package heapfile

import (
	"encoding/binary"

	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
This file contains standalone functions operating on *page.Page for heap pages.
All functions take *page.Page as first argument since methods cannot be defined on
types from external packages.

Heap page binary layout (all values little-endian):

	Offset  Size  Field
	──────────────────────────────────────────────────────
	0       8     LastAppliedLSN  uint64  WAL LSN, first in every page type
	8       1     PageType        uint8   stamped by DiskManager on write
	9       4     FileID          uint32
	13      4     PageNo          uint32
	17      2     Flags           uint16  HasFreeLines | PageFull
	19      2     RecordEndPtr    uint16  first free byte after storage
	21      2     SlotRegionStart uint16  first byte of the slot directory
	23      2     SlotCount       uint16  line pointers in use (max offset number)
	25      8     PruneXID        uint64  oldest xid that may make pruning useful
	33      4     Checksum        uint32  xxhash32, stamped by DiskManager on write
	──────────────────────────────────────────────────────
	37            HeapHeaderSize

Slotted layout:

	[ header 37B ][ storage → ][ free space ][ ← line pointers ]
	0            37            ^             ^                 4096
	                           RecordEndPtr  SlotRegionStart

Line pointers are numbered from 1. Line pointer n lives at PageSize - n*4,
so line pointer 1 is bytes 4092-4095. A line pointer number never changes
while the page exists; pruning only moves the storage behind it.
*/
const (
	heapOffLSN             = page.PageLSNOffset  // uint64 (8)
	heapOffPageType        = page.PageTypeOffset // uint8 (1)
	heapOffFileID          = 9                   // uint32 (4)
	heapOffPageNo          = 13                  // uint32 (4)
	heapOffFlags           = 17                  // uint16 (2)
	heapOffRecordEndPtr    = 19                  // uint16 (2)
	heapOffSlotRegionStart = 21                  // uint16 (2)
	heapOffSlotCount       = 23                  // uint16 (2)
	heapOffPruneXID        = 25                  // uint64 (8)
	heapOffChecksum        = page.ChecksumOffset // uint32 (4)

	HeapHeaderSize = 37
)

// Page flags.
const (
	// FlagHasFreeLines is a hint that at least one line pointer is unused.
	FlagHasFreeLines uint16 = 0x1
	// FlagPageFull is a hint that an update recently failed to fit.
	FlagPageFull uint16 = 0x2
)

// MaxTupleSize is the largest tuple that fits on an empty page.
const MaxTupleSize = page.PageSize - HeapHeaderSize - types.ItemIDSize

// ─────────────────────────────────────────────────────────────────────────────
// Initialisation
// ─────────────────────────────────────────────────────────────────────────────

// InitHeapPage stamps a fresh heap-page header into pg.Data.
//
// After this call:
//   - LastAppliedLSN  == 0
//   - RecordEndPtr    == HeapHeaderSize
//   - SlotRegionStart == PageSize (empty slot directory)
//   - Flags, SlotCount and PruneXID == 0
//   - all non-header bytes zeroed
func InitHeapPage(pg *page.Page, pageNo uint32) {
	clear(pg.Data)

	pg.PageType = types.PageTypeHeapData
	pg.Data[heapOffPageType] = byte(types.PageTypeHeapData)
	binary.LittleEndian.PutUint32(pg.Data[heapOffFileID:], pg.FileID)
	binary.LittleEndian.PutUint32(pg.Data[heapOffPageNo:], pageNo)
	binary.LittleEndian.PutUint16(pg.Data[heapOffRecordEndPtr:], HeapHeaderSize)
	binary.LittleEndian.PutUint16(pg.Data[heapOffSlotRegionStart:], page.PageSize)

	pg.SetLSN(0)
	pg.SetDirty(true)
}

// IsInitialized is false for a page that was allocated but never written.
func IsInitialized(pg *page.Page) bool {
	return GetRecordEndPtr(pg) >= HeapHeaderSize
}

// ─────────────────────────────────────────────────────────────────────────────
// Free space
// ─────────────────────────────────────────────────────────────────────────────

// FreeSpace returns the bytes available for a new tuple including the line
// pointer it would consume.
//
//	available = SlotRegionStart - RecordEndPtr - ItemIDSize
func FreeSpace(pg *page.Page) int {
	available := int(GetSlotRegionStart(pg)) - int(GetRecordEndPtr(pg)) - types.ItemIDSize
	if available < 0 {
		return 0
	}
	return available
}

// HeapFreeSpace is FreeSpace, except that a page whose line pointer array
// is exhausted reports zero.
func HeapFreeSpace(pg *page.Page) int {
	if !HasFreeLines(pg) && int(MaxOffsetNumber(pg)) >= types.MaxHeapTuplesPerPage {
		return 0
	}
	return FreeSpace(pg)
}

// ─────────────────────────────────────────────────────────────────────────────
// Prune hint
// ─────────────────────────────────────────────────────────────────────────────

// PageSetPrunable records that xid deleted or replaced a tuple here. The hint
// only ever moves back to the oldest such xid.
func PageSetPrunable(pg *page.Page, xid types.TransactionID) {
	if !xid.IsNormal() {
		return
	}
	cur := GetPruneXID(pg)
	if !cur.IsValid() || xid.Precedes(cur) {
		SetPruneXID(pg, xid)
	}
}

// PageClearPrunable forgets the hint.
func PageClearPrunable(pg *page.Page) {
	SetPruneXID(pg, types.InvalidTransactionID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Record operations
// ─────────────────────────────────────────────────────────────────────────────

// PlaceTuple writes a tuple image into the page and returns its line pointer
// number. Only Unused line pointers are recycled: a Dead one may still be
// referenced by an index. The tuple's ctid is pointed at itself.
func PlaceTuple(pg *page.Page, tup []byte) (types.OffsetNumber, error) {
	off := findUnusedItemID(pg)
	need := len(tup)
	if off == types.InvalidOffsetNumber {
		if int(MaxOffsetNumber(pg)) >= types.MaxHeapTuplesPerPage {
			return types.InvalidOffsetNumber, errors.Wrap(ErrNoSpace, "line pointer array exhausted")
		}
		off = MaxOffsetNumber(pg) + 1
		need += types.ItemIDSize
	}
	if gap := int(GetSlotRegionStart(pg)) - int(GetRecordEndPtr(pg)); need > gap {
		return types.InvalidOffsetNumber, errors.Wrapf(ErrNoSpace, "need %d bytes, only %d available", need, gap)
	}
	if off > MaxOffsetNumber(pg) {
		setSlotCount(pg, off)
	}
	writeTuple(pg, off, tup)
	return off, nil
}

// PlaceTupleAt is PlaceTuple for a known line pointer number, used by redo.
// The line pointer must be Unused or beyond the current array; any line
// pointers added in between start out Unused.
func PlaceTupleAt(pg *page.Page, off types.OffsetNumber, tup []byte) error {
	if !off.IsValid() {
		return errors.Wrapf(ErrSlotOutOfRange, "slot %d", off)
	}
	maxOff := MaxOffsetNumber(pg)
	if off <= maxOff && IsUsed(GetItemID(pg, off)) {
		return errors.Wrapf(ErrSlotNotFree, "slot %d is %s", off, GetItemID(pg, off).State())
	}
	need := len(tup)
	if off > maxOff {
		need += int(off-maxOff) * types.ItemIDSize
	}
	if gap := int(GetSlotRegionStart(pg)) - int(GetRecordEndPtr(pg)); need > gap {
		return errors.Wrapf(ErrNoSpace, "need %d bytes, only %d available", need, gap)
	}
	if off > maxOff {
		setSlotCount(pg, off)
		for o := maxOff + 1; o < off; o++ {
			SetItemID(pg, o, Unused{})
			setHasFreeLines(pg, true)
		}
	}
	writeTuple(pg, off, tup)
	return nil
}

func writeTuple(pg *page.Page, off types.OffsetNumber, tup []byte) {
	start := GetRecordEndPtr(pg)
	copy(pg.Data[start:], tup)
	setTupleCtid(pg.Data[start:], pg.PageNo(), off)
	setRecordEndPtr(pg, start+uint16(len(tup)))
	SetItemID(pg, off, Normal{Off: start, Len: uint16(len(tup))})
}

// findUnusedItemID returns the first Unused line pointer, clearing the
// FlagHasFreeLines hint when there is none.
func findUnusedItemID(pg *page.Page) types.OffsetNumber {
	if !HasFreeLines(pg) {
		return types.InvalidOffsetNumber
	}
	maxOff := MaxOffsetNumber(pg)
	for off := types.FirstOffsetNumber; off <= maxOff; off = off.Next() {
		if !IsUsed(GetItemID(pg, off)) {
			return off
		}
	}
	setHasFreeLines(pg, false)
	return types.InvalidOffsetNumber
}

// SetTupleDeleted stamps xmax on a tuple. The ctid keeps pointing at itself.
func SetTupleDeleted(pg *page.Page, off types.OffsetNumber, xmax types.TransactionID) error {
	tup, err := TupleAt(pg, off)
	if err != nil {
		return err
	}
	setTupleXmax(tup, xmax, pg.PageNo(), off, 0)
	return nil
}

// SetTupleUpdated stamps xmax on a tuple, links it to its successor and sets
// HotUpdated or PartialHotUpdated from flags.
func SetTupleUpdated(pg *page.Page, off types.OffsetNumber, xmax types.TransactionID, succ types.RowPointer, flags uint16) error {
	tup, err := TupleAt(pg, off)
	if err != nil {
		return err
	}
	setTupleXmax(tup, xmax, succ.PageNumber, succ.SlotIndex, flags)
	return nil
}
