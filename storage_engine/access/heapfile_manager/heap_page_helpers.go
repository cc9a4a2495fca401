package heapfile

import (
	"encoding/binary"

	"PruneDB/storage_engine/page"
	"PruneDB/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Header accessors
// ─────────────────────────────────────────────────────────────────────────────

func GetFileID(pg *page.Page) uint32 {
	return binary.LittleEndian.Uint32(pg.Data[heapOffFileID:])
}

func GetPageNo(pg *page.Page) uint32 {
	return binary.LittleEndian.Uint32(pg.Data[heapOffPageNo:])
}

func GetFlags(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[heapOffFlags:])
}
func setFlags(pg *page.Page, flags uint16) {
	binary.LittleEndian.PutUint16(pg.Data[heapOffFlags:], flags)
}

func HasFreeLines(pg *page.Page) bool {
	return GetFlags(pg)&FlagHasFreeLines != 0
}
func setHasFreeLines(pg *page.Page, on bool) {
	if on {
		setFlags(pg, GetFlags(pg)|FlagHasFreeLines)
	} else {
		setFlags(pg, GetFlags(pg)&^FlagHasFreeLines)
	}
}

func IsPageFull(pg *page.Page) bool {
	return GetFlags(pg)&FlagPageFull != 0
}
func SetPageFull(pg *page.Page) {
	setFlags(pg, GetFlags(pg)|FlagPageFull)
}
func ClearPageFull(pg *page.Page) {
	setFlags(pg, GetFlags(pg)&^FlagPageFull)
}

// RecordEndPtr is the first free byte after the storage area.
func GetRecordEndPtr(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[heapOffRecordEndPtr:])
}
func setRecordEndPtr(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[heapOffRecordEndPtr:], v)
}

// SlotRegionStart is the byte offset of the highest-numbered line pointer.
func GetSlotRegionStart(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[heapOffSlotRegionStart:])
}
func setSlotRegionStart(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[heapOffSlotRegionStart:], v)
}

// MaxOffsetNumber is the highest line pointer number on the page, 0 when
// the slot directory is empty.
func MaxOffsetNumber(pg *page.Page) types.OffsetNumber {
	return types.OffsetNumber(binary.LittleEndian.Uint16(pg.Data[heapOffSlotCount:]))
}
func setSlotCount(pg *page.Page, n types.OffsetNumber) {
	binary.LittleEndian.PutUint16(pg.Data[heapOffSlotCount:], uint16(n))
	setSlotRegionStart(pg, uint16(page.PageSize-int(n)*types.ItemIDSize))
}

func GetPruneXID(pg *page.Page) types.TransactionID {
	return types.TransactionID(binary.LittleEndian.Uint64(pg.Data[heapOffPruneXID:]))
}
func SetPruneXID(pg *page.Page, xid types.TransactionID) {
	binary.LittleEndian.PutUint64(pg.Data[heapOffPruneXID:], uint64(xid))
}

func GetLastAppliedLSN(pg *page.Page) uint64 {
	return binary.LittleEndian.Uint64(pg.Data[heapOffLSN:])
}

func GetChecksum(pg *page.Page) uint32 {
	return binary.LittleEndian.Uint32(pg.Data[heapOffChecksum:])
}
