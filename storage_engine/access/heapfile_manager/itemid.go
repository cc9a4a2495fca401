package heapfile

import (
	"encoding/binary"
	"fmt"

	"PruneDB/storage_engine/page"
	"PruneDB/types"
)

/*
A line pointer is one little-endian 32-bit word:

	bits  0-14  lp_off    storage offset, or the target line pointer of a redirect
	bits 15-16  lp_flags  Unused=0 Normal=1 Redirect=2 Dead=3
	bits 17-31  lp_len    storage length, or for a redirect the offset of its
	                      redirect data record (0 = plain redirect)

In Go a line pointer is the ItemID sum type below; EncodeItemID and
DecodeItemID are the only places that know the bit layout.
*/

type LPState uint8

const (
	LPUnused   LPState = 0
	LPNormal   LPState = 1
	LPRedirect LPState = 2
	LPDead     LPState = 3
)

func (s LPState) String() string {
	switch s {
	case LPUnused:
		return "UNUSED"
	case LPNormal:
		return "NORMAL"
	case LPRedirect:
		return "REDIRECT"
	case LPDead:
		return "DEAD"
	}
	return "INVALID"
}

const (
	lpOffMask    = 0x7FFF
	lpFlagsShift = 15
	lpFlagsMask  = 0x3
	lpLenShift   = 17
	lpLenMask    = 0x7FFF
)

// ItemID is one of Unused, Normal, Redirect, RedirectWithData or Dead.
type ItemID interface {
	State() LPState
	word() uint32
}

// Unused is free for reuse by a new tuple.
type Unused struct{}

// Normal points at tuple storage.
type Normal struct {
	Off uint16
	Len uint16
}

// Redirect forwards to another line pointer on the same page.
type Redirect struct {
	Target types.OffsetNumber
}

// RedirectWithData forwards like Redirect and owns a redirect data record
// at DataOff.
type RedirectWithData struct {
	Target  types.OffsetNumber
	DataOff uint16
}

// Dead has no storage but its number stays reserved because an index entry
// may still point at it.
type Dead struct{}

func pack(off uint16, state LPState, length uint16) uint32 {
	return uint32(off)&lpOffMask |
		(uint32(state)&lpFlagsMask)<<lpFlagsShift |
		(uint32(length)&lpLenMask)<<lpLenShift
}

func (Unused) State() LPState { return LPUnused }
func (Normal) State() LPState { return LPNormal }
func (Redirect) State() LPState { return LPRedirect }
func (RedirectWithData) State() LPState { return LPRedirect }
func (Dead) State() LPState { return LPDead }

func (Unused) word() uint32 { return pack(0, LPUnused, 0) }
func (n Normal) word() uint32 { return pack(n.Off, LPNormal, n.Len) }
func (r Redirect) word() uint32 { return pack(uint16(r.Target), LPRedirect, 0) }
func (r RedirectWithData) word() uint32 { return pack(uint16(r.Target), LPRedirect, r.DataOff) }
func (Dead) word() uint32 { return pack(0, LPDead, 0) }

func (Unused) String() string { return "UNUSED" }
func (n Normal) String() string { return fmt.Sprintf("NORMAL(off=%d,len=%d)", n.Off, n.Len) }
func (r Redirect) String() string { return fmt.Sprintf("REDIRECT(->%d)", r.Target) }
func (r RedirectWithData) String() string { return fmt.Sprintf("REDIRECT(->%d,data@%d)", r.Target, r.DataOff) }
func (Dead) String() string { return "DEAD" }

func EncodeItemID(id ItemID) uint32 {
	return id.word()
}

func DecodeItemID(w uint32) ItemID {
	off := uint16(w & lpOffMask)
	length := uint16((w >> lpLenShift) & lpLenMask)
	switch LPState((w >> lpFlagsShift) & lpFlagsMask) {
	case LPNormal:
		return Normal{Off: off, Len: length}
	case LPRedirect:
		if length != 0 {
			return RedirectWithData{Target: types.OffsetNumber(off), DataOff: length}
		}
		return Redirect{Target: types.OffsetNumber(off)}
	case LPDead:
		return Dead{}
	default:
		return Unused{}
	}
}

// itemIDByteOffset is where line pointer n begins: PageSize - n*ItemIDSize.
func itemIDByteOffset(off types.OffsetNumber) int {
	return page.PageSize - int(off)*types.ItemIDSize
}

// GetItemID reads line pointer off. Numbers outside 1..MaxOffsetNumber read
// as Unused.
func GetItemID(pg *page.Page, off types.OffsetNumber) ItemID {
	if off < types.FirstOffsetNumber || off > MaxOffsetNumber(pg) {
		return Unused{}
	}
	return DecodeItemID(binary.LittleEndian.Uint32(pg.Data[itemIDByteOffset(off):]))
}

// SetItemID overwrites an existing line pointer.
func SetItemID(pg *page.Page, off types.OffsetNumber, id ItemID) {
	binary.LittleEndian.PutUint32(pg.Data[itemIDByteOffset(off):], EncodeItemID(id))
}

func IsUsed(id ItemID) bool {
	return id.State() != LPUnused
}

func IsRedirected(id ItemID) bool {
	return id.State() == LPRedirect
}

// IsPartialHotRedirected reports a redirect that carries a data record.
func IsPartialHotRedirected(id ItemID) bool {
	_, ok := id.(RedirectWithData)
	return ok
}

// RedirectTarget returns the target of either redirect flavour.
func RedirectTarget(id ItemID) (types.OffsetNumber, bool) {
	switch r := id.(type) {
	case Redirect:
		return r.Target, true
	case RedirectWithData:
		return r.Target, true
	}
	return types.InvalidOffsetNumber, false
}
