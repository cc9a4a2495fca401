package heapfile

import (
	"bytes"
	"encoding/binary"

	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
Tuple layout (little-endian):

	Offset  Size  Field
	──────────────────────────────────────────
	0       8     xmin      inserting xid
	8       8     xmax      deleting / replacing xid, 0 = none
	16      4     ctidPage  page of the successor version (self when none)
	20      2     ctidSlot  line pointer of the successor version
	22      2     infomask
	24      2     natts
	──────────────────────────────────────────
	26            attributes: per attribute  len uint16 (0xFFFF = NULL) | bytes
*/
const (
	tupOffXmin     = 0
	tupOffXmax     = 8
	tupOffCtidPage = 16
	tupOffCtidSlot = 20
	tupOffInfomask = 22
	tupOffNatts    = 24

	TupleHeaderSize = 26

	nullAttrLen = 0xFFFF
)

// Infomask bits.
const (
	// HeapOnly: no index entry points at this version.
	HeapOnly uint16 = 0x1
	// PartialHeapOnly: index entries exist only for the columns that changed
	// when this version was created.
	PartialHeapOnly uint16 = 0x2
	// HotUpdated: the successor on this page kept every indexed column.
	HotUpdated uint16 = 0x4
	// PartialHotUpdated: the successor on this page changed some indexed columns.
	PartialHotUpdated uint16 = 0x8

	updateFlags = HotUpdated | PartialHotUpdated
)

type TupleHeader struct {
	Xmin     types.TransactionID
	Xmax     types.TransactionID
	CtidPage uint32
	CtidSlot types.OffsetNumber
	Infomask uint16
	Natts    uint16
}

func (h *TupleHeader) IsHeapOnly() bool { return h.Infomask&HeapOnly != 0 }
func (h *TupleHeader) IsPartialHeapOnly() bool { return h.Infomask&PartialHeapOnly != 0 }
func (h *TupleHeader) IsHotUpdated() bool { return h.Infomask&HotUpdated != 0 }
func (h *TupleHeader) IsPartialHotUpdated() bool { return h.Infomask&PartialHotUpdated != 0 }

// Ctid is the successor pointer, or the tuple itself when it has none.
func (h *TupleHeader) Ctid(fileID uint32) types.RowPointer {
	return types.RowPointer{FileID: fileID, PageNumber: h.CtidPage, SlotIndex: h.CtidSlot}
}

func ReadTupleHeader(buf []byte) (TupleHeader, error) {
	if len(buf) < TupleHeaderSize {
		return TupleHeader{}, errors.Wrapf(ErrCorruptTuple, "tuple of %d bytes has no header", len(buf))
	}
	return TupleHeader{
		Xmin:     types.TransactionID(binary.LittleEndian.Uint64(buf[tupOffXmin:])),
		Xmax:     types.TransactionID(binary.LittleEndian.Uint64(buf[tupOffXmax:])),
		CtidPage: binary.LittleEndian.Uint32(buf[tupOffCtidPage:]),
		CtidSlot: types.OffsetNumber(binary.LittleEndian.Uint16(buf[tupOffCtidSlot:])),
		Infomask: binary.LittleEndian.Uint16(buf[tupOffInfomask:]),
		Natts:    binary.LittleEndian.Uint16(buf[tupOffNatts:]),
	}, nil
}

func (h *TupleHeader) writeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[tupOffXmin:], uint64(h.Xmin))
	binary.LittleEndian.PutUint64(buf[tupOffXmax:], uint64(h.Xmax))
	binary.LittleEndian.PutUint32(buf[tupOffCtidPage:], h.CtidPage)
	binary.LittleEndian.PutUint16(buf[tupOffCtidSlot:], uint16(h.CtidSlot))
	binary.LittleEndian.PutUint16(buf[tupOffInfomask:], h.Infomask)
	binary.LittleEndian.PutUint16(buf[tupOffNatts:], h.Natts)
}

// EncodeTuple builds the on-page image of one row version. Natts is taken
// from the row.
func EncodeTuple(hdr TupleHeader, row types.Row) ([]byte, error) {
	if len(row.Values) > types.MaxHeapAttributes {
		return nil, errors.Wrapf(ErrTooManyAttributes, "%d attributes", len(row.Values))
	}
	size := TupleHeaderSize
	for _, v := range row.Values {
		if len(v) >= nullAttrLen {
			return nil, errors.Wrapf(ErrRowTooLarge, "attribute of %d bytes", len(v))
		}
		size += 2 + len(v)
	}
	if size > MaxTupleSize {
		return nil, errors.Wrapf(ErrRowTooLarge, "tuple of %d bytes (max %d)", size, MaxTupleSize)
	}

	buf := make([]byte, size)
	hdr.Natts = uint16(len(row.Values))
	hdr.writeTo(buf)

	pos := TupleHeaderSize
	for _, v := range row.Values {
		if v == nil {
			binary.LittleEndian.PutUint16(buf[pos:], nullAttrLen)
			pos += 2
			continue
		}
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(v)))
		pos += 2
		pos += copy(buf[pos:], v)
	}
	return buf, nil
}

// DecodeTuple copies the header and attributes out of a tuple image.
func DecodeTuple(buf []byte) (TupleHeader, types.Row, error) {
	hdr, err := ReadTupleHeader(buf)
	if err != nil {
		return hdr, types.Row{}, err
	}
	values := make([][]byte, hdr.Natts)
	pos := TupleHeaderSize
	for i := range values {
		v, next, err := nextAttr(buf, pos)
		if err != nil {
			return hdr, types.Row{}, errors.Wrapf(err, "attribute %d", i+1)
		}
		if v != nil {
			values[i] = append([]byte{}, v...)
		}
		pos = next
	}
	return hdr, types.Row{Values: values}, nil
}

func nextAttr(buf []byte, pos int) ([]byte, int, error) {
	if pos+2 > len(buf) {
		return nil, 0, ErrCorruptTuple
	}
	n := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	if n == nullAttrLen {
		return nil, pos, nil
	}
	if pos+n > len(buf) {
		return nil, 0, ErrCorruptTuple
	}
	return buf[pos : pos+n], pos + n, nil
}

// attrSlices returns every attribute of a tuple image without copying.
// A NULL attribute is nil; a missing trailing attribute reads as NULL.
func attrSlices(buf []byte, natts int) ([][]byte, []bool, error) {
	hdr, err := ReadTupleHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	values := make([][]byte, natts)
	nulls := make([]bool, natts)
	pos := TupleHeaderSize
	for i := 0; i < natts; i++ {
		if i >= int(hdr.Natts) {
			nulls[i] = true
			continue
		}
		v, next, err := nextAttr(buf, pos)
		if err != nil {
			return nil, nil, err
		}
		values[i], nulls[i] = v, v == nil
		pos = next
	}
	return values, nulls, nil
}

// ModifiedAttrs returns the attribute numbers in candidates whose value
// differs between two tuple images. NULL equals only NULL.
func ModifiedAttrs(oldTup, newTup []byte, candidates *AttrSet) (*AttrSet, error) {
	modified := NewAttrSet()
	if candidates.IsEmpty() {
		return modified, nil
	}
	natts := candidates.Max()
	oldVals, oldNulls, err := attrSlices(oldTup, natts)
	if err != nil {
		return nil, errors.Wrap(err, "old tuple")
	}
	newVals, newNulls, err := attrSlices(newTup, natts)
	if err != nil {
		return nil, errors.Wrap(err, "new tuple")
	}
	for _, attnum := range candidates.Members() {
		i := attnum - 1
		if oldNulls[i] != newNulls[i] || !bytes.Equal(oldVals[i], newVals[i]) {
			modified.Add(attnum)
		}
	}
	return modified, nil
}

// ModifiedRowAttrs is ModifiedAttrs for decoded rows, used when building
// an update before the new tuple exists on a page.
func ModifiedRowAttrs(oldRow, newRow types.Row, candidates []int) *AttrSet {
	modified := NewAttrSet()
	for _, attnum := range candidates {
		i := attnum - 1
		var a, b []byte
		if i < len(oldRow.Values) {
			a = oldRow.Values[i]
		}
		if i < len(newRow.Values) {
			b = newRow.Values[i]
		}
		if (a == nil) != (b == nil) || !bytes.Equal(a, b) {
			modified.Add(attnum)
		}
	}
	return modified
}

// ─────────────────────────────────────────────────────────────────────────────
// Tuples on a page
// ─────────────────────────────────────────────────────────────────────────────

// TupleAt returns the storage of a Normal line pointer. The slice aliases
// the page; it is only valid while the caller holds the content lock.
func TupleAt(pg *page.Page, off types.OffsetNumber) ([]byte, error) {
	if off < types.FirstOffsetNumber || off > MaxOffsetNumber(pg) {
		return nil, errors.Wrapf(ErrSlotOutOfRange, "slot %d (max %d)", off, MaxOffsetNumber(pg))
	}
	n, ok := GetItemID(pg, off).(Normal)
	if !ok {
		return nil, errors.Wrapf(ErrNotNormal, "slot %d", off)
	}
	end := int(n.Off) + int(n.Len)
	if int(n.Off) < HeapHeaderSize || end > int(GetSlotRegionStart(pg)) || n.Len < TupleHeaderSize {
		return nil, errors.Wrapf(ErrCorruptPage, "slot %d storage [%d,%d)", off, n.Off, end)
	}
	return pg.Data[n.Off:end], nil
}

// TupleHeaderAt reads the header of a Normal line pointer.
func TupleHeaderAt(pg *page.Page, off types.OffsetNumber) (TupleHeader, error) {
	tup, err := TupleAt(pg, off)
	if err != nil {
		return TupleHeader{}, err
	}
	return ReadTupleHeader(tup)
}

// setTupleXmax marks a tuple deleted (or replaced) by xid and points its
// ctid at the successor, setting any update flags.
func setTupleXmax(tup []byte, xmax types.TransactionID, ctidPage uint32, ctidSlot types.OffsetNumber, flags uint16) {
	binary.LittleEndian.PutUint64(tup[tupOffXmax:], uint64(xmax))
	binary.LittleEndian.PutUint32(tup[tupOffCtidPage:], ctidPage)
	binary.LittleEndian.PutUint16(tup[tupOffCtidSlot:], uint16(ctidSlot))
	mask := binary.LittleEndian.Uint16(tup[tupOffInfomask:])
	mask = mask&^updateFlags | flags&updateFlags
	binary.LittleEndian.PutUint16(tup[tupOffInfomask:], mask)
}

// setTupleCtid points a freshly placed tuple at itself.
func setTupleCtid(tup []byte, ctidPage uint32, ctidSlot types.OffsetNumber) {
	binary.LittleEndian.PutUint32(tup[tupOffCtidPage:], ctidPage)
	binary.LittleEndian.PutUint16(tup[tupOffCtidSlot:], uint16(ctidSlot))
}
