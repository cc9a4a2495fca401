package heapfile

import (
	"encoding/binary"

	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
Redirect data record, stored in page storage and owned by a RedirectWithData
line pointer:

	[ header uint16 ][ bitmap ceil(natts/8) bytes ]

	header bits 0-3   kind    (RedirectKindPHOT = modified-column bitmap)
	header bits 4-15  length  total record length including the header

Bitmap bit i (least significant bit first within each byte) is attribute i+1.
*/
const (
	RedirectHeaderSize = 2

	RedirectKindPHOT uint8 = 0

	redirectKindMask = 0xF
	redirectLenShift = 4
	redirectLenMask  = 0xFFF
)

// RedirectDataLen is the record length for a relation with natts columns.
func RedirectDataLen(natts int) int {
	return RedirectHeaderSize + (natts+7)/8
}

// EncodeRedirectData builds a modified-column record. Attributes above
// natts are ignored.
func EncodeRedirectData(natts int, attrs *AttrSet) []byte {
	n := RedirectDataLen(natts)
	buf := make([]byte, n)
	binary.LittleEndian.PutUint16(buf, uint16(RedirectKindPHOT)&redirectKindMask|uint16(n&redirectLenMask)<<redirectLenShift)
	for _, a := range attrs.Members() {
		if a > natts {
			continue
		}
		bit := a - 1
		buf[RedirectHeaderSize+bit/8] |= 1 << (bit % 8)
	}
	return buf
}

// DecodeRedirectHeader splits a record header.
func DecodeRedirectHeader(buf []byte) (kind uint8, length int, err error) {
	if len(buf) < RedirectHeaderSize {
		return 0, 0, errors.Wrap(ErrBadRedirectData, "short header")
	}
	h := binary.LittleEndian.Uint16(buf)
	kind = uint8(h & redirectKindMask)
	length = int(h>>redirectLenShift) & redirectLenMask
	if length < RedirectHeaderSize || length > len(buf) {
		return 0, 0, errors.Wrapf(ErrBadRedirectData, "record length %d", length)
	}
	return kind, length, nil
}

// DecodeRedirectData returns the attribute set of a modified-column record.
func DecodeRedirectData(buf []byte) (*AttrSet, error) {
	kind, length, err := DecodeRedirectHeader(buf)
	if err != nil {
		return nil, err
	}
	if kind != RedirectKindPHOT {
		return nil, errors.Wrapf(ErrBadRedirectData, "unknown record kind %d", kind)
	}
	attrs := NewAttrSet()
	bits := buf[RedirectHeaderSize:length]
	for i := 0; i < len(bits)*8; i++ {
		if bits[i/8]&(1<<(i%8)) != 0 {
			attrs.Add(i + 1)
		}
	}
	return attrs, nil
}

// RedirectDataAt returns the record owned by a RedirectWithData line
// pointer. The slice aliases the page.
func RedirectDataAt(pg *page.Page, off types.OffsetNumber) ([]byte, error) {
	r, ok := GetItemID(pg, off).(RedirectWithData)
	if !ok {
		return nil, errors.Wrapf(ErrBadRedirectData, "slot %d carries no redirect data", off)
	}
	return redirectRecord(pg, r.DataOff)
}

func redirectRecord(pg *page.Page, dataOff uint16) ([]byte, error) {
	limit := int(GetSlotRegionStart(pg))
	if int(dataOff) < HeapHeaderSize || int(dataOff)+RedirectHeaderSize > limit {
		return nil, errors.Wrapf(ErrBadRedirectData, "record offset %d", dataOff)
	}
	_, length, err := DecodeRedirectHeader(pg.Data[dataOff:limit])
	if err != nil {
		return nil, errors.Wrapf(err, "record at %d", dataOff)
	}
	return pg.Data[dataOff : int(dataOff)+length], nil
}

// RedirectAttrsAt decodes the modified-column set of a RedirectWithData
// line pointer.
func RedirectAttrsAt(pg *page.Page, off types.OffsetNumber) (*AttrSet, error) {
	rec, err := RedirectDataAt(pg, off)
	if err != nil {
		return nil, err
	}
	return DecodeRedirectData(rec)
}

// storageOf returns where the storage owned by a line pointer sits, or
// ok=false when it owns none.
func storageOf(pg *page.Page, id ItemID) (off, length int, ok bool, err error) {
	switch v := id.(type) {
	case Normal:
		return int(v.Off), int(v.Len), v.Len != 0, nil
	case RedirectWithData:
		rec, err := redirectRecord(pg, v.DataOff)
		if err != nil {
			return 0, 0, false, err
		}
		return int(v.DataOff), len(rec), true, nil
	}
	return 0, 0, false, nil
}

// SetRedirectWithData turns line pointer off into a redirect to target and
// stores rec in the storage the line pointer already owns: the tuple of a
// Normal, or the previous record of a RedirectWithData. A line pointer with
// no storage, or too little, gets ErrNoSpace.
func SetRedirectWithData(pg *page.Page, off, target types.OffsetNumber, rec []byte) error {
	start, length, ok, err := storageOf(pg, GetItemID(pg, off))
	if err != nil {
		return errors.Wrapf(err, "slot %d", off)
	}
	if !ok || length < len(rec) {
		return errors.Wrapf(ErrNoSpace, "slot %d cannot hold a %d byte redirect record", off, len(rec))
	}
	copy(pg.Data[start:], rec)
	SetItemID(pg, off, RedirectWithData{Target: target, DataOff: uint16(start)})
	return nil
}

// AppendRedirectWithData is SetRedirectWithData for a line pointer that owns
// no storage: the record goes to the end of the storage area.
func AppendRedirectWithData(pg *page.Page, off, target types.OffsetNumber, rec []byte) error {
	end := int(GetRecordEndPtr(pg))
	if end+len(rec) > int(GetSlotRegionStart(pg)) {
		return errors.Wrapf(ErrNoSpace, "no room for a %d byte redirect record for slot %d", len(rec), off)
	}
	copy(pg.Data[end:], rec)
	setRecordEndPtr(pg, uint16(end+len(rec)))
	SetItemID(pg, off, RedirectWithData{Target: target, DataOff: uint16(end)})
	return nil
}

// OwnsStorage reports whether a line pointer currently owns page storage.
func OwnsStorage(pg *page.Page, off types.OffsetNumber) bool {
	_, _, ok, err := storageOf(pg, GetItemID(pg, off))
	return ok && err == nil
}
