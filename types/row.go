package types

import "fmt"

// RowPointer points to a specific row version in a heap file.
// Indexes store RowPointers, which is why slot numbers must never be
// recycled while an index entry may still reference them.
type RowPointer struct {
	FileID     uint32       `json:"file_id"`
	PageNumber uint32       `json:"page_number"`
	SlotIndex  OffsetNumber `json:"slot_index"`
}

func (rp RowPointer) String() string {
	return fmt.Sprintf("(%d,%d,%d)", rp.FileID, rp.PageNumber, rp.SlotIndex)
}

// Row is the attribute list of one row version. A nil entry is SQL NULL.
type Row struct {
	Values [][]byte
}

func (r *Row) Clone() Row {
	values := make([][]byte, len(r.Values))
	for i, v := range r.Values {
		if v == nil {
			continue
		}
		values[i] = append([]byte{}, v...)
	}
	return Row{Values: values}
}
