package types

const (
	PageSize = 4096 // 4KB page

	// ItemIDSize is the size of one line pointer in the slot directory.
	ItemIDSize = 4
)

type PageType uint8

const (
	PageTypeUnknown PageType = iota
	PageTypeHeapData
	PageTypeMetadata
)

// OffsetNumber is a 1-based slot number on a heap page.
// Slot numbers stay stable for the lifetime of the page, compaction only
// moves the storage they point at.
type OffsetNumber uint16

const (
	InvalidOffsetNumber OffsetNumber = 0
	FirstOffsetNumber   OffsetNumber = 1
)

// MaxHeapTuplesPerPage bounds the slot directory. A slot without storage
// still costs ItemIDSize bytes, so this is the most slots a page can ever hold.
const MaxHeapTuplesPerPage = (PageSize - 37) / ItemIDSize

func (o OffsetNumber) IsValid() bool {
	return o != InvalidOffsetNumber && int(o) <= MaxHeapTuplesPerPage
}

func (o OffsetNumber) Next() OffsetNumber {
	return o + 1
}

// MaxHeapAttributes caps the number of columns of a relation. A redirect
// data record (2 byte header + one bit per column) must fit inside the
// storage of the smallest tuple it replaces.
const MaxHeapAttributes = 160
