package heapfile

import (
	"sync"

	"PruneDB/storage_engine/bufferpool"
	diskmanager "PruneDB/storage_engine/disk_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// ############################################# ERRORS ####################################################

var (
	ErrHeapFileNotFound  = errors.New("heap file not found")
	ErrHeapFileExists    = errors.New("heap file already exists")
	ErrSlotOutOfRange    = errors.New("line pointer out of range")
	ErrNotNormal         = errors.New("line pointer has no tuple")
	ErrSlotNotFree       = errors.New("line pointer is in use")
	ErrCorruptTuple      = errors.New("corrupt tuple")
	ErrCorruptPage       = errors.New("corrupt heap page")
	ErrBadRedirectData   = errors.New("bad redirect data record")
	ErrNoSpace           = errors.New("not enough free space on page")
	ErrRowTooLarge       = errors.New("row too large")
	ErrTooManyAttributes = errors.New("too many attributes")
	ErrColumnCount       = errors.New("row has the wrong number of columns")
	ErrRowNotFound       = errors.New("no visible row version")
	ErrTupleUpdated      = errors.New("tuple already updated or deleted")
	ErrConcurrentUpdate  = errors.New("tuple is being updated by another transaction")
)

// ############################################# COLLABORATORS #############################################

// ChangeLog is the part of the WAL the heap writes to.
type ChangeLog interface {
	AppendOperation(op *types.Operation) (uint64, error)
}

// XidStatusSource answers commit log lookups.
type XidStatusSource interface {
	Status(xid types.TransactionID) types.XidStatus
}

// VisibilityChecker decides whether one tuple version is visible to a reader.
type VisibilityChecker interface {
	TupleVisible(hdr *TupleHeader) bool
}

// PageChecker is optionally implemented by a VisibilityChecker that must
// vet every page it reads (snapshot too old).
type PageChecker interface {
	CheckPage(pageLSN uint64) error
}

// PageAccessHook runs on every heap page a reader or updater pins, before
// the content lock is taken. Opportunistic pruning hangs off this.
type PageAccessHook func(rel *types.RelationDef, buf *bufferpool.Buffer)

// ############################################# HEAP FILE #################################################

type UpdateKind int

const (
	// UpdateHOT: new version on the same page, no indexed column changed.
	UpdateHOT UpdateKind = iota
	// UpdatePHOT: new version on the same page, some indexed columns changed.
	UpdatePHOT
	// UpdateSamePage: new version on the same page, every indexed column changed.
	UpdateSamePage
	// UpdateCold: new version on another page.
	UpdateCold
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateHOT:
		return "HOT"
	case UpdatePHOT:
		return "PHOT"
	case UpdateSamePage:
		return "NON-HOT"
	case UpdateCold:
		return "COLD"
	}
	return "UNKNOWN"
}

// UpdateResult describes where an update put the new version.
type UpdateResult struct {
	Old      types.RowPointer
	New      types.RowPointer
	Kind     UpdateKind
	Modified *AttrSet // indexed columns whose value changed
}

// HeapFile is the heap of one relation.
type HeapFile struct {
	rel         *types.RelationDef
	fileID      uint32
	filePath    string
	diskManager *diskmanager.DiskManager
	bufferPool  *bufferpool.BufferPool
	wal         ChangeLog
	clog        XidStatusSource
	onAccess    PageAccessHook
	lastPage    int64      // page that last had room for an insert
	mu          sync.Mutex // writers only; readers rely on page locks
}

// HeapFileManager manages all heap files
type HeapFileManager struct {
	baseDir     string
	files       map[uint32]*HeapFile
	relIndex    map[string]uint32 // relation name → fileID
	bufferPool  *bufferpool.BufferPool
	diskManager *diskmanager.DiskManager
	wal         ChangeLog
	clog        XidStatusSource
	onAccess    PageAccessHook
	mu          sync.RWMutex
}
