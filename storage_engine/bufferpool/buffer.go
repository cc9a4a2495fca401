package bufferpool

import (
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

type lockMode int

const (
	unlocked lockMode = iota
	shared
	exclusive
)

// Buffer is one pin on a pooled page plus the content lock state of that
// pin. A Buffer is owned by a single goroutine; call Release when done.
type Buffer struct {
	pool     *BufferPool
	pg       *page.Page
	mode     lockMode
	released bool
}

// ReadBuffer pins an existing page.
func (bp *BufferPool) ReadBuffer(pageID int64) (*Buffer, error) {
	pg, err := bp.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return &Buffer{pool: bp, pg: pg}, nil
}

// ExtendBuffer allocates a new page at the end of the file and pins it.
func (bp *BufferPool) ExtendBuffer(fileID uint32, pageType types.PageType) (*Buffer, error) {
	pg, err := bp.NewPage(fileID, pageType)
	if err != nil {
		return nil, err
	}
	return &Buffer{pool: bp, pg: pg}, nil
}

func (b *Buffer) Page() *page.Page { return b.pg }
func (b *Buffer) PageID() int64 { return b.pg.ID }

func (b *Buffer) LockShared() {
	b.pg.RLock()
	b.mode = shared
}

func (b *Buffer) LockExclusive() {
	b.pg.Lock()
	b.mode = exclusive
}

// LockForCleanup blocks until this is the only pin and the exclusive content
// lock is held.
func (b *Buffer) LockForCleanup() {
	b.pg.LockForCleanup()
	b.mode = exclusive
}

// ConditionalLockForCleanup never blocks. False means the page is busy.
func (b *Buffer) ConditionalLockForCleanup() bool {
	if !b.pg.ConditionalLockForCleanup() {
		return false
	}
	b.mode = exclusive
	return true
}

func (b *Buffer) Unlock() {
	switch b.mode {
	case shared:
		b.pg.RUnlock()
	case exclusive:
		b.pg.Unlock()
	default:
		panic(errors.Wrapf(ErrBufferState, "unlock of unlocked buffer page %d", b.pg.ID))
	}
	b.mode = unlocked
}

// MarkDirty records a WAL-logged change. Caller holds the exclusive lock.
func (b *Buffer) MarkDirty() {
	b.pg.SetDirty(true)
}

// MarkDirtyHint records a change that is not WAL-logged (hint bits, prune
// hints). Losing it in a crash is harmless.
func (b *Buffer) MarkDirtyHint() {
	if !b.pg.IsDirty() {
		b.pg.SetDirty(true)
		b.pool.noteHintDirty()
	}
}

// Release drops the content lock if still held and the pin.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	if b.mode != unlocked {
		b.Unlock()
	}
	b.pg.Unpin()
	b.released = true
}
