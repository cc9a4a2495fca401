package page

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"PruneDB/types"
)

const (
	PageSize = types.PageSize

	// Every page starts with the same three fields so the disk manager and
	// buffer pool can read them without knowing the page format.
	PageLSNOffset  = 0 // 8 bytes, LSN of the last WAL record applied
	PageTypeOffset = 8 // 1 byte

	// ChecksumOffset is the 4 byte xxhash32 stamped by the disk manager.
	ChecksumOffset = 33
	ChecksumSize   = 4
)

/*
Page is one buffer frame.

Two independent things are protected here:
  - the content lock (mu) guards Data. Readers take it shared, writers
    exclusive. Pruning needs a cleanup lock: exclusive content lock AND no
    other pin on the frame, so nobody holds a pointer into the tuple storage
    that is about to move.
  - the pin count and dirty flag are atomics so they can be read and
    changed without touching the content lock.

The page format itself lives in storage_engine/access/heapfile_manager.
*/
type Page struct {
	ID       int64
	FileID   uint32
	Data     []byte
	PageType types.PageType

	lsn      atomic.Uint64 // mirrors the on-page LSN
	pinCount atomic.Int32
	dirty    atomic.Bool
	mu       sync.RWMutex
}

func New(pageID int64, fileID uint32, pageType types.PageType) *Page {
	return &Page{
		ID:       pageID,
		FileID:   fileID,
		Data:     make([]byte, PageSize),
		PageType: pageType,
	}
}

// PageNo is the page number local to its file.
func (p *Page) PageNo() uint32 {
	return uint32(p.ID & 0xFFFFFFFF)
}

// SetLSN stamps the page LSN. Caller holds the exclusive content lock.
func (p *Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p.Data[PageLSNOffset:], lsn)
	p.lsn.Store(lsn)
}

// LSN can be read without the content lock.
func (p *Page) LSN() uint64 { return p.lsn.Load() }

// SyncLSN reloads the mirror from the page bytes after a bulk copy.
func (p *Page) SyncLSN() {
	p.lsn.Store(binary.LittleEndian.Uint64(p.Data[PageLSNOffset:]))
}

func (p *Page) Lock() { p.mu.Lock() }
func (p *Page) TryLock() bool { return p.mu.TryLock() }
func (p *Page) Unlock() { p.mu.Unlock() }
func (p *Page) RLock() { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

func (p *Page) Pin() int32 { return p.pinCount.Add(1) }
func (p *Page) Pins() int32 { return p.pinCount.Load() }
func (p *Page) Unpin() int32 {
	for {
		n := p.pinCount.Load()
		if n <= 0 {
			return 0
		}
		if p.pinCount.CompareAndSwap(n, n-1) {
			return n - 1
		}
	}
}

func (p *Page) SetDirty(dirty bool) { p.dirty.Store(dirty) }
func (p *Page) IsDirty() bool { return p.dirty.Load() }

// ConditionalLockForCleanup takes the exclusive content lock only if it is
// free right now and the caller's pin is the only one.
func (p *Page) ConditionalLockForCleanup() bool {
	if !p.mu.TryLock() {
		return false
	}
	if p.pinCount.Load() != 1 {
		p.mu.Unlock()
		return false
	}
	return true
}

// LockForCleanup blocks until the caller holds the exclusive content lock
// and is the sole pinner. The caller must hold exactly one pin.
func (p *Page) LockForCleanup() {
	backoff := 50 * time.Microsecond
	for {
		p.mu.Lock()
		if p.pinCount.Load() == 1 {
			return
		}
		p.mu.Unlock()
		time.Sleep(backoff)
		if backoff < 10*time.Millisecond {
			backoff *= 2
		}
	}
}
