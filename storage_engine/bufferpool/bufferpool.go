package bufferpool

import (
	"PruneDB/logger"
	diskmanager "PruneDB/storage_engine/disk_manager"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
This file is the main file of the bufferpool
The buffer pool works on LRU based caching mechanism
and holds access to disk manager for flushing the pages in the cache onto the disk
similarly if page not found in the cache (or the victim cache), disk manager
loads the page from the disk and adds in the cache for future access

Pages are identified by globalPageID

Locking order: bp.mu is never acquired while holding a page content lock
for a flush. Flushing pins the pages it wants under bp.mu, releases bp.mu,
then takes the content locks.
*/

var log = logger.Component("bufferpool")

// NewBufferPool creates a new buffer pool with the given capacity
func NewBufferPool(capacity int, diskManager *diskmanager.DiskManager) *BufferPool {
	return &BufferPool{
		pages:       make(map[int64]*page.Page, capacity),
		capacity:    capacity,
		diskManager: diskManager,
		accessOrder: make([]int64, 0, capacity),
	}
}

func (bp *BufferPool) SetWALManager(wal WALFlushedLSNGetter) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.walManager = wal
}

func (bp *BufferPool) SetVictimCache(vc *VictimCache) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.victims = vc
}

// FetchPage retrieves a page from the buffer pool, loading from disk if necessary
// Returns the page with pin count incremented
func (bp *BufferPool) FetchPage(pageID int64) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, exists := bp.pages[pageID]; exists {
		bp.stats.hits++
		bp.updateAccessOrder(pageID)
		pg.Pin()
		log.Debugf("HIT pageID=%d pinCount=%d", pageID, pg.Pins())
		return pg, nil
	}

	bp.stats.misses++
	pg, err := bp.loadPage(pageID)
	if err != nil {
		return nil, err
	}

	if err := bp.addPage(pg); err != nil {
		return nil, errors.Wrap(err, "failed to add page to buffer pool")
	}
	pg.Pin()
	return pg, nil
}

// loadPage tries the victim cache before going to disk.
// Assumes lock is already held
func (bp *BufferPool) loadPage(pageID int64) (*page.Page, error) {
	if data, ok := bp.victims.Take(pageID); ok {
		bp.stats.victimHits++
		pg := page.New(pageID, uint32(pageID>>32), types.PageType(data[page.PageTypeOffset]))
		copy(pg.Data, data)
		pg.SyncLSN()
		log.Debugf("VICTIM HIT pageID=%d", pageID)
		return pg, nil
	}

	log.Debugf("MISS pageID=%d, loading from disk", pageID)
	if bp.diskManager == nil {
		return nil, ErrNoDisk
	}
	pg, err := bp.diskManager.ReadPage(pageID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read page %d from disk", pageID)
	}
	return pg, nil
}

// NewPage asks the DiskManager for the next page number of the file,
// constructs a blank page in RAM, marks it dirty so the pool will eventually
// flush it, and pins it for the caller.
func (bp *BufferPool) NewPage(fileID uint32, pageType types.PageType) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.diskManager == nil {
		return nil, ErrNoDisk
	}

	pageID, err := bp.diskManager.AllocatePage(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate page")
	}

	pg := page.New(pageID, fileID, pageType)
	pg.SetDirty(true)
	pg.Pin()

	if err := bp.addPage(pg); err != nil {
		pg.Unpin()
		return nil, errors.Wrap(err, "failed to add new page to buffer pool")
	}
	return pg, nil
}

// UnpinPage decrements the pin count for a page
func (bp *BufferPool) UnpinPage(pageID int64, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, exists := bp.pages[pageID]
	if !exists {
		return errors.Wrapf(ErrNotInPool, "page %d", pageID)
	}
	if isDirty {
		pg.SetDirty(true)
	}
	pg.Unpin()
	return nil
}

// FlushPage writes a specific page to disk if dirty
func (bp *BufferPool) FlushPage(pageID int64) error {
	bp.mu.Lock()
	pg, exists := bp.pages[pageID]
	if !exists {
		bp.mu.Unlock()
		return errors.Wrapf(ErrNotInPool, "page %d", pageID)
	}
	pg.Pin()
	wal := bp.walManager
	bp.mu.Unlock()
	defer pg.Unpin()

	return bp.flush(pg, wal, true)
}

// flush writes one pinned page under its shared content lock.
func (bp *BufferPool) flush(pg *page.Page, wal WALFlushedLSNGetter, strict bool) error {
	pg.RLock()
	defer pg.RUnlock()

	if !pg.IsDirty() {
		return nil
	}
	if wal != nil {
		pageLSN := pg.LSN()
		flushedLSN := wal.GetFlushedLSN()
		if pageLSN > flushedLSN {
			log.Debugf("FLUSH BLOCKED pageID=%d pageLSN=%d flushedLSN=%d", pg.ID, pageLSN, flushedLSN)
			if strict {
				return errors.Wrapf(ErrWALBehind, "page %d pageLSN=%d flushedLSN=%d", pg.ID, pageLSN, flushedLSN)
			}
			return nil
		}
	}
	if err := bp.diskManager.WritePage(pg); err != nil {
		return errors.Wrapf(err, "failed to flush page %d", pg.ID)
	}
	log.Debugf("FLUSH pageID=%d pageLSN=%d", pg.ID, pg.LSN())
	return nil
}

// FlushAllPages writes every dirty page whose changes are covered by the
// flushed WAL. Pages ahead of the WAL are skipped.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	if bp.diskManager == nil {
		bp.mu.Unlock()
		return ErrNoDisk
	}
	pinned := make([]*page.Page, 0, len(bp.pages))
	for _, pg := range bp.pages {
		if pg.IsDirty() {
			pg.Pin()
			pinned = append(pinned, pg)
		}
	}
	wal := bp.walManager
	bp.mu.Unlock()

	log.Debugf("FlushAllPages dirty=%d", len(pinned))

	var firstErr error
	for _, pg := range pinned {
		if err := bp.flush(pg, wal, false); err != nil && firstErr == nil {
			firstErr = err
		}
		pg.Unpin()
	}
	return firstErr
}

// addPage adds a page to the buffer pool, evicting if necessary
// Assumes lock is already held
func (bp *BufferPool) addPage(pg *page.Page) error {
	if _, exists := bp.pages[pg.ID]; exists {
		bp.updateAccessOrder(pg.ID)
		return nil
	}

	if len(bp.pages) >= bp.capacity {
		if err := bp.evictLRU(); err != nil {
			return errors.Wrap(err, "failed to evict page")
		}
	}

	bp.pages[pg.ID] = pg
	bp.updateAccessOrder(pg.ID)
	return nil
}

// evictLRU evicts the least recently used unpinned page
// Assumes lock is already held
func (bp *BufferPool) evictLRU() error {
	for i := 0; i < len(bp.accessOrder); i++ {
		pageID := bp.accessOrder[i]
		pg, exists := bp.pages[pageID]
		if !exists {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			i--
			continue
		}

		// unpinned pages are never content-locked, and nobody can pin
		// them while we hold bp.mu
		if pg.Pins() > 0 {
			continue
		}

		if pg.IsDirty() {
			if bp.diskManager == nil {
				continue
			}
			if bp.walManager != nil && pg.LSN() > bp.walManager.GetFlushedLSN() {
				// WAL not durable yet, try next LRU candidate
				continue
			}
			if err := bp.diskManager.WritePage(pg); err != nil {
				return errors.Wrapf(err, "failed to write page %d during eviction", pageID)
			}
		}

		log.Debugf("EVICT pageID=%d", pageID)
		bp.stats.evictions++
		bp.victims.Put(pageID, pg.Data)
		delete(bp.pages, pageID)
		bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
		return nil
	}

	return ErrAllPinned
}

// updateAccessOrder moves a page to the end of access order (most recently used)
// Assumes lock is already held
func (bp *BufferPool) updateAccessOrder(pageID int64) {
	for i, id := range bp.accessOrder {
		if id == pageID {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	bp.accessOrder = append(bp.accessOrder, pageID)
}

// DeletePage drops a page from the pool without writing it.
func (bp *BufferPool) DeletePage(pageID int64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.victims.Invalidate(pageID)
	pg, exists := bp.pages[pageID]
	if !exists {
		return nil
	}
	if pg.Pins() > 0 {
		return errors.Wrapf(ErrPagePinned, "cannot delete page %d", pageID)
	}

	delete(bp.pages, pageID)
	for i, id := range bp.accessOrder {
		if id == pageID {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	return nil
}
