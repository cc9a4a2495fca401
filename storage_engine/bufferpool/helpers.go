package bufferpool

import (
	"PruneDB/storage_engine/page"

	"github.com/pkg/errors"
)

/*
This file holds helper functions for the bufferpool
*/

// GetStats returns current buffer pool statistics
func (bp *BufferPool) GetStats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	stats := BufferPoolStats{
		TotalPages:  len(bp.pages),
		Capacity:    bp.capacity,
		Hits:        bp.stats.hits,
		Misses:      bp.stats.misses,
		VictimHits:  bp.stats.victimHits,
		Evictions:   bp.stats.evictions,
		HintDirties: bp.stats.hintDirties,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	for _, pg := range bp.pages {
		if pg.Pins() > 0 {
			stats.PinnedPages++
		}
		if pg.IsDirty() {
			stats.DirtyPages++
		}
	}
	return stats
}

// Reset flushes and drops every unpinned page (for tests and shutdown).
func (bp *BufferPool) Reset() error {
	if err := bp.FlushAllPages(); err != nil {
		return errors.Wrap(err, "failed to flush pages during reset")
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	for id, pg := range bp.pages {
		if pg.Pins() > 0 {
			return errors.Wrapf(ErrPagePinned, "reset with page %d pinned", id)
		}
		if pg.IsDirty() {
			return errors.Wrapf(ErrWALBehind, "reset with page %d still dirty", id)
		}
	}
	bp.pages = make(map[int64]*page.Page, bp.capacity)
	bp.accessOrder = make([]int64, 0, bp.capacity)
	bp.victims.Clear()
	return nil
}

// Size returns the current number of pages in the buffer pool
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pages)
}

// Capacity returns the maximum capacity of the buffer pool
func (bp *BufferPool) Capacity() int {
	return bp.capacity
}

// GetPage returns a page from the buffer pool without loading from disk
// Returns nil if page is not in buffer pool
func (bp *BufferPool) GetPage(pageID int64) *page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pages[pageID]
}

func (bp *BufferPool) noteHintDirty() {
	bp.mu.Lock()
	bp.stats.hintDirties++
	bp.mu.Unlock()
}
