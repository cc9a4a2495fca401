package bufferpool

import (
	"sync"

	diskmanager "PruneDB/storage_engine/disk_manager"
	"PruneDB/storage_engine/page"

	"github.com/pkg/errors"
)

// ############################################# ERRORS ##################################################

var (
	ErrAllPinned   = errors.New("all pages are pinned, cannot evict")
	ErrNotInPool   = errors.New("page not in buffer pool")
	ErrNoDisk      = errors.New("disk manager not set")
	ErrWALBehind   = errors.New("page LSN not yet covered by flushed WAL")
	ErrPagePinned  = errors.New("page is pinned")
	ErrBufferState = errors.New("buffer lock state violation")
)

// ############################################# BUFFER POOL #############################################

// BufferPool manages cached heap pages in memory with LRU eviction.
// Clean pages pushed out of the pool land in an optional victim cache so a
// quick re-read does not go to disk.
type BufferPool struct {
	pages       map[int64]*page.Page // pageID -> Page
	capacity    int
	diskManager *diskmanager.DiskManager
	walManager  WALFlushedLSNGetter
	victims     *VictimCache
	accessOrder []int64 // LRU tracking: most recently used at end
	stats       counters
	mu          sync.Mutex
}

type counters struct {
	hits, misses, victimHits, evictions, hintDirties uint64
}

// BufferPoolStats is a point-in-time view of the pool.
type BufferPoolStats struct {
	TotalPages  int
	PinnedPages int
	DirtyPages  int
	Capacity    int
	Hits        uint64
	Misses      uint64
	VictimHits  uint64
	Evictions   uint64
	HintDirties uint64
	HitRate     float64
}

// small interface so bufferpool doesn't import the whole wal package
type WALFlushedLSNGetter interface {
	GetFlushedLSN() uint64
}
