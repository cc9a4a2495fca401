package bufferpool

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"PruneDB/storage_engine/page"
)

/*
VictimCache holds copies of clean pages evicted from the pool.

Only pages whose on-disk image equals the cached bytes are admitted (they were
clean or have just been written), so serving a read from here is equivalent
to reading the file. Any write path that can change a page behind the pool
must Invalidate it.
*/
type VictimCache struct {
	cache *ristretto.Cache[int64, []byte]
}

func NewVictimCache(maxBytes int64) (*VictimCache, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[int64, []byte]{
		NumCounters: 10 * (maxBytes / page.PageSize),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create victim cache")
	}
	return &VictimCache{cache: c}, nil
}

// Put stores a copy of data. Admission is asynchronous and may be refused.
func (vc *VictimCache) Put(pageID int64, data []byte) {
	if vc == nil {
		return
	}
	vc.cache.Set(pageID, append([]byte(nil), data...), int64(len(data)))
}

// Take returns the cached image and drops it, since the page is about to
// live in the pool again.
func (vc *VictimCache) Take(pageID int64) ([]byte, bool) {
	if vc == nil {
		return nil, false
	}
	data, ok := vc.cache.Get(pageID)
	if !ok {
		return nil, false
	}
	vc.cache.Del(pageID)
	return data, true
}

func (vc *VictimCache) Invalidate(pageID int64) {
	if vc == nil {
		return
	}
	vc.cache.Del(pageID)
}

// Wait blocks until pending Puts are applied.
func (vc *VictimCache) Wait() {
	if vc == nil {
		return
	}
	vc.cache.Wait()
}

func (vc *VictimCache) Clear() {
	if vc == nil {
		return
	}
	vc.cache.Clear()
}

func (vc *VictimCache) Close() {
	if vc == nil {
		return
	}
	vc.cache.Close()
}
