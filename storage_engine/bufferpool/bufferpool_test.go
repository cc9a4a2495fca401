package bufferpool

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	diskmanager "PruneDB/storage_engine/disk_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFileID = 5

type fakeWAL struct{ flushed atomic.Uint64 }

func (f *fakeWAL) GetFlushedLSN() uint64 { return f.flushed.Load() }

func newTestPool(t *testing.T, capacity int) (*BufferPool, *diskmanager.DiskManager) {
	t.Helper()
	dm := diskmanager.NewDiskManager()
	_, err := dm.OpenFileWithID(filepath.Join(t.TempDir(), "rel.heap"), testFileID)
	require.NoError(t, err)
	t.Cleanup(func() { dm.CloseAll() })
	return NewBufferPool(capacity, dm), dm
}

func TestFetchHitAndEviction(t *testing.T) {
	bp, _ := newTestPool(t, 2)

	var ids []int64
	for i := 0; i < 3; i++ {
		buf, err := bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
		require.NoError(t, err)
		buf.LockExclusive()
		buf.Page().Data[100] = byte(i + 1)
		buf.MarkDirty()
		buf.Release()
		ids = append(ids, buf.PageID())
	}
	assert.Equal(t, 2, bp.Size())

	// first page was evicted and written out
	buf, err := bp.ReadBuffer(ids[0])
	require.NoError(t, err)
	buf.LockShared()
	assert.Equal(t, byte(1), buf.Page().Data[100])
	buf.Release()

	stats := bp.GetStats()
	assert.Equal(t, uint64(2), stats.Evictions)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestAllPinnedCannotEvict(t *testing.T) {
	bp, _ := newTestPool(t, 1)

	buf, err := bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
	require.NoError(t, err)
	defer buf.Release()

	_, err = bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
	assert.True(t, errors.Is(err, ErrAllPinned))
}

func TestFlushRespectsWAL(t *testing.T) {
	bp, _ := newTestPool(t, 4)
	wal := &fakeWAL{}
	bp.SetWALManager(wal)

	buf, err := bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
	require.NoError(t, err)
	buf.LockExclusive()
	buf.Page().SetLSN(10)
	buf.MarkDirty()
	buf.Unlock()

	err = bp.FlushPage(buf.PageID())
	assert.True(t, errors.Is(err, ErrWALBehind))

	wal.flushed.Store(10)
	require.NoError(t, bp.FlushPage(buf.PageID()))
	assert.False(t, buf.Page().IsDirty())
	buf.Release()
}

func TestConditionalCleanupLock(t *testing.T) {
	bp, _ := newTestPool(t, 4)

	buf, err := bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
	require.NoError(t, err)
	defer buf.Release()

	// second pin blocks the cleanup lock
	other, err := bp.ReadBuffer(buf.PageID())
	require.NoError(t, err)
	assert.False(t, buf.ConditionalLockForCleanup())
	other.Release()

	// a shared lock held through our own pin blocks it too
	buf.LockShared()
	assert.False(t, buf.Page().ConditionalLockForCleanup())
	buf.Unlock()

	require.True(t, buf.ConditionalLockForCleanup())
	buf.Unlock()
}

func TestLockForCleanupWaitsForPins(t *testing.T) {
	bp, _ := newTestPool(t, 4)

	buf, err := bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
	require.NoError(t, err)
	defer buf.Release()

	other, err := bp.ReadBuffer(buf.PageID())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf.LockForCleanup()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("cleanup lock acquired while another pin exists")
	case <-time.After(20 * time.Millisecond):
	}

	other.Release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup lock not acquired after pin release")
	}
	buf.Unlock()
}

func TestMarkDirtyHintCountsOnce(t *testing.T) {
	bp, dm := newTestPool(t, 4)

	buf, err := bp.ExtendBuffer(testFileID, types.PageTypeHeapData)
	require.NoError(t, err)
	require.NoError(t, dm.WritePage(buf.Page()))

	buf.LockExclusive()
	buf.MarkDirtyHint()
	buf.MarkDirtyHint()
	buf.Release()

	assert.Equal(t, uint64(1), bp.GetStats().HintDirties)
}
