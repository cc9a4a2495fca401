package pruneheap

import (
	"testing"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/page"
	walmanager "PruneDB/storage_engine/wal_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pruning live and replaying the logged record on the page image from
// before the prune must give the same bytes.
func TestReplayEquivalence(t *testing.T) {
	for _, compress := range []bool{false, true} {
		for name, build := range chainBuilders() {
			t.Run(name, func(t *testing.T) {
				h, c, rel := build(t)
				replica := h.clone()

				wal, err := walmanager.OpenWAL(t.TempDir(), walmanager.Options{Compress: compress})
				require.NoError(t, err)
				defer wal.Close()

				p := NewPruner(horizon{oldest: 10}, c, wal)
				buf := newTestBuf(h.pg)
				buf.LockForCleanup()
				res, err := p.PrunePage(rel, buf, 0, zeroTime, false)
				buf.Unlock()
				require.NoError(t, err)
				require.True(t, res.Changed)
				require.NoError(t, wal.Sync())

				var replayed int
				err = wal.ReplayFromLSN(1, func(op *types.Operation) error {
					require.Equal(t, types.OpPrune, op.Type)
					replayed++
					if err := ApplyRecord(replica, op.Prune); err != nil {
						return err
					}
					replica.SetLSN(op.LSN)
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, 1, replayed)
				assert.Equal(t, h.bytes(), replica.Data)
			})
		}
	}
}

func TestReplayStoragelessRedirectWithData(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b", "c")
	m3 := h.add(3, heapfile.HeapOnly, "a", "b", "c")
	h.update(root, m3, 3, heapfile.HotUpdated)

	f := newPruneFixture(committed(2, 3, 4, 5), horizon{oldest: 10})
	f.prune(t, h, accounts(3))

	m4 := h.add(4, heapfile.PartialHeapOnly, "a", "B", "c")
	h.update(m3, m4, 4, heapfile.PartialHotUpdated)
	m5 := h.add(5, heapfile.PartialHeapOnly, "a", "B", "C")
	h.update(m4, m5, 5, heapfile.PartialHotUpdated)
	before := h.clone()

	f.prune(t, h, accounts(3))
	require.Len(t, f.wal.recs, 2)

	require.NoError(t, ApplyRecord(before, f.wal.recs[1]))
	before.SetLSN(h.pg.LSN())
	assert.Equal(t, h.bytes(), before.Data)
}

func TestExecuteOrder(t *testing.T) {
	h := newHeapPage(t)
	a := h.add(2, 0, "a", "b")
	b := h.add(3, heapfile.PartialHeapOnly, "a", "B")
	c := h.add(4, heapfile.HeapOnly, "a", "B")
	d := h.add(5, 0, "x", "y")

	rec := &types.PruneRecord{
		Redirected:     []types.RedirectPair{{From: b, To: c}},
		RedirectedData: []types.RedirectWithData{{From: a, To: b, Data: heapfile.EncodeRedirectData(2, heapfile.NewAttrSet(2))}},
		NowDead:        []types.OffsetNumber{d},
	}
	require.NoError(t, Execute(h.pg, rec))

	assert.Equal(t, heapfile.Redirect{Target: c}, h.item(b))
	assert.Equal(t, b, h.item(a).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{2}, h.attrsAt(a).Members())
	assert.Equal(t, heapfile.Dead{}, h.item(d))
	assert.Equal(t, row("a", "B"), h.rowAt(c))

	// record first, then the surviving tuple, nothing else
	want := heapfile.HeapHeaderSize + heapfile.RedirectDataLen(2) + int(h.item(c).(heapfile.Normal).Len)
	assert.Equal(t, want, int(heapfile.GetRecordEndPtr(h.pg)))
}

func TestExecuteRejectsBadRecord(t *testing.T) {
	h := newHeapPage(t)
	h.add(2, 0, "a")

	err := Execute(h.pg, &types.PruneRecord{NowDead: []types.OffsetNumber{7}})
	assert.True(t, errors.Is(err, ErrBadPruneRecord))

	err = Execute(h.pg, &types.PruneRecord{RedirectedData: []types.RedirectWithData{{From: 1, To: 1, Data: []byte{0xff}}}})
	assert.True(t, errors.Is(err, ErrCorruptRedirectData))
}

func TestApplyRecordSetsHeader(t *testing.T) {
	pg := page.New(0, testFileID, types.PageTypeHeapData)
	heapfile.InitHeapPage(pg, 0)
	heapfile.SetPageFull(pg)

	require.NoError(t, ApplyRecord(pg, &types.PruneRecord{NewPruneXID: 77}))
	assert.Equal(t, types.TransactionID(77), heapfile.GetPruneXID(pg))
	assert.False(t, heapfile.IsPageFull(pg))
}
