package pruneheap

import (
	"testing"
	"time"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneDeadHeapOnlyTuple(t *testing.T) {
	h := newHeapPage(t)
	off := h.add(2, heapfile.HeapOnly, "k", "v")
	h.delete(off, 3)

	f := newPruneFixture(committed(2, 3), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, res.NowDead)
	assert.True(t, res.Changed)
	assert.Equal(t, types.TransactionID(3), res.LatestRemovedXID)
	assert.Equal(t, heapfile.Unused{}, h.item(off))
	assert.Equal(t, heapfile.HeapHeaderSize, int(heapfile.GetRecordEndPtr(h.pg)), "storage reclaimed")

	require.Len(t, f.wal.recs, 1)
	assert.Equal(t, []types.OffsetNumber{off}, f.wal.recs[0].NowUnused)
	assert.Equal(t, uint64(101), h.pg.LSN())
	assert.False(t, heapfile.GetPruneXID(h.pg).IsValid())
	assert.Equal(t, 1, f.sink.reclaimed[10])
	assert.Equal(t, 1, f.sink.pruned)
}

func TestPruneWholeHotChainDead(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	m2 := h.add(3, heapfile.HeapOnly, "k", "v2")
	m3 := h.add(4, heapfile.HeapOnly, "k", "v3")
	h.update(root, m2, 3, heapfile.HotUpdated)
	h.update(m2, m3, 4, heapfile.HotUpdated)
	h.delete(m3, 5)

	f := newPruneFixture(committed(2, 3, 4, 5), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 1, res.NowDead)
	assert.Equal(t, types.TransactionID(5), res.LatestRemovedXID)
	assert.Equal(t, heapfile.Dead{}, h.item(root), "indexes point at the root")
	assert.Equal(t, heapfile.Unused{}, h.item(m2))
	assert.Equal(t, heapfile.Unused{}, h.item(m3))
	assert.Equal(t, 2, f.sink.reclaimed[10], "dead line pointer is not reclaimed space")
}

func TestPruneHotChainKeepsLiveTail(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	m2 := h.add(3, heapfile.HeapOnly, "k", "v2")
	m3 := h.add(4, heapfile.HeapOnly, "k", "v3")
	h.update(root, m2, 3, heapfile.HotUpdated)
	h.update(m2, m3, 4, heapfile.HotUpdated)
	freeBefore := heapfile.FreeSpace(h.pg)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, heapfile.Redirect{Target: m3}, h.item(root))
	assert.Equal(t, heapfile.Unused{}, h.item(m2))
	assert.Equal(t, row("k", "v3"), h.rowAt(m3))
	assert.Greater(t, heapfile.FreeSpace(h.pg), freeBefore)
	assert.False(t, heapfile.GetPruneXID(h.pg).IsValid())
}

func TestPrunePartialChainWithUnchangedColumns(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "a")
	m1 := h.add(3, heapfile.PartialHeapOnly, "k", "a")
	m2 := h.add(4, heapfile.HeapOnly, "k", "a")
	h.update(root, m1, 3, heapfile.PartialHotUpdated)
	h.update(m1, m2, 4, heapfile.HotUpdated)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, heapfile.Unused{}, h.item(m1), "no column changed, nothing for an index to find")
	assert.Equal(t, heapfile.Redirect{Target: m2}, h.item(root))
	assert.Empty(t, f.wal.recs[0].RedirectedData)
}

func TestPrunePartialChainKeepsKeys(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b", "c")
	m2 := h.add(3, heapfile.PartialHeapOnly, "a", "B", "c")
	m3 := h.add(4, heapfile.PartialHeapOnly, "a", "B", "C")
	h.update(root, m2, 3, heapfile.PartialHotUpdated)
	h.update(m2, m3, 4, heapfile.PartialHotUpdated)
	oldest := h.rowAt(root)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	res := f.prune(t, h, accounts(3))

	assert.Equal(t, 2, res.Deleted)
	assert.True(t, res.Changed)

	m2ID, ok := h.item(m2).(heapfile.RedirectWithData)
	require.True(t, ok, "member 2 is a key: %s", h.item(m2))
	assert.Equal(t, m3, m2ID.Target)
	assert.Equal(t, []int{3}, h.attrsAt(m2).Members())

	rootID, ok := h.item(root).(heapfile.RedirectWithData)
	require.True(t, ok, "root: %s", h.item(root))
	assert.Equal(t, m2, rootID.Target)
	assert.Equal(t, []int{2}, h.attrsAt(root).Members())

	// the keys together carry exactly the columns that differ between the
	// oldest version and the one that survives
	changed := heapfile.ModifiedRowAttrs(oldest, h.rowAt(m3), []int{1, 2, 3})
	assert.True(t, changed.Equal(h.attrsAt(root).Union(h.attrsAt(m2))))
}

func TestPrunePartialChainSingleKey(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b", "c")
	m2 := h.add(3, heapfile.PartialHeapOnly, "a", "B", "c")
	m3 := h.add(4, heapfile.PartialHeapOnly, "a", "B", "c")
	h.update(root, m2, 3, heapfile.PartialHotUpdated)
	h.update(m2, m3, 4, heapfile.PartialHotUpdated)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	f.prune(t, h, accounts(3))

	m2ID, ok := h.item(m2).(heapfile.RedirectWithData)
	require.True(t, ok, "member 2: %s", h.item(m2))
	assert.Equal(t, m3, m2ID.Target)
	assert.True(t, h.attrsAt(m2).IsEmpty(), "nothing changed after member 2")
	assert.Equal(t, m2, h.item(root).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{2}, h.attrsAt(root).Members())
}

func TestPruneSubsetMembersBecomeDead(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b1", "c")
	m2 := h.add(3, heapfile.PartialHeapOnly, "a", "b2", "c")
	m3 := h.add(4, heapfile.PartialHeapOnly, "a", "b3", "c")
	m4 := h.add(5, heapfile.PartialHeapOnly, "a", "b4", "c")
	h.update(root, m2, 3, heapfile.PartialHotUpdated)
	h.update(m2, m3, 4, heapfile.PartialHotUpdated)
	h.update(m3, m4, 5, heapfile.PartialHotUpdated)

	f := newPruneFixture(committed(2, 3, 4, 5), horizon{oldest: 10})
	res := f.prune(t, h, accounts(3))

	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 2, res.NowDead)
	assert.Equal(t, heapfile.Dead{}, h.item(m2))
	assert.Equal(t, heapfile.Dead{}, h.item(m3))
	assert.Equal(t, m4, h.item(root).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{2}, h.attrsAt(root).Members())
}

func TestPruneColumnSpaceExhausted(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b")
	m2 := h.add(3, heapfile.PartialHeapOnly, "A", "b")
	m3 := h.add(4, heapfile.PartialHeapOnly, "A", "B")
	m4 := h.add(5, heapfile.PartialHeapOnly, "A2", "B")
	h.update(root, m2, 3, heapfile.PartialHotUpdated)
	h.update(m2, m3, 4, heapfile.PartialHotUpdated)
	h.update(m3, m4, 5, heapfile.PartialHotUpdated)

	f := newPruneFixture(committed(2, 3, 4, 5), horizon{oldest: 10})
	f.prune(t, h, accounts(2))

	m3ID, ok := h.item(m3).(heapfile.RedirectWithData)
	require.True(t, ok)
	assert.Equal(t, m4, m3ID.Target)
	assert.Equal(t, []int{1}, h.attrsAt(m3).Members())
	// every column changed between the root and m3, so nothing older
	// can still be matched
	assert.Equal(t, heapfile.Dead{}, h.item(m2))
	assert.Equal(t, heapfile.Dead{}, h.item(root))
	assert.Equal(t, row("A2", "B"), h.rowAt(m4))
}

func TestPruneWholePartialChainDead(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b")
	m2 := h.add(3, heapfile.PartialHeapOnly, "a", "B")
	h.update(root, m2, 3, heapfile.PartialHotUpdated)
	h.delete(m2, 4)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, heapfile.Dead{}, h.item(root))
	assert.Equal(t, heapfile.Dead{}, h.item(m2), "an index entry may point at a partial member")
}

func TestPruneAbortedInsert(t *testing.T) {
	h := newHeapPage(t)
	off := h.add(7, 0, "k", "v")
	c := committed()
	c[7] = types.XidAborted

	f := newPruneFixture(c, horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, heapfile.Dead{}, h.item(off))
	assert.False(t, res.LatestRemovedXID.IsValid(), "never visible to anyone")
}

func TestPruneLeavesRecentlyDead(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	m2 := h.add(50, heapfile.HeapOnly, "k", "v2")
	h.update(root, m2, 50, heapfile.HotUpdated)
	heapfile.SetPageFull(h.pg)
	before := h.bytes()

	f := newPruneFixture(committed(2, 50), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.False(t, res.Changed)
	assert.Zero(t, res.Deleted)
	assert.Empty(t, f.wal.recs)
	assert.Equal(t, types.TransactionID(50), heapfile.GetPruneXID(h.pg))
	assert.False(t, heapfile.IsPageFull(h.pg), "full flag is cleared as a hint")

	heapfile.SetPageFull(h.pg)
	assert.Equal(t, before, h.bytes(), "only the hint changed")
}

func TestPruneInProgressDeleterSetsHint(t *testing.T) {
	h := newHeapPage(t)
	off := h.add(2, 0, "k", "v")
	require.NoError(t, heapfile.SetTupleDeleted(h.pg, off, 30))
	heapfile.PageClearPrunable(h.pg)

	f := newPruneFixture(committed(2), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.False(t, res.Changed)
	assert.Equal(t, types.TransactionID(30), heapfile.GetPruneXID(h.pg))
}

func TestPruneBrokenLinkEndsChain(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	stranger := h.add(9, heapfile.HeapOnly, "k", "v2")
	h.update(root, stranger, 3, heapfile.HotUpdated)

	f := newPruneFixture(committed(2, 3, 9), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, heapfile.Dead{}, h.item(root))
	assert.Equal(t, heapfile.LPNormal, h.item(stranger).State(), "xmin mismatch: not part of the chain")
}

func TestPruneDanglingRedirect(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	gone := h.add(3, heapfile.HeapOnly, "k", "v2")
	heapfile.SetItemID(h.pg, root, heapfile.Redirect{Target: gone})
	heapfile.SetItemID(h.pg, gone, heapfile.Unused{})

	f := newPruneFixture(committed(2, 3), horizon{oldest: 10})
	res := f.prune(t, h, accounts(2))

	assert.Zero(t, res.Deleted)
	assert.True(t, res.Changed)
	assert.Equal(t, heapfile.Dead{}, h.item(root))
}

func TestRepruneFollowsRedirect(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	m2 := h.add(3, heapfile.HeapOnly, "k", "v2")
	h.update(root, m2, 3, heapfile.HotUpdated)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	f.prune(t, h, accounts(2))
	require.Equal(t, heapfile.Redirect{Target: m2}, h.item(root))

	m3 := h.add(4, heapfile.HeapOnly, "k", "v3")
	h.update(m2, m3, 4, heapfile.HotUpdated)
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, heapfile.Redirect{Target: m3}, h.item(root))
	assert.Equal(t, heapfile.Unused{}, h.item(m2))
}

func TestRepruneAcrossKeys(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b", "c")
	m2 := h.add(3, heapfile.PartialHeapOnly, "a", "B", "c")
	m3 := h.add(4, heapfile.PartialHeapOnly, "a", "B", "C")
	h.update(root, m2, 3, heapfile.PartialHotUpdated)
	h.update(m2, m3, 4, heapfile.PartialHotUpdated)
	oldest := h.rowAt(root)

	f := newPruneFixture(committed(2, 3, 4, 5), horizon{oldest: 10})
	f.prune(t, h, accounts(3))

	m4 := h.add(5, heapfile.HeapOnly, "a", "B", "C")
	h.update(m3, m4, 5, heapfile.HotUpdated)
	res := f.prune(t, h, accounts(3))

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, heapfile.Redirect{Target: m4}, h.item(m3))
	assert.Equal(t, m3, h.item(m2).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{3}, h.attrsAt(m2).Members())
	assert.Equal(t, m2, h.item(root).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{2}, h.attrsAt(root).Members())

	changed := heapfile.ModifiedRowAttrs(oldest, h.rowAt(m4), []int{1, 2, 3})
	assert.True(t, changed.Equal(h.attrsAt(root).Union(h.attrsAt(m2))))
}

func TestRedirectWithDataOnStoragelessRoot(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "a", "b", "c")
	m3 := h.add(3, heapfile.HeapOnly, "a", "b", "c")
	h.update(root, m3, 3, heapfile.HotUpdated)

	f := newPruneFixture(committed(2, 3, 4, 5), horizon{oldest: 10})
	f.prune(t, h, accounts(3))
	require.Equal(t, heapfile.Redirect{Target: m3}, h.item(root))

	m4 := h.add(4, heapfile.PartialHeapOnly, "a", "B", "c")
	h.update(m3, m4, 4, heapfile.PartialHotUpdated)
	m5 := h.add(5, heapfile.PartialHeapOnly, "a", "B", "C")
	h.update(m4, m5, 5, heapfile.PartialHotUpdated)

	res := f.prune(t, h, accounts(3))

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, heapfile.Unused{}, h.item(m3))
	assert.Equal(t, m5, h.item(m4).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{3}, h.attrsAt(m4).Members())
	assert.Equal(t, m4, h.item(root).(heapfile.RedirectWithData).Target)
	assert.Equal(t, []int{2}, h.attrsAt(root).Members())
	assert.Equal(t, row("a", "B", "C"), h.rowAt(m5))
}

func TestPruneIsIdempotent(t *testing.T) {
	for name, build := range chainBuilders() {
		t.Run(name, func(t *testing.T) {
			h, c, rel := build(t)
			f := newPruneFixture(c, horizon{oldest: 10})
			f.prune(t, h, rel)
			after := h.bytes()
			recs := len(f.wal.recs)

			res := f.prune(t, h, rel)
			assert.False(t, res.Changed)
			assert.Zero(t, res.Deleted)
			assert.Len(t, f.wal.recs, recs)
			assert.Equal(t, after, h.bytes())
		})
	}
}

func TestPruneNeverReportsMoreThanNormalSlots(t *testing.T) {
	for name, build := range chainBuilders() {
		t.Run(name, func(t *testing.T) {
			h, c, rel := build(t)
			normals := h.normalCount()
			f := newPruneFixture(c, horizon{oldest: 10})
			res := f.prune(t, h, rel)
			assert.LessOrEqual(t, res.Deleted, normals)
			assert.Equal(t, normals-res.Deleted, h.normalCount())
		})
	}
}

func TestDeadSlotsAreNotReused(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	m2 := h.add(3, heapfile.HeapOnly, "k", "v2")
	h.update(root, m2, 3, heapfile.HotUpdated)
	h.delete(m2, 4)

	f := newPruneFixture(committed(2, 3, 4), horizon{oldest: 10})
	f.prune(t, h, accounts(2))
	require.Equal(t, heapfile.Dead{}, h.item(root))

	for i := 0; i < 5; i++ {
		off := h.add(20, 0, "new", "row")
		assert.NotEqual(t, root, off)
	}
	assert.Equal(t, heapfile.Dead{}, h.item(root))
}

func TestPruneUnexpectedCommitStatus(t *testing.T) {
	h := newHeapPage(t)
	h.add(2, 0, "k", "v")
	before := h.bytes()
	c := clog{2: types.XidStatus(9)}

	f := newPruneFixture(c, horizon{oldest: 10})
	buf := newTestBuf(h.pg)
	buf.LockForCleanup()
	defer buf.Unlock()

	_, err := f.pruner.PrunePage(accounts(2), buf, 0, time.Time{}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedVisibility))
	assert.Equal(t, before, h.bytes())
	assert.Empty(t, f.wal.recs)
}

func TestPruneLogFailureRestoresPage(t *testing.T) {
	h := newHeapPage(t)
	root := h.add(2, 0, "k", "v1")
	m2 := h.add(3, heapfile.HeapOnly, "k", "v2")
	h.update(root, m2, 3, heapfile.HotUpdated)
	h.pg.SetLSN(42)
	before := h.bytes()

	f := newPruneFixture(committed(2, 3), horizon{oldest: 10})
	f.wal.fail = errLogDown
	buf := newTestBuf(h.pg)
	buf.LockForCleanup()
	defer buf.Unlock()

	_, err := f.pruner.PrunePage(accounts(2), buf, 0, time.Time{}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errLogDown))
	assert.Equal(t, before, h.bytes())
	assert.Equal(t, uint64(42), h.pg.LSN())
	assert.Zero(t, buf.dirty)
}

func TestWorkspaceFinalizesOnce(t *testing.T) {
	ps := newPruneState(accounts(2), 0, time.Time{})

	require.NoError(t, ps.recordDead(3))
	err := ps.recordUnused(3)
	assert.True(t, errors.Is(err, ErrSlotAlreadyFinalized))

	require.NoError(t, ps.recordRedirect(1, 5))
	require.NoError(t, ps.recordRedirectWithData(2, 5, heapfile.NewAttrSet(1)), "a target may be shared")
	assert.True(t, ps.marked[5])
	assert.False(t, ps.finalized[5])

	assert.True(t, errors.Is(ps.recordDead(0), ErrWorkspaceFull))
	assert.True(t, errors.Is(ps.recordDead(types.MaxHeapTuplesPerPage+1), ErrWorkspaceFull))
}

type chainBuilder func(t *testing.T) (*heapPage, clog, *types.RelationDef)

// chainBuilders are small pages covering each kind of chain.
func chainBuilders() map[string]chainBuilder {
	return map[string]chainBuilder{
		"hot": func(t *testing.T) (*heapPage, clog, *types.RelationDef) {
			h := newHeapPage(t)
			root := h.add(2, 0, "k", "v1")
			m2 := h.add(3, heapfile.HeapOnly, "k", "v2")
			m3 := h.add(4, heapfile.HeapOnly, "k", "v3")
			h.update(root, m2, 3, heapfile.HotUpdated)
			h.update(m2, m3, 4, heapfile.HotUpdated)
			return h, committed(2, 3, 4), accounts(2)
		},
		"phot": func(t *testing.T) (*heapPage, clog, *types.RelationDef) {
			h := newHeapPage(t)
			root := h.add(2, 0, "a", "b", "c")
			m2 := h.add(3, heapfile.PartialHeapOnly, "a", "B", "c")
			m3 := h.add(4, heapfile.PartialHeapOnly, "a", "B", "C")
			h.update(root, m2, 3, heapfile.PartialHotUpdated)
			h.update(m2, m3, 4, heapfile.PartialHotUpdated)
			return h, committed(2, 3, 4), accounts(3)
		},
		"deleted": func(t *testing.T) (*heapPage, clog, *types.RelationDef) {
			h := newHeapPage(t)
			root := h.add(2, 0, "k", "v1")
			m2 := h.add(3, heapfile.PartialHeapOnly, "k", "v2")
			h.update(root, m2, 3, heapfile.PartialHotUpdated)
			h.delete(m2, 4)
			h.add(5, 0, "other", "row")
			return h, committed(2, 3, 4, 5), accounts(2)
		},
		"mixed": func(t *testing.T) (*heapPage, clog, *types.RelationDef) {
			h := newHeapPage(t)
			a := h.add(2, 0, "a", "b", "c")
			b := h.add(3, heapfile.HeapOnly, "a", "b", "c2")
			h.update(a, b, 3, heapfile.HotUpdated)
			x := h.add(2, 0, "x", "y", "z")
			y := h.add(4, heapfile.PartialHeapOnly, "X", "y", "z")
			z := h.add(60, heapfile.PartialHeapOnly, "X", "Y", "z")
			h.update(x, y, 4, heapfile.PartialHotUpdated)
			h.update(y, z, 60, heapfile.PartialHotUpdated)
			return h, committed(2, 3, 4, 60), accounts(3)
		},
	}
}
