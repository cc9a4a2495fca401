package pruneheap

import (
	"testing"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRootTuples(t *testing.T) {
	h := newHeapPage(t)

	a := h.add(2, 0, "k", "1")
	b := h.add(3, heapfile.HeapOnly, "k", "2")
	c := h.add(4, heapfile.HeapOnly, "k", "3")
	h.update(a, b, 3, heapfile.HotUpdated)
	h.update(b, c, 4, heapfile.HotUpdated)

	x := h.add(2, 0, "x", "1")
	y := h.add(5, heapfile.PartialHeapOnly, "y", "1")
	h.update(x, y, 5, heapfile.PartialHotUpdated)

	orphan := h.add(6, heapfile.HeapOnly, "o", "1")

	r := h.add(2, 0, "r", "1")
	rt := h.add(7, heapfile.HeapOnly, "r", "2")
	heapfile.SetItemID(h.pg, r, heapfile.Redirect{Target: rt})

	dead := h.add(2, 0, "d", "1")
	heapfile.SetItemID(h.pg, dead, heapfile.Dead{})

	// successor whose xmin does not match the updater
	broken := h.add(2, 0, "b", "1")
	stray := h.add(9, heapfile.HeapOnly, "b", "2")
	h.update(broken, stray, 8, heapfile.HotUpdated)

	roots, err := GetRootTuples(h.pg)
	require.NoError(t, err)
	require.Len(t, roots, int(heapfile.MaxOffsetNumber(h.pg))+1)

	want := map[types.OffsetNumber]types.OffsetNumber{
		a: a, b: a, c: a,
		x: x, y: y,
		orphan: types.InvalidOffsetNumber,
		r:      types.InvalidOffsetNumber,
		rt:     r,
		dead:   types.InvalidOffsetNumber,
		broken: broken,
		stray:  types.InvalidOffsetNumber,
	}
	for off, root := range want {
		assert.Equal(t, root, roots[off], "slot %d", off)
	}
}

func TestGetRootTuplesAfterPrune(t *testing.T) {
	for name, build := range chainBuilders() {
		t.Run(name, func(t *testing.T) {
			h, c, rel := build(t)
			f := newPruneFixture(c, horizon{oldest: 10})
			f.prune(t, h, rel)

			roots, err := GetRootTuples(h.pg)
			require.NoError(t, err)

			for off := types.FirstOffsetNumber; off <= heapfile.MaxOffsetNumber(h.pg); off++ {
				root := roots[off]
				if root == types.InvalidOffsetNumber {
					continue
				}
				// every mapped root is a live line pointer that still
				// starts a chain
				switch id := h.item(root).(type) {
				case heapfile.Normal:
					hdr, err := heapfile.TupleHeaderAt(h.pg, root)
					require.NoError(t, err)
					assert.False(t, hdr.IsHeapOnly(), "slot %d maps to heap-only %d", off, root)
				case heapfile.Redirect, heapfile.RedirectWithData:
				default:
					t.Fatalf("slot %d maps to %T at %d", off, id, root)
				}
			}
		})
	}
}
