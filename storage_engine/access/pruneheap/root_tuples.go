package pruneheap

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// GetRootTuples maps every slot of the page to the root slot of the HOT
// chain it belongs to. roots[off] is InvalidOffsetNumber for slots that
// hold no tuple, for redirects themselves and for heap-only tuples no
// chain reaches. The caller holds at least a shared lock.
//
// Each slot is looked at once by the outer loop and at most once more
// while following a chain, since every member has exactly one root.
func GetRootTuples(pg *page.Page) ([]types.OffsetNumber, error) {
	maxOff := heapfile.MaxOffsetNumber(pg)
	pageNo := heapfile.GetPageNo(pg)
	roots := make([]types.OffsetNumber, int(maxOff)+1)

	for off := types.FirstOffsetNumber; off <= maxOff; off = off.Next() {
		var (
			next      types.OffsetNumber
			priorXmax types.TransactionID
		)

		switch id := heapfile.GetItemID(pg, off).(type) {
		case heapfile.Normal:
			hdr, err := heapfile.TupleHeaderAt(pg, off)
			if err != nil {
				return nil, errors.Wrapf(err, "slot %d", off)
			}
			if hdr.IsHeapOnly() {
				continue
			}
			roots[off] = off
			if !hdr.IsHotUpdated() || hdr.CtidPage != pageNo {
				continue
			}
			next, priorXmax = hdr.CtidSlot, hdr.Xmax
		case heapfile.Redirect:
			next = id.Target
		case heapfile.RedirectWithData:
			next = id.Target
		default:
			continue
		}

		for steps := 0; next >= types.FirstOffsetNumber && next <= maxOff && steps < int(maxOff); steps++ {
			if _, ok := heapfile.GetItemID(pg, next).(heapfile.Normal); !ok {
				break
			}
			hdr, err := heapfile.TupleHeaderAt(pg, next)
			if err != nil {
				return nil, errors.Wrapf(err, "slot %d", next)
			}
			if priorXmax.IsValid() && hdr.Xmin != priorXmax {
				break
			}
			roots[next] = off
			if !hdr.IsHotUpdated() || hdr.CtidPage != pageNo {
				break
			}
			next, priorXmax = hdr.CtidSlot, hdr.Xmax
		}
	}
	return roots, nil
}
