package pruneheap

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// interestingColumns returns the candidate column set for modified-column
// tracking, computing it on first use. It is every attribute of the
// relation, not just the indexed ones: looking up index definitions here
// would take catalog locks while a buffer cleanup lock is held.
func (ps *pruneState) interestingColumns(pg *page.Page, chain []types.OffsetNumber) *heapfile.AttrSet {
	if ps.interesting != nil {
		return ps.interesting
	}
	if ps.natts == 0 {
		// relation without a column count: take the widest chain member
		for _, off := range chain {
			if hdr, err := heapfile.TupleHeaderAt(pg, off); err == nil && int(hdr.Natts) > ps.natts {
				ps.natts = int(hdr.Natts)
			}
		}
	}
	ps.interesting = heapfile.AttrRange(ps.natts)
	return ps.interesting
}

// modifiedColumns returns the interesting columns that changed between
// chain member oldOff and its successor newOff.
//
//	old Normal            byte comparison of the two tuples
//	old RedirectWithData  the columns its record already carries
//	old plain Redirect    nothing: a pure HOT span changed no column
//
// A successor that is not partial only ever gets compared with a Normal
// predecessor.
func (ps *pruneState) modifiedColumns(pg *page.Page, oldOff, newOff types.OffsetNumber, newIsPartial bool) (*heapfile.AttrSet, error) {
	interesting := ps.interesting
	if interesting.IsEmpty() {
		return heapfile.NewAttrSet(), nil
	}

	oldID := heapfile.GetItemID(pg, oldOff)
	if !newIsPartial && oldID.State() != heapfile.LPNormal {
		return heapfile.NewAttrSet(), nil
	}

	switch oldID.(type) {
	case heapfile.Normal:
		if _, ok := heapfile.GetItemID(pg, newOff).(heapfile.Normal); !ok {
			// nothing to compare with, assume everything changed
			return interesting.Clone(), nil
		}
		oldTup, err := heapfile.TupleAt(pg, oldOff)
		if err != nil {
			return nil, errors.Wrapf(err, "chain member %d", oldOff)
		}
		newTup, err := heapfile.TupleAt(pg, newOff)
		if err != nil {
			return nil, errors.Wrapf(err, "chain member %d", newOff)
		}
		return heapfile.ModifiedAttrs(oldTup, newTup, interesting)

	case heapfile.RedirectWithData:
		attrs, err := heapfile.RedirectAttrsAt(pg, oldOff)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptRedirectData, "slot %d: %v", oldOff, err)
		}
		return attrs.Intersect(interesting), nil
	}
	return heapfile.NewAttrSet(), nil
}
