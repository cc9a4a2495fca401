package pruneheap

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// HTSVResult is the removability class of one tuple version.
type HTSVResult int

const (
	HeapTupleDead HTSVResult = iota + 1
	HeapTupleRecentlyDead
	HeapTupleLive
	HeapTupleInsertInProgress
	HeapTupleDeleteInProgress
)

func (r HTSVResult) String() string {
	switch r {
	case HeapTupleDead:
		return "DEAD"
	case HeapTupleRecentlyDead:
		return "RECENTLY_DEAD"
	case HeapTupleLive:
		return "LIVE"
	case HeapTupleInsertInProgress:
		return "INSERT_IN_PROGRESS"
	case HeapTupleDeleteInProgress:
		return "DELETE_IN_PROGRESS"
	}
	return "UNKNOWN"
}

func xidStatus(clog XidStatus, xid types.TransactionID) types.XidStatus {
	if !xid.IsNormal() {
		// bootstrap and frozen rows count as committed
		return types.XidCommitted
	}
	return clog.Status(xid)
}

// SatisfiesVacuumHorizon classifies a tuple from the commit log alone.
// For HeapTupleRecentlyDead, deadAfter is the xid whose removability
// decides whether the tuple is really dead.
func SatisfiesVacuumHorizon(hdr *heapfile.TupleHeader, clog XidStatus) (res HTSVResult, deadAfter types.TransactionID, err error) {
	if !hdr.Xmin.IsValid() {
		return HeapTupleDead, types.InvalidTransactionID, nil
	}

	switch st := xidStatus(clog, hdr.Xmin); st {
	case types.XidAborted:
		return HeapTupleDead, types.InvalidTransactionID, nil
	case types.XidInProgress:
		if hdr.Xmax == hdr.Xmin {
			return HeapTupleDeleteInProgress, types.InvalidTransactionID, nil
		}
		return HeapTupleInsertInProgress, types.InvalidTransactionID, nil
	case types.XidCommitted:
	default:
		return 0, 0, errors.Wrapf(ErrUnexpectedVisibility, "xmin %d has commit status %d", hdr.Xmin, st)
	}

	if !hdr.Xmax.IsValid() {
		return HeapTupleLive, types.InvalidTransactionID, nil
	}
	switch st := xidStatus(clog, hdr.Xmax); st {
	case types.XidAborted:
		return HeapTupleLive, types.InvalidTransactionID, nil
	case types.XidInProgress:
		return HeapTupleDeleteInProgress, types.InvalidTransactionID, nil
	case types.XidCommitted:
		return HeapTupleRecentlyDead, hdr.Xmax, nil
	default:
		return 0, 0, errors.Wrapf(ErrUnexpectedVisibility, "xmax %d has commit status %d", hdr.Xmax, st)
	}
}

// satisfiesVacuum classifies a tuple against the pass's horizons. A
// RECENTLY_DEAD tuple becomes DEAD when the primary horizon has passed its
// deleter, or when the old-snapshot limit has; the latter is computed at
// most once per pass and latches the threshold the first time it condemns
// something.
func (p *Pruner) satisfiesVacuum(ps *pruneState, hdr *heapfile.TupleHeader) (HTSVResult, error) {
	res, deadAfter, err := SatisfiesVacuumHorizon(hdr, p.clog)
	if err != nil || res != HeapTupleRecentlyDead {
		return res, err
	}

	if ps.oldSnapUsed {
		if deadAfter.Precedes(ps.oldSnapXmin) {
			return HeapTupleDead, nil
		}
		return res, nil
	}
	if p.horizon.IsRemovable(deadAfter) {
		return HeapTupleDead, nil
	}
	if p.limiter == nil || !p.limiter.Active() {
		return res, nil
	}

	if !ps.oldSnapXmin.IsValid() && !ps.limitComputed {
		ps.limitComputed = true
		if xmin, ts, ok := p.limiter.LimitedHorizon(p.horizon.NonRemovableHorizon(), ps.rel); ok {
			ps.oldSnapXmin, ps.oldSnapTs = xmin, ts
		}
	}
	if ps.oldSnapXmin.IsValid() && deadAfter.Precedes(ps.oldSnapXmin) {
		p.limiter.TryEscalate(ps.oldSnapXmin, ps.oldSnapTs)
		ps.oldSnapUsed = true
		return HeapTupleDead, nil
	}
	return res, nil
}

// advanceLatestRemovedXID folds the deleter of a removed tuple into the
// newest removed xid of the pass. Rows whose inserter never committed
// were never visible to anyone and do not count.
func (p *Pruner) advanceLatestRemovedXID(ps *pruneState, hdr *heapfile.TupleHeader) {
	if !hdr.Xmax.IsValid() || hdr.Xmax == hdr.Xmin {
		return
	}
	if xidStatus(p.clog, hdr.Xmin) != types.XidCommitted {
		return
	}
	if hdr.Xmax.Follows(ps.latestRemovedXID) {
		ps.latestRemovedXID = hdr.Xmax
	}
}
