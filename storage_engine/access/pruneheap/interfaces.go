package pruneheap

import (
	"time"

	"PruneDB/storage_engine/page"
	"PruneDB/types"
)

// Buffer is a pinned heap page. bufferpool.Buffer satisfies it.
type Buffer interface {
	Page() *page.Page
	LockForCleanup()
	ConditionalLockForCleanup() bool
	Unlock()
	MarkDirty()
	MarkDirtyHint()
}

// Horizon is the global removal horizon.
type Horizon interface {
	IsRemovable(xid types.TransactionID) bool
	NonRemovableHorizon() types.TransactionID
}

// SnapshotLimiter is the old-snapshot threshold: a stricter horizon that
// may condemn rows older snapshots could still see, at the price of those
// snapshots failing later.
type SnapshotLimiter interface {
	Active() bool
	LimitedHorizon(base types.TransactionID, rel *types.RelationDef) (types.TransactionID, time.Time, bool)
	TryEscalate(xid types.TransactionID, ts time.Time) bool
}

// XidStatus answers commit log lookups.
type XidStatus interface {
	Status(xid types.TransactionID) types.XidStatus
}

// ChangeLog makes a prune durable and returns its LSN.
type ChangeLog interface {
	LogPrune(rec *types.PruneRecord) (uint64, error)
}

// passCounters is implemented by stats.PruneMetrics; plain sinks only get
// ReportReclaimed.
type passCounters interface {
	PagePruned(relID uint32)
	Skipped(reason string)
}
