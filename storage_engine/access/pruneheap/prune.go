package pruneheap

import (
	"sync/atomic"
	"time"

	"PruneDB/logger"
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/stats"
	"PruneDB/types"

	"github.com/pkg/errors"
)

var log = logger.Component("prune")

// Pruner prunes heap pages. One Pruner is shared by every goroutine; the
// per-pass state lives in a pruneState.
type Pruner struct {
	horizon Horizon
	clog    XidStatus
	wal     ChangeLog
	limiter SnapshotLimiter // nil: no old-snapshot threshold
	stats   stats.Sink      // nil: nothing reported

	inRecovery atomic.Bool
}

type Option func(*Pruner)

func WithSnapshotLimiter(l SnapshotLimiter) Option {
	return func(p *Pruner) { p.limiter = l }
}

func WithStats(s stats.Sink) Option {
	return func(p *Pruner) { p.stats = s }
}

func NewPruner(horizon Horizon, clog XidStatus, wal ChangeLog, opts ...Option) *Pruner {
	p := &Pruner{horizon: horizon, clog: clog, wal: wal}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetInRecovery turns opportunistic pruning off while WAL is replayed.
func (p *Pruner) SetInRecovery(on bool) {
	p.inRecovery.Store(on)
}

func (p *Pruner) InRecovery() bool {
	return p.inRecovery.Load()
}

// Result summarises one pass.
type Result struct {
	Deleted          int // tuple versions removed
	NowDead          int // slots turned into Dead line pointers
	LatestRemovedXID types.TransactionID
	Changed          bool // line pointers changed and a WAL record was written
}

// PrunePage prunes every chain on the page of buf. The caller holds the
// cleanup lock.
//
// limitedXmin/limitedTs is an old-snapshot limit the caller already
// computed, or zero values. reportStats sends the net number of reclaimed
// versions to the stats sink; vacuum passes false and reports its own
// totals.
//
// Either the whole prune, WAL record included, takes effect or none of it
// does: on error the page is restored byte for byte.
func (p *Pruner) PrunePage(rel *types.RelationDef, buf Buffer, limitedXmin types.TransactionID, limitedTs time.Time, reportStats bool) (Result, error) {
	pg := buf.Page()
	ps := newPruneState(rel, limitedXmin, limitedTs)
	maxOff := heapfile.MaxOffsetNumber(pg)

	// Redirects an earlier pass left in the middle of a chain are visited
	// from their root first; whatever is still unmarked is tried after.
	referenced := make([]bool, int(maxOff)+1)
	for off := types.FirstOffsetNumber; off <= maxOff; off = off.Next() {
		if t, ok := heapfile.RedirectTarget(heapfile.GetItemID(pg, off)); ok && t <= maxOff {
			referenced[t] = true
		}
	}

	ndeleted := 0
	for pass := 0; pass < 2; pass++ {
		for off := types.FirstOffsetNumber; off <= maxOff; off = off.Next() {
			if ps.marked[off] || (pass == 0 && referenced[off]) {
				continue
			}
			id := heapfile.GetItemID(pg, off)
			if !heapfile.IsUsed(id) || id.State() == heapfile.LPDead {
				continue
			}
			n, err := p.pruneChain(pg, off, ps)
			if err != nil {
				return Result{}, errors.Wrapf(err, "prune page %d of file %d", pg.PageNo(), pg.FileID)
			}
			ndeleted += n
		}
	}

	rec := ps.record(heapfile.GetFileID(pg), heapfile.GetPageNo(pg))
	res := Result{
		Deleted:          ndeleted,
		NowDead:          len(rec.NowDead),
		LatestRemovedXID: ps.latestRemovedXID,
	}

	if !rec.IsEmpty() {
		before := make([]byte, len(pg.Data))
		copy(before, pg.Data)
		restore := func() {
			copy(pg.Data, before)
			pg.SyncLSN()
		}

		if err := ApplyRecord(pg, rec); err != nil {
			restore()
			return Result{}, errors.Wrapf(err, "apply prune of page %d", pg.PageNo())
		}
		lsn, err := p.wal.LogPrune(rec)
		if err != nil {
			restore()
			return Result{}, errors.Wrapf(err, "log prune of page %d", pg.PageNo())
		}
		pg.SetLSN(lsn)
		buf.MarkDirty()
		res.Changed = true

		log.Debugf("pruned page %d: deleted=%d redirect=%d redirect_data=%d dead=%d unused=%d lsn=%d",
			pg.PageNo(), ndeleted, len(rec.Redirected), len(rec.RedirectedData), len(rec.NowDead), len(rec.NowUnused), lsn)
		if c, ok := p.stats.(passCounters); ok && rel != nil {
			c.PagePruned(rel.ID)
		}
	} else if heapfile.GetPruneXID(pg) != ps.newPruneXID || heapfile.IsPageFull(pg) {
		// hint only: losing it costs at most a redundant prune later
		heapfile.SetPruneXID(pg, ps.newPruneXID)
		heapfile.ClearPageFull(pg)
		buf.MarkDirtyHint()
	}

	if reportStats && p.stats != nil && rel != nil && ndeleted > res.NowDead {
		p.stats.ReportReclaimed(rel.ID, ndeleted-res.NowDead)
	}
	return res, nil
}

func (p *Pruner) skipped(reason string) {
	if c, ok := p.stats.(passCounters); ok {
		c.Skipped(reason)
	}
}
