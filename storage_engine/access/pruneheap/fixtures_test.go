package pruneheap

import (
	"sync"
	"testing"
	"time"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testFileID = 1

// clog: xids not listed are in progress.
type clog map[types.TransactionID]types.XidStatus

func (c clog) Status(xid types.TransactionID) types.XidStatus {
	if st, ok := c[xid]; ok {
		return st
	}
	return types.XidInProgress
}

// committed marks every listed xid committed.
func committed(xids ...types.TransactionID) clog {
	c := clog{}
	for _, x := range xids {
		c[x] = types.XidCommitted
	}
	return c
}

// horizon: everything older than oldest is removable.
type horizon struct {
	oldest types.TransactionID
}

func (h horizon) IsRemovable(xid types.TransactionID) bool { return xid.Precedes(h.oldest) }
func (h horizon) NonRemovableHorizon() types.TransactionID { return h.oldest }

type limiter struct {
	active bool
	xmin   types.TransactionID
	ts     time.Time

	mu         sync.Mutex
	lookups    int
	escalated  []types.TransactionID
	lastLookup types.TransactionID
}

func (l *limiter) Active() bool { return l.active }

func (l *limiter) LimitedHorizon(base types.TransactionID, _ *types.RelationDef) (types.TransactionID, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	l.lastLookup = base
	if !l.xmin.Follows(base) {
		return types.InvalidTransactionID, time.Time{}, false
	}
	return l.xmin, l.ts, true
}

func (l *limiter) TryEscalate(xid types.TransactionID, _ time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escalated = append(l.escalated, xid)
	return true
}

type memLog struct {
	recs []*types.PruneRecord
	fail error
}

func (m *memLog) LogPrune(rec *types.PruneRecord) (uint64, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.recs = append(m.recs, rec)
	return uint64(100 + len(m.recs)), nil
}

type sink struct {
	reclaimed map[uint32]int
	pruned    int
	skips     []string
}

func newSink() *sink { return &sink{reclaimed: map[uint32]int{}} }

func (s *sink) ReportReclaimed(relID uint32, n int) { s.reclaimed[relID] += n }
func (s *sink) PagePruned(uint32) { s.pruned++ }
func (s *sink) Skipped(reason string) { s.skips = append(s.skips, reason) }

// testBuf is a pinned page. Cleanup locking goes through the page itself
// so pin counts are honoured.
type testBuf struct {
	pg    *page.Page
	dirty int
	hint  int
}

func newTestBuf(pg *page.Page) *testBuf {
	pg.Pin()
	return &testBuf{pg: pg}
}

func (b *testBuf) Page() *page.Page { return b.pg }
func (b *testBuf) LockForCleanup() { b.pg.LockForCleanup() }
func (b *testBuf) ConditionalLockForCleanup() bool { return b.pg.ConditionalLockForCleanup() }
func (b *testBuf) Unlock() { b.pg.Unlock() }
func (b *testBuf) MarkDirty() { b.dirty++ }
func (b *testBuf) MarkDirtyHint() { b.hint++ }

// heapPage builds chains by hand.
type heapPage struct {
	t  *testing.T
	pg *page.Page
}

func newHeapPage(t *testing.T) *heapPage {
	t.Helper()
	pg := page.New(0, testFileID, types.PageTypeHeapData)
	heapfile.InitHeapPage(pg, 0)
	return &heapPage{t: t, pg: pg}
}

func row(vals ...string) types.Row {
	r := types.Row{Values: make([][]byte, len(vals))}
	for i, v := range vals {
		r.Values[i] = []byte(v)
	}
	return r
}

func (h *heapPage) add(xmin types.TransactionID, mask uint16, vals ...string) types.OffsetNumber {
	h.t.Helper()
	tup, err := heapfile.EncodeTuple(heapfile.TupleHeader{Xmin: xmin, Infomask: mask}, row(vals...))
	require.NoError(h.t, err)
	off, err := heapfile.PlaceTuple(h.pg, tup)
	require.NoError(h.t, err)
	return off
}

// update links old to succ as replaced by xid with HotUpdated or
// PartialHotUpdated.
func (h *heapPage) update(old, succ types.OffsetNumber, xid types.TransactionID, flag uint16) {
	h.t.Helper()
	ptr := types.RowPointer{FileID: testFileID, PageNumber: 0, SlotIndex: succ}
	require.NoError(h.t, heapfile.SetTupleUpdated(h.pg, old, xid, ptr, flag))
	heapfile.PageSetPrunable(h.pg, xid)
}

func (h *heapPage) delete(off types.OffsetNumber, xid types.TransactionID) {
	h.t.Helper()
	require.NoError(h.t, heapfile.SetTupleDeleted(h.pg, off, xid))
	heapfile.PageSetPrunable(h.pg, xid)
}

func (h *heapPage) item(off types.OffsetNumber) heapfile.ItemID {
	return heapfile.GetItemID(h.pg, off)
}

func (h *heapPage) rowAt(off types.OffsetNumber) types.Row {
	h.t.Helper()
	tup, err := heapfile.TupleAt(h.pg, off)
	require.NoError(h.t, err)
	_, r, err := heapfile.DecodeTuple(tup)
	require.NoError(h.t, err)
	return r
}

func (h *heapPage) attrsAt(off types.OffsetNumber) *heapfile.AttrSet {
	h.t.Helper()
	attrs, err := heapfile.RedirectAttrsAt(h.pg, off)
	require.NoError(h.t, err)
	return attrs
}

func (h *heapPage) bytes() []byte {
	out := make([]byte, len(h.pg.Data))
	copy(out, h.pg.Data)
	return out
}

func (h *heapPage) clone() *page.Page {
	pg := page.New(h.pg.ID, h.pg.FileID, h.pg.PageType)
	copy(pg.Data, h.pg.Data)
	pg.SyncLSN()
	return pg
}

func (h *heapPage) normalCount() int {
	n := 0
	for off := types.FirstOffsetNumber; off <= heapfile.MaxOffsetNumber(h.pg); off++ {
		if h.item(off).State() == heapfile.LPNormal {
			n++
		}
	}
	return n
}

func accounts(natts int) *types.RelationDef {
	return &types.RelationDef{ID: 10, Name: "accounts", FileID: testFileID, NumAttributes: natts, IndexedColumns: []int{1, 2}}
}

type pruneFixture struct {
	pruner *Pruner
	wal    *memLog
	sink   *sink
}

func newPruneFixture(c clog, h horizon, opts ...Option) *pruneFixture {
	f := &pruneFixture{wal: &memLog{}, sink: newSink()}
	opts = append([]Option{WithStats(f.sink)}, opts...)
	f.pruner = NewPruner(h, c, f.wal, opts...)
	return f
}

// prune runs one pass the way vacuum does, holding the cleanup lock.
func (f *pruneFixture) prune(t *testing.T, h *heapPage, rel *types.RelationDef) Result {
	t.Helper()
	buf := newTestBuf(h.pg)
	defer h.pg.Unpin()
	buf.LockForCleanup()
	defer buf.Unlock()
	res, err := f.pruner.PrunePage(rel, buf, types.InvalidTransactionID, time.Time{}, true)
	require.NoError(t, err)
	return res
}

var errLogDown = errors.New("log device gone")

var zeroTime time.Time
