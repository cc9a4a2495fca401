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

func TestSatisfiesVacuumHorizon(t *testing.T) {
	c := clog{
		5: types.XidCommitted,
		6: types.XidCommitted,
		7: types.XidAborted,
		8: types.XidInProgress,
	}
	cases := []struct {
		name      string
		xmin      types.TransactionID
		xmax      types.TransactionID
		want      HTSVResult
		deadAfter types.TransactionID
	}{
		{"aborted insert", 7, 0, HeapTupleDead, 0},
		{"no inserter", 0, 0, HeapTupleDead, 0},
		{"insert in progress", 8, 0, HeapTupleInsertInProgress, 0},
		{"insert and delete in progress", 8, 8, HeapTupleDeleteInProgress, 0},
		{"live", 5, 0, HeapTupleLive, 0},
		{"frozen", types.BootstrapTransactionID, 0, HeapTupleLive, 0},
		{"aborted delete", 5, 7, HeapTupleLive, 0},
		{"delete in progress", 5, 8, HeapTupleDeleteInProgress, 0},
		{"deleted", 5, 6, HeapTupleRecentlyDead, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hdr := &heapfile.TupleHeader{Xmin: tc.xmin, Xmax: tc.xmax}
			res, deadAfter, err := SatisfiesVacuumHorizon(hdr, c)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res, res.String())
			assert.Equal(t, tc.deadAfter, deadAfter)
		})
	}

	_, _, err := SatisfiesVacuumHorizon(&heapfile.TupleHeader{Xmin: 5, Xmax: 9}, clog{5: types.XidCommitted, 9: types.XidStatus(42)})
	assert.True(t, errors.Is(err, ErrUnexpectedVisibility))
}

// two rows deleted by 50 and 51, both committed but newer than the
// primary horizon
func recentlyDeletedPage(t *testing.T) (*heapPage, clog) {
	h := newHeapPage(t)
	a := h.add(2, 0, "a", "1")
	b := h.add(2, 0, "b", "2")
	h.delete(a, 50)
	h.delete(b, 51)
	return h, committed(2, 50, 51)
}

func TestEscalationCondemnsOldRows(t *testing.T) {
	h, c := recentlyDeletedPage(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lim := &limiter{active: true, xmin: 60, ts: ts}

	f := newPruneFixture(c, horizon{oldest: 10}, WithSnapshotLimiter(lim))
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, heapfile.Dead{}, h.item(1))
	assert.Equal(t, heapfile.Dead{}, h.item(2))
	assert.Equal(t, 1, lim.lookups, "limit is computed once per pass")
	assert.Equal(t, types.TransactionID(10), lim.lastLookup)
	assert.Equal(t, []types.TransactionID{60}, lim.escalated, "latched once, later rows compare directly")
}

func TestEscalationStopsAtLimit(t *testing.T) {
	h, c := recentlyDeletedPage(t)
	lim := &limiter{active: true, xmin: 51, ts: time.Now()}

	f := newPruneFixture(c, horizon{oldest: 10}, WithSnapshotLimiter(lim))
	res := f.prune(t, h, accounts(2))

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, heapfile.Dead{}, h.item(1))
	assert.Equal(t, heapfile.LPNormal, h.item(2).State())
	assert.Equal(t, types.TransactionID(51), heapfile.GetPruneXID(h.pg))
	assert.Equal(t, 1, lim.lookups)
}

func TestEscalationInactive(t *testing.T) {
	h, c := recentlyDeletedPage(t)
	lim := &limiter{active: false, xmin: 60}

	f := newPruneFixture(c, horizon{oldest: 10}, WithSnapshotLimiter(lim))
	res := f.prune(t, h, accounts(2))

	assert.Zero(t, res.Deleted)
	assert.Zero(t, lim.lookups)
	assert.Empty(t, lim.escalated)
}

func TestEscalationUsesCallerLimit(t *testing.T) {
	h, c := recentlyDeletedPage(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lim := &limiter{active: true, xmin: 99}

	f := newPruneFixture(c, horizon{oldest: 10}, WithSnapshotLimiter(lim))
	buf := newTestBuf(h.pg)
	buf.LockForCleanup()
	defer buf.Unlock()

	res, err := f.pruner.PrunePage(accounts(2), buf, 60, ts, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, lim.lookups)
	assert.Equal(t, []types.TransactionID{60}, lim.escalated)
	assert.Empty(t, f.sink.reclaimed, "vacuum reports its own totals")
}
