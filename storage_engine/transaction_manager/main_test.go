package txn

import (
	"testing"
	"time"

	"PruneDB/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	xmins []types.TransactionID
}

func (r *recordingObserver) RecordSnapshot(_ time.Time, xmin types.TransactionID) {
	r.xmins = append(r.xmins, xmin)
}

func TestCommitAbortStatus(t *testing.T) {
	tm, err := NewTxnManager()
	require.NoError(t, err)

	a := tm.Begin()
	b := tm.Begin()
	assert.Equal(t, types.FirstNormalTransaction, a.ID)
	assert.Equal(t, types.XidInProgress, tm.Status(a.ID))

	require.NoError(t, tm.Commit(a.ID))
	_, err = tm.Abort(b.ID)
	require.NoError(t, err)

	assert.Equal(t, types.XidCommitted, tm.Status(a.ID))
	assert.Equal(t, types.XidAborted, tm.Status(b.ID))
	assert.Equal(t, types.XidCommitted, tm.Status(types.BootstrapTransactionID))

	// commit is idempotent, abort after commit is not allowed
	assert.NoError(t, tm.Commit(a.ID))
	_, err = tm.Abort(a.ID)
	assert.True(t, errors.Is(err, ErrTxnFinished))
}

func TestHorizonFollowsOldestSnapshot(t *testing.T) {
	tm, _ := NewTxnManager()

	old := tm.Begin() // xid 2
	mid := tm.Begin() // xid 3, snapshot xmin 2
	deleter := tm.Begin()
	require.NoError(t, tm.Commit(deleter.ID))

	assert.Equal(t, old.ID, tm.NonRemovableHorizon())
	assert.False(t, tm.IsRemovable(deleter.ID))

	require.NoError(t, tm.Commit(old.ID))
	// mid's snapshot still has xmin 2
	assert.Equal(t, old.ID, tm.NonRemovableHorizon())

	require.NoError(t, tm.Commit(mid.ID))
	assert.Equal(t, tm.NextXID(), tm.NonRemovableHorizon())
	assert.True(t, tm.IsRemovable(deleter.ID))
}

func TestSnapshotVisibility(t *testing.T) {
	obs := &recordingObserver{}
	tm, _ := NewTxnManager(WithSnapshotObserver(obs))

	writer := tm.Begin()
	reader := tm.Begin()
	require.NoError(t, tm.Commit(writer.ID))
	later := tm.Begin()

	// writer was running when reader's snapshot was taken
	assert.False(t, tm.XidVisible(reader.Snapshot, writer.ID))
	assert.True(t, tm.XidVisible(later.Snapshot, writer.ID))
	assert.True(t, tm.XidVisible(reader.Snapshot, reader.ID))
	assert.False(t, tm.XidVisible(reader.Snapshot, later.ID))

	assert.Equal(t, []types.TransactionID{2, 2, 3}, obs.xmins)
}

func TestRecoveryAbortsUnfinished(t *testing.T) {
	tm, _ := NewTxnManager()
	tm.BeginRecovery(5)
	tm.RecordStatus(5, types.XidInProgress)
	tm.RecordStatus(5, types.XidCommitted)
	tm.RecordStatus(6, types.XidInProgress)
	tm.RecordStatus(7, types.XidInProgress)
	tm.RecordStatus(7, types.XidAborted)

	aborted := tm.FinishRecovery()
	assert.Equal(t, []types.TransactionID{6}, aborted)
	assert.Equal(t, types.XidCommitted, tm.Status(5))
	assert.Equal(t, types.XidAborted, tm.Status(6))
	assert.Equal(t, types.XidAborted, tm.Status(3), "never seen, older than nextXID")
	assert.Equal(t, types.TransactionID(8), tm.Begin().ID)
}

func TestTouchDeduplicates(t *testing.T) {
	tm, _ := NewTxnManager()
	txn := tm.Begin()
	txn.Touch(1, 10)
	txn.Touch(1, 10)
	txn.Touch(1, 11)

	aborted, err := tm.Abort(txn.ID)
	require.NoError(t, err)
	assert.Len(t, aborted.Touched, 2)
}
