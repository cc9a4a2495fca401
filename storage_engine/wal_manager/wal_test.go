package wal_manager

import (
	"os"
	"path/filepath"
	"testing"

	"PruneDB/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, w *WALManager, from uint64) []*types.Operation {
	t.Helper()
	var ops []*types.Operation
	require.NoError(t, w.ReplayFromLSN(from, func(op *types.Operation) error {
		ops = append(ops, op)
		return nil
	}))
	return ops
}

func TestAppendAndReplay(t *testing.T) {
	for _, compress := range []bool{false, true} {
		dir := t.TempDir()
		w, err := OpenWAL(dir, Options{Compress: compress})
		require.NoError(t, err)

		lsn1, err := w.AppendOperation(&types.Operation{Type: types.OpTxnBegin, TxnID: 2})
		require.NoError(t, err)
		lsn2, err := w.LogPrune(&types.PruneRecord{
			RelID:      1,
			PageNo:     3,
			Redirected: []types.RedirectPair{{From: 1, To: 4}},
			NowDead:    []types.OffsetNumber{2},
			NowUnused:  []types.OffsetNumber{3, 5, 6, 7, 8, 9, 10, 11, 12},
		})
		require.NoError(t, err)
		assert.Equal(t, lsn1+1, lsn2)

		assert.Equal(t, uint64(0), w.GetFlushedLSN())
		require.NoError(t, w.Sync())
		assert.Equal(t, lsn2, w.GetFlushedLSN())

		ops := collect(t, w, 0)
		require.Len(t, ops, 2)
		assert.Equal(t, types.OpPrune, ops[1].Type)
		assert.Equal(t, lsn2, ops[1].LSN)
		assert.Equal(t, []types.OffsetNumber{2}, ops[1].Prune.NowDead)

		assert.Len(t, collect(t, w, lsn2), 1)
		require.NoError(t, w.Close())
	}
}

func TestReopenContinuesLSN(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.AppendOperation(&types.Operation{Type: types.OpTxnCommit, TxnID: types.TransactionID(i + 2)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w2, err := OpenWAL(dir, Options{})
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(5), w2.GetCurrentLSN())

	lsn, err := w2.AppendOperation(&types.Operation{Type: types.OpTxnBegin, TxnID: 9})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), lsn)
	assert.Len(t, collect(t, w2, 0), 6)
}

func TestTornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.AppendOperation(&types.Operation{Type: types.OpTxnBegin, TxnID: types.TransactionID(i + 2)})
		require.NoError(t, err)
	}
	seg := w.CurrSegment.FilePath
	require.NoError(t, w.Close())

	f, err := os.OpenFile(seg, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 4, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := OpenWAL(dir, Options{})
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(3), w2.GetCurrentLSN())
	assert.Len(t, collect(t, w2, 0), 3)
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, Options{SegmentSize: 64})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := w.AppendOperation(&types.Operation{Type: types.OpTxnBegin, TxnID: types.TransactionID(i + 2)})
		require.NoError(t, err)
	}
	assert.Greater(t, len(w.Segments), 1)
	require.NoError(t, w.Close())

	files, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)

	w2, err := OpenWAL(dir, Options{SegmentSize: 64})
	require.NoError(t, err)
	defer w2.Close()
	assert.Len(t, w2.Segments, len(files))
	assert.Len(t, collect(t, w2, 0), 6)
}
