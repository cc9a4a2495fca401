package txn

import (
	"sync"
	"time"

	"PruneDB/types"

	"github.com/pkg/errors"
)

var (
	ErrTxnNotActive = errors.New("transaction is not active")
	ErrTxnFinished  = errors.New("transaction already finished")
)

type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

type Transaction struct {
	ID       types.TransactionID
	State    TxnState
	Snapshot *Snapshot

	// pages this transaction wrote; on abort they get a prune hint so the
	// dead versions are reclaimed without waiting for vacuum
	Touched []TouchedPage
}

type TouchedPage struct {
	RelID  uint32
	PageID int64
}

// Snapshot decides which transactions' effects a reader sees.
//
// Everything below Xmin has finished; everything at or above Xmax had not
// started; in between, InProgress lists what was still running.
type Snapshot struct {
	Xmin       types.TransactionID
	Xmax       types.TransactionID
	InProgress map[types.TransactionID]struct{}
	CurrentXID types.TransactionID // the owning transaction, Invalid for read-only
	TakenAt    time.Time
	LSN        uint64 // WAL position when taken
}

// SnapshotObserver is told about every snapshot taken, so the old-snapshot
// threshold can map times to horizons.
type SnapshotObserver interface {
	RecordSnapshot(takenAt time.Time, xmin types.TransactionID)
}

type TxnManager struct {
	nextID     types.TransactionID
	activeTxns map[types.TransactionID]*Transaction
	clog       map[types.TransactionID]types.XidStatus

	now       func() time.Time
	lsnSource func() uint64
	observer  SnapshotObserver
	mu        sync.RWMutex
}

type Option func(*TxnManager)

func WithClock(now func() time.Time) Option {
	return func(tm *TxnManager) { tm.now = now }
}

func WithLSNSource(src func() uint64) Option {
	return func(tm *TxnManager) { tm.lsnSource = src }
}

func WithSnapshotObserver(obs SnapshotObserver) Option {
	return func(tm *TxnManager) { tm.observer = obs }
}
