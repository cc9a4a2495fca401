package txn

import (
	"time"

	"PruneDB/logger"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
Transaction manager hands out transaction ids, keeps the commit log (clog)
and answers the two questions pruning asks:

  - Status(xid): did this transaction commit, abort, or is it still running
  - IsRemovable(xid) / NonRemovableHorizon(): is xid older than every
    snapshot still in use, so a version it deleted can be reclaimed

Aborted transactions need no undo: their versions are simply invisible and
become dead for the pruner.
*/

var log = logger.Component("txn")

func NewTxnManager(opts ...Option) (*TxnManager, error) {
	tm := &TxnManager{
		nextID:     types.FirstNormalTransaction,
		activeTxns: make(map[types.TransactionID]*Transaction),
		clog:       make(map[types.TransactionID]types.XidStatus),
		now:        time.Now,
		lsnSource:  func() uint64 { return 0 },
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// Begin starts a new transaction, registers it as active and takes its
// snapshot.
func (tm *TxnManager) Begin() *Transaction {
	tm.mu.Lock()
	xid := tm.nextID
	tm.nextID++

	txn := &Transaction{ID: xid, State: TxnActive}
	tm.activeTxns[xid] = txn
	tm.clog[xid] = types.XidInProgress
	txn.Snapshot = tm.snapshotLocked(xid)
	tm.mu.Unlock()

	if tm.observer != nil {
		tm.observer.RecordSnapshot(txn.Snapshot.TakenAt, txn.Snapshot.Xmin)
	}
	log.Debugf("BEGIN xid=%d xmin=%d xmax=%d", xid, txn.Snapshot.Xmin, txn.Snapshot.Xmax)
	return txn
}

// snapshotLocked builds a snapshot for xid. Caller holds tm.mu.
func (tm *TxnManager) snapshotLocked(xid types.TransactionID) *Snapshot {
	snap := &Snapshot{
		Xmin:       tm.nextID,
		Xmax:       tm.nextID,
		InProgress: make(map[types.TransactionID]struct{}, len(tm.activeTxns)),
		CurrentXID: xid,
		TakenAt:    tm.now(),
		LSN:        tm.lsnSource(),
	}
	for id := range tm.activeTxns {
		if id != xid {
			snap.InProgress[id] = struct{}{}
		}
		if id.Precedes(snap.Xmin) {
			snap.Xmin = id
		}
	}
	return snap
}

// Commit marks a transaction committed. Called AFTER OpTxnCommit has been
// written to WAL and synced.
func (tm *TxnManager) Commit(xid types.TransactionID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[xid]
	if !exists {
		if tm.clog[xid] == types.XidCommitted {
			return nil
		}
		return errors.Wrapf(ErrTxnNotActive, "commit of xid %d", xid)
	}

	txn.State = TxnCommitted
	tm.clog[xid] = types.XidCommitted
	delete(tm.activeTxns, xid)

	log.Debugf("COMMIT xid=%d", xid)
	return nil
}

// Abort marks a transaction aborted and returns it so the caller can hint
// the pages it touched. Called AFTER OpTxnAbort has been written to WAL.
func (tm *TxnManager) Abort(xid types.TransactionID) (*Transaction, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[xid]
	if !exists {
		if tm.clog[xid] == types.XidCommitted {
			return nil, errors.Wrapf(ErrTxnFinished, "abort of committed xid %d", xid)
		}
		return nil, errors.Wrapf(ErrTxnNotActive, "abort of xid %d", xid)
	}

	txn.State = TxnAborted
	tm.clog[xid] = types.XidAborted
	delete(tm.activeTxns, xid)

	log.Debugf("ABORT xid=%d touched=%d", xid, len(txn.Touched))
	return txn, nil
}

// Status reads the commit log. Transactions the log has never seen (older
// than the recovered range, or lost in a crash before commit) are aborted.
func (tm *TxnManager) Status(xid types.TransactionID) types.XidStatus {
	if xid == types.BootstrapTransactionID {
		return types.XidCommitted
	}
	if !xid.IsNormal() {
		return types.XidAborted
	}

	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if st, ok := tm.clog[xid]; ok {
		return st
	}
	if xid.Precedes(tm.nextID) {
		return types.XidAborted
	}
	return types.XidInProgress
}

// NonRemovableHorizon is the oldest xid any running transaction may still
// need to see as not yet finished.
func (tm *TxnManager) NonRemovableHorizon() types.TransactionID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	horizon := tm.nextID
	for id, txn := range tm.activeTxns {
		if id.Precedes(horizon) {
			horizon = id
		}
		if txn.Snapshot != nil && txn.Snapshot.Xmin.Precedes(horizon) {
			horizon = txn.Snapshot.Xmin
		}
	}
	return horizon
}

// IsRemovable reports whether every snapshot in use already sees xid as
// finished, so a version deleted by xid is invisible to all of them.
func (tm *TxnManager) IsRemovable(xid types.TransactionID) bool {
	return xid.Precedes(tm.NonRemovableHorizon())
}

// XidVisible reports whether snap sees the effects of xid.
func (tm *TxnManager) XidVisible(snap *Snapshot, xid types.TransactionID) bool {
	if xid == snap.CurrentXID {
		return true
	}
	if snap.XidInSnapshot(xid) {
		return false
	}
	return tm.Status(xid) == types.XidCommitted
}

// XidInSnapshot reports whether xid was still running (or not yet started)
// when the snapshot was taken.
func (s *Snapshot) XidInSnapshot(xid types.TransactionID) bool {
	if !xid.Precedes(s.Xmax) {
		return true
	}
	if xid.Precedes(s.Xmin) {
		return false
	}
	_, running := s.InProgress[xid]
	return running
}

// Touch remembers a page written by the transaction.
func (txn *Transaction) Touch(relID uint32, pageID int64) {
	for _, tp := range txn.Touched {
		if tp.RelID == relID && tp.PageID == pageID {
			return
		}
	}
	txn.Touched = append(txn.Touched, TouchedPage{RelID: relID, PageID: pageID})
}

// GetTransaction returns the active transaction with the given ID, or nil.
func (tm *TxnManager) GetTransaction(xid types.TransactionID) *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeTxns[xid]
}

func (tm *TxnManager) IsActive(xid types.TransactionID) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, exists := tm.activeTxns[xid]
	return exists
}

// ActiveTransactions returns a snapshot of all currently active transactions.
func (tm *TxnManager) ActiveTransactions() []*Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	txns := make([]*Transaction, 0, len(tm.activeTxns))
	for _, txn := range tm.activeTxns {
		txns = append(txns, txn)
	}
	return txns
}

func (tm *TxnManager) NextXID() types.TransactionID {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.nextID
}
