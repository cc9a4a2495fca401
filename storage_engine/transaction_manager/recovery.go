package txn

import "PruneDB/types"

// Recovery rebuilds the commit log from WAL transaction records. Between
// BeginRecovery and FinishRecovery nothing may call Begin.

func (tm *TxnManager) BeginRecovery(nextXID types.TransactionID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if nextXID.Follows(tm.nextID) {
		tm.nextID = nextXID
	}
}

func (tm *TxnManager) RecordStatus(xid types.TransactionID, status types.XidStatus) {
	if !xid.IsNormal() {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if cur, ok := tm.clog[xid]; ok && cur != types.XidInProgress {
		return
	}
	tm.clog[xid] = status
	if !xid.Precedes(tm.nextID) {
		tm.nextID = xid + 1
	}
}

// FinishRecovery aborts every transaction the WAL shows as begun but never
// finished, and returns their ids.
func (tm *TxnManager) FinishRecovery() []types.TransactionID {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var aborted []types.TransactionID
	for xid, st := range tm.clog {
		if st == types.XidInProgress {
			if _, live := tm.activeTxns[xid]; !live {
				tm.clog[xid] = types.XidAborted
				aborted = append(aborted, xid)
			}
		}
	}
	log.Infof("recovery finished: nextXID=%d, %d unfinished transaction(s) aborted", tm.nextID, len(aborted))
	return aborted
}
