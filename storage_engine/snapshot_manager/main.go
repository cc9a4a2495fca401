package snapshot

import (
	"time"

	"PruneDB/logger"
	"PruneDB/types"

	"github.com/pkg/errors"
)

var log = logger.Component("snapshot")

func NewManager(threshold time.Duration, opts ...Option) *Manager {
	m := &Manager{
		threshold:  threshold,
		resolution: time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Active reports whether the threshold is enabled.
func (m *Manager) Active() bool {
	return m.threshold >= 0
}

func (m *Manager) Threshold() time.Duration {
	return m.threshold
}

// RecordSnapshot feeds the time map. Xmins only grow over time, so each
// bucket keeps the largest one seen.
func (m *Manager) RecordSnapshot(takenAt time.Time, xmin types.TransactionID) {
	if !m.Active() {
		return
	}
	bucket := takenAt.Truncate(m.resolution)

	m.mapMu.Lock()
	defer m.mapMu.Unlock()

	if n := len(m.timeMap); n > 0 {
		last := &m.timeMap[n-1]
		switch {
		case last.bucket.Equal(bucket):
			if xmin.Follows(last.xmin) {
				last.xmin = xmin
			}
			return
		case bucket.Before(last.bucket):
			// late report from a slow goroutine, fold it into its bucket
			for i := n - 1; i >= 0; i-- {
				if !m.timeMap[i].bucket.After(bucket) {
					if xmin.Follows(m.timeMap[i].xmin) {
						m.timeMap[i].xmin = xmin
					}
					return
				}
			}
			return
		}
	}
	m.timeMap = append(m.timeMap, timeXmin{bucket: bucket, xmin: xmin})
	m.trimLocked(takenAt)
}

// trimLocked drops buckets that can no longer be a lookup result.
func (m *Manager) trimLocked(now time.Time) {
	limit := now.Add(-m.threshold - m.resolution)
	keep := 0
	for keep < len(m.timeMap)-1 && m.timeMap[keep+1].bucket.Before(limit) {
		keep++
	}
	if keep > 0 {
		m.timeMap = append(m.timeMap[:0], m.timeMap[keep:]...)
	}
}

// LimitedHorizon returns a more aggressive removal horizon for rel: the
// xmin that was current threshold ago. ok is false if the threshold is off,
// rel is not eligible, or the limit is not newer than base.
func (m *Manager) LimitedHorizon(base types.TransactionID, rel *types.RelationDef) (types.TransactionID, time.Time, bool) {
	if !m.Active() || (rel != nil && rel.IsCatalog) {
		return types.InvalidTransactionID, time.Time{}, false
	}

	now := m.now()
	limitTs := now.Add(-m.threshold)

	var limit types.TransactionID
	if m.threshold == 0 && m.latestXID != nil {
		limit = m.latestXID()
	} else {
		limit = m.lookup(limitTs)
	}

	if !limit.IsValid() || !limit.Follows(base) {
		return types.InvalidTransactionID, time.Time{}, false
	}
	return limit, limitTs, true
}

// lookup returns the xmin of the newest bucket at or before ts.
func (m *Manager) lookup(ts time.Time) types.TransactionID {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()

	found := types.InvalidTransactionID
	for _, e := range m.timeMap {
		if e.bucket.After(ts) {
			break
		}
		found = e.xmin
	}
	return found
}

// TryEscalate advances the latch to (xid, ts). It returns false when the
// latch is already at or past ts.
func (m *Manager) TryEscalate(xid types.TransactionID, ts time.Time) bool {
	return m.latch.tryAdvance(xid, ts)
}

func (l *ThresholdLatch) tryAdvance(xid types.TransactionID, ts time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !ts.After(l.ts) {
		if ts.Equal(l.ts) && xid.Follows(l.xid) {
			l.xid = xid
		}
		return false
	}
	l.ts = ts
	if xid.Follows(l.xid) {
		l.xid = xid
	}
	log.Debugf("old snapshot threshold latched ts=%s xid=%d", ts.Format(time.RFC3339), l.xid)
	return true
}

// Latched returns the current latch position; zero time when never set.
func (m *Manager) Latched() (types.TransactionID, time.Time) {
	m.latch.mu.Lock()
	defer m.latch.mu.Unlock()
	return m.latch.xid, m.latch.ts
}

// CheckSnapshot fails a read with ErrSnapshotTooOld when a snapshot taken
// before the latch looks at a page modified after the snapshot.
func (m *Manager) CheckSnapshot(takenAt time.Time, snapshotLSN, pageLSN uint64) error {
	if !m.Active() || pageLSN <= snapshotLSN {
		return nil
	}
	_, latched := m.Latched()
	if latched.IsZero() || !takenAt.Before(latched) {
		return nil
	}
	return errors.Wrapf(ErrSnapshotTooOld, "snapshot taken %s, cutoff %s",
		takenAt.Format(time.RFC3339), latched.Format(time.RFC3339))
}
