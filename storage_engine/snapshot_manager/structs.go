package snapshot

import (
	"sync"
	"time"

	"PruneDB/types"

	"github.com/pkg/errors"
)

var ErrSnapshotTooOld = errors.New("snapshot too old")

// Disabled turns the old-snapshot threshold off.
const Disabled time.Duration = -1

// timeXmin is the newest snapshot xmin seen during one bucket.
type timeXmin struct {
	bucket time.Time
	xmin   types.TransactionID
}

// ThresholdLatch is the process-wide cutoff set when pruning removed rows
// that old snapshots could still have needed. It only moves forward.
type ThresholdLatch struct {
	ts  time.Time
	xid types.TransactionID
	mu  sync.Mutex
}

// Manager implements the old-snapshot threshold: once a snapshot is older
// than the threshold, pruning may ignore it, and the snapshot fails with
// ErrSnapshotTooOld if it reads a page changed after the latch was set.
type Manager struct {
	threshold  time.Duration
	resolution time.Duration
	now        func() time.Time
	latestXID  func() types.TransactionID

	timeMap []timeXmin // ascending buckets
	mapMu   sync.Mutex

	latch ThresholdLatch
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithResolution sets the bucket width of the time map.
func WithResolution(d time.Duration) Option {
	return func(m *Manager) { m.resolution = d }
}

// WithLatestXID supplies the next xid to be assigned; with a zero threshold
// everything older is fair game.
func WithLatestXID(fn func() types.TransactionID) Option {
	return func(m *Manager) { m.latestXID = fn }
}
