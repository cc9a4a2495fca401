package snapshot

import (
	"sync"
	"testing"
	"time"

	"PruneDB/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{cur: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestDisabledThreshold(t *testing.T) {
	m := NewManager(Disabled)
	assert.False(t, m.Active())
	m.RecordSnapshot(time.Now(), 10)
	_, _, ok := m.LimitedHorizon(2, nil)
	assert.False(t, ok)
	assert.NoError(t, m.CheckSnapshot(time.Time{}, 0, 100))
}

func TestLimitedHorizonUsesTimeMap(t *testing.T) {
	clock := newClock()
	m := NewManager(5*time.Minute, WithClock(clock.Now))

	m.RecordSnapshot(clock.Now(), 10)
	clock.Advance(2 * time.Minute)
	m.RecordSnapshot(clock.Now(), 20)
	clock.Advance(5 * time.Minute)
	m.RecordSnapshot(clock.Now(), 30)

	// now-5m falls in the second bucket
	limit, ts, ok := m.LimitedHorizon(5, &types.RelationDef{ID: 1})
	require.True(t, ok)
	assert.Equal(t, types.TransactionID(20), limit)
	assert.Equal(t, clock.Now().Add(-5*time.Minute), ts)

	// not newer than the primary horizon: nothing gained
	_, _, ok = m.LimitedHorizon(25, &types.RelationDef{ID: 1})
	assert.False(t, ok)

	// catalog relations never use the threshold
	_, _, ok = m.LimitedHorizon(5, &types.RelationDef{ID: 2, IsCatalog: true})
	assert.False(t, ok)
}

func TestZeroThresholdUsesLatestXID(t *testing.T) {
	m := NewManager(0, WithLatestXID(func() types.TransactionID { return 42 }))
	limit, _, ok := m.LimitedHorizon(3, nil)
	require.True(t, ok)
	assert.Equal(t, types.TransactionID(42), limit)
}

func TestLatchIsMonotonic(t *testing.T) {
	clock := newClock()
	m := NewManager(time.Minute, WithClock(clock.Now))

	t0 := clock.Now()
	assert.True(t, m.TryEscalate(10, t0))
	assert.False(t, m.TryEscalate(5, t0.Add(-time.Second)))
	assert.False(t, m.TryEscalate(12, t0))

	xid, ts := m.Latched()
	assert.Equal(t, types.TransactionID(12), xid)
	assert.Equal(t, t0, ts)

	assert.True(t, m.TryEscalate(11, t0.Add(time.Second)))
	xid, _ = m.Latched()
	assert.Equal(t, types.TransactionID(12), xid, "xid never moves backwards")
}

func TestLatchConcurrentEscalation(t *testing.T) {
	m := NewManager(time.Minute)
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.TryEscalate(types.TransactionID(i+2), base.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	xid, ts := m.Latched()
	assert.Equal(t, types.TransactionID(33), xid)
	assert.Equal(t, base.Add(31*time.Millisecond), ts)
}

func TestSnapshotTooOld(t *testing.T) {
	clock := newClock()
	m := NewManager(time.Minute, WithClock(clock.Now))

	taken := clock.Now()
	clock.Advance(10 * time.Minute)
	m.TryEscalate(50, clock.Now().Add(-time.Minute))

	err := m.CheckSnapshot(taken, 100, 200)
	assert.True(t, errors.Is(err, ErrSnapshotTooOld))

	// page unchanged since the snapshot: still fine
	assert.NoError(t, m.CheckSnapshot(taken, 200, 200))
	// snapshot newer than the cutoff
	assert.NoError(t, m.CheckSnapshot(clock.Now(), 100, 200))
}
