package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestReportReclaimed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPruneMetrics(reg)

	m.ReportReclaimed(3, 5)
	m.ReportReclaimed(3, 2)
	m.ReportReclaimed(3, 0)
	m.ReportReclaimed(4, -1)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.Reclaimed.WithLabelValues("3")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Reclaimed.WithLabelValues("4")))
}

func TestCountersRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPruneMetrics(reg)

	m.PagePruned(1)
	m.Skipped("lock_busy")
	m.SlotsReleased(1, 3)

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SlotsFreed.WithLabelValues("1")))
}
