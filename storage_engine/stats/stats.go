package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink receives space reclamation reports from pruning.
type Sink interface {
	ReportReclaimed(relID uint32, n int)
}

// PruneMetrics is the prometheus-backed Sink plus a few counters the
// pruner and vacuum update directly.
type PruneMetrics struct {
	Reclaimed    *prometheus.CounterVec
	PagesPruned  *prometheus.CounterVec
	PruneSkipped *prometheus.CounterVec
	SlotsFreed   *prometheus.CounterVec
}

// NewPruneMetrics registers the metrics with reg. A nil reg leaves them
// unregistered, which is what tests and tools usually want.
func NewPruneMetrics(reg prometheus.Registerer) *PruneMetrics {
	m := &PruneMetrics{
		Reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prunedb",
			Name:      "tuples_reclaimed_total",
			Help:      "Row versions removed by opportunistic pruning, net of new dead line pointers",
		}, []string{"relation"}),
		PagesPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prunedb",
			Name:      "pages_pruned_total",
			Help:      "Prune passes that changed a page",
		}, []string{"relation"}),
		PruneSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prunedb",
			Name:      "prune_skipped_total",
			Help:      "Opportunistic prune attempts skipped, by reason",
		}, []string{"reason"}),
		SlotsFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prunedb",
			Name:      "dead_slots_released_total",
			Help:      "Dead line pointers returned to unused by vacuum",
		}, []string{"relation"}),
	}
	if reg != nil {
		reg.MustRegister(m.Reclaimed, m.PagesPruned, m.PruneSkipped, m.SlotsFreed)
	}
	return m
}

func relLabel(relID uint32) string {
	return strconv.FormatUint(uint64(relID), 10)
}

func (m *PruneMetrics) ReportReclaimed(relID uint32, n int) {
	if n <= 0 {
		return
	}
	m.Reclaimed.WithLabelValues(relLabel(relID)).Add(float64(n))
}

func (m *PruneMetrics) PagePruned(relID uint32) {
	m.PagesPruned.WithLabelValues(relLabel(relID)).Inc()
}

func (m *PruneMetrics) Skipped(reason string) {
	m.PruneSkipped.WithLabelValues(reason).Inc()
}

func (m *PruneMetrics) SlotsReleased(relID uint32, n int) {
	if n <= 0 {
		return
	}
	m.SlotsFreed.WithLabelValues(relLabel(relID)).Add(float64(n))
}
