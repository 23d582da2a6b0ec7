package ctable

// metrics.go mirrors the teacher's pkg/metrics.go noop/Prometheus sink
// split, reshaped around CTable's own observables (occupancy,
// max_displacement, resizes) instead of cache hit/miss/eviction
// counters.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	setOccupancy(v uint32)
	setMaxDisplacement(v uint32)
	incResize()
	incSave()
	incLoad()
}

type noopMetrics struct{}

func (noopMetrics) setOccupancy(uint32)       {}
func (noopMetrics) setMaxDisplacement(uint32) {}
func (noopMetrics) incResize()                {}
func (noopMetrics) incSave()                  {}
func (noopMetrics) incLoad()                  {}

// promMetrics is a metricsSink backed by Prometheus, labeled by table
// name so multiple tables (e.g. several fragment tables) can share one
// registry.
type promMetrics struct {
	name            string
	occupancy       *prometheus.GaugeVec
	maxDisplacement *prometheus.GaugeVec
	resizes         *prometheus.CounterVec
	saves           *prometheus.CounterVec
	loads           *prometheus.CounterVec
}

// NewPromMetrics builds a metricsSink registered against reg, labeled
// with name. Pass the result to WithMetrics.
func NewPromMetrics(reg *prometheus.Registry, name string) metricsSink {
	label := []string{"table"}
	pm := &promMetrics{
		name: name,
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dplane_ctable",
			Name:      "occupancy",
			Help:      "Current number of occupied slots.",
		}, label),
		maxDisplacement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dplane_ctable",
			Name:      "max_displacement",
			Help:      "Largest probe displacement observed since construction or last resize.",
		}, label),
		resizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_ctable",
			Name:      "resizes_total",
			Help:      "Number of grow/shrink resizes.",
		}, label),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_ctable",
			Name:      "saves_total",
			Help:      "Number of completed Save/SaveFile calls.",
		}, label),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_ctable",
			Name:      "loads_total",
			Help:      "Number of completed Load/LoadFile calls.",
		}, label),
	}
	reg.MustRegister(pm.occupancy, pm.maxDisplacement, pm.resizes, pm.saves, pm.loads)
	return pm
}

func (m *promMetrics) setOccupancy(v uint32) {
	m.occupancy.WithLabelValues(m.name).Set(float64(v))
}
func (m *promMetrics) setMaxDisplacement(v uint32) {
	m.maxDisplacement.WithLabelValues(m.name).Set(float64(v))
}
func (m *promMetrics) incResize() { m.resizes.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incSave()   { m.saves.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incLoad()   { m.loads.WithLabelValues(m.name).Inc() }
