package reassembly

// metrics.go mirrors pkg/ctable/metrics.go's noop/Prometheus sink
// split, reshaped around the reassembler's own observables (completed
// reassemblies, dropped anomalies, capacity evictions).

import "github.com/prometheus/client_golang/prometheus"

type metricsSink interface {
	incComplete()
	incAnomaly()
	incCapacityExhausted()
	incEvict(reason string)
}

type noopMetrics struct{}

func (noopMetrics) incComplete()           {}
func (noopMetrics) incAnomaly()            {}
func (noopMetrics) incCapacityExhausted()  {}
func (noopMetrics) incEvict(string)        {}

type promMetrics struct {
	name               string
	complete           *prometheus.CounterVec
	anomaly            *prometheus.CounterVec
	capacityExhausted  *prometheus.CounterVec
	evictions          *prometheus.CounterVec
}

// NewPromMetrics builds a metricsSink registered against reg, labeled
// with name (e.g. the reassembler instance's name).
func NewPromMetrics(reg *prometheus.Registry, name string) metricsSink {
	label := []string{"reassembler"}
	evictLabel := []string{"reassembler", "reason"}
	pm := &promMetrics{
		name: name,
		complete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_reassembly", Name: "completed_total",
			Help: "Number of datagrams fully reassembled (REASSEMBLY_OK).",
		}, label),
		anomaly: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_reassembly", Name: "anomalies_total",
			Help: "Number of flows dropped for a structural fragment anomaly.",
		}, label),
		capacityExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_reassembly", Name: "capacity_exhausted_total",
			Help: "Number of times a new flow required evicting an existing one.",
		}, label),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_reassembly", Name: "evictions_total",
			Help: "Number of per-flow buffers freed, labeled by reason.",
		}, evictLabel),
	}
	reg.MustRegister(pm.complete, pm.anomaly, pm.capacityExhausted, pm.evictions)
	return pm
}

func (m *promMetrics) incComplete()          { m.complete.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incAnomaly()           { m.anomaly.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incCapacityExhausted() { m.capacityExhausted.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incEvict(reason string) {
	m.evictions.WithLabelValues(m.name, reason).Inc()
}
