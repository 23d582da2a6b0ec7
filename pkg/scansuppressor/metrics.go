package scansuppressor

// metrics.go mirrors pkg/ctable/metrics.go and pkg/reassembly/metrics.go's
// noop/Prometheus sink split, reshaped around the scanner's own
// observables (forwarded, dropped, blocked-source, address/connection
// cache eviction and aging activity).

import "github.com/prometheus/client_golang/prometheus"

type metricsSink interface {
	incForward()
	incDrop(reason string)
	incAddrEvict()
	incConnAged()
}

type noopMetrics struct{}

func (noopMetrics) incForward()        {}
func (noopMetrics) incDrop(string)     {}
func (noopMetrics) incAddrEvict()      {}
func (noopMetrics) incConnAged()       {}

type promMetrics struct {
	name      string
	forwarded *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	addrEvict *prometheus.CounterVec
	connAged  *prometheus.CounterVec
}

// NewPromMetrics builds a metricsSink registered against reg, labeled
// with name (e.g. the scanner instance's name).
func NewPromMetrics(reg *prometheus.Registry, name string) metricsSink {
	label := []string{"scansuppressor"}
	dropLabel := []string{"scansuppressor", "reason"}
	pm := &promMetrics{
		name: name,
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_scansuppressor", Name: "forwarded_total",
			Help: "Number of packets forwarded.",
		}, label),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_scansuppressor", Name: "dropped_total",
			Help: "Number of packets dropped, labeled by reason.",
		}, dropLabel),
		addrEvict: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_scansuppressor", Name: "address_cache_evictions_total",
			Help: "Number of address-cache way evictions (line full, no tag match).",
		}, label),
		connAged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dplane_scansuppressor", Name: "connection_cache_aged_total",
			Help: "Number of connection-cache aging sweeps run.",
		}, label),
	}
	reg.MustRegister(pm.forwarded, pm.dropped, pm.addrEvict, pm.connAged)
	return pm
}

func (m *promMetrics) incForward()    { m.forwarded.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incDrop(reason string) {
	m.dropped.WithLabelValues(m.name, reason).Inc()
}
func (m *promMetrics) incAddrEvict() { m.addrEvict.WithLabelValues(m.name).Inc() }
func (m *promMetrics) incConnAged()  { m.connAged.WithLabelValues(m.name).Inc() }
