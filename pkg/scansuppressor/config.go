package scansuppressor

import (
	"net/netip"

	"go.uber.org/zap"
)

// Option configures a ScanSuppressor at construction, following
// pkg/ctable's functional-options shape (itself the teacher's
// pkg/config.go idiom generalized).
type Option func(*config)

type config struct {
	insideNetwork     netip.Prefix
	blockThreshold    int16
	cMin, cMax        int16
	dMissTicks        uint32
	ageIntervalTicks  uint32
	dConnTicks        uint8
	nConn             uint32
	nAddr             uint32
	bigpageThreshold  int
	logger            *zap.Logger
	metrics           metricsSink
}

func defaultConfig() config {
	return config{
		blockThreshold:   5,
		cMin:             -5,
		cMax:             32767,
		dMissTicks:       1,
		ageIntervalTicks: 1,
		dConnTicks:       60,
		nConn:            1_000_000,
		nAddr:            1_000_000,
		logger:           zap.NewNop(),
		metrics:          noopMetrics{},
	}
}

// WithInsideNetwork sets the trusted network the classifier's
// direction programs test membership against (§4.3 "inside_network").
func WithInsideNetwork(network netip.Prefix) Option {
	return func(c *config) { c.insideNetwork = network }
}

// WithBlockThreshold overrides the default block threshold T=5 (§3.4).
func WithBlockThreshold(t int16) Option {
	return func(c *config) { c.blockThreshold = t }
}

// WithCountRange overrides the default count clamp [-5, +inf) (§3.4).
// cMax has no true infinity in a fixed-width counter. Writes of a count
// at or above cMax, or at or below cMin, are ignored, so stored counts
// stay strictly between the two.
func WithCountRange(cMin, cMax int16) Option {
	return func(c *config) { c.cMin, c.cMax = cMin, cMax }
}

// WithTickIntervals overrides the decay/aging tick periods (§4.3
// "d_miss_ticks", "age_interval_ticks", "d_conn_ticks").
func WithTickIntervals(dMissTicks, ageIntervalTicks uint32, dConnTicks uint8) Option {
	return func(c *config) {
		c.dMissTicks = dMissTicks
		c.ageIntervalTicks = ageIntervalTicks
		c.dConnTicks = dConnTicks
	}
}

// WithCacheSizes overrides the default N_CONN/N_ADDR cache sizes
// (1,000,000 each per §3.3/§3.4) — primarily for tests.
func WithCacheSizes(nConn, nAddr uint32) Option {
	return func(c *config) { c.nConn, c.nAddr = nConn, nAddr }
}

// WithBigpageThreshold overrides the size above which the connection
// and address cache backing slabs attempt a hugepage mapping (§5,
// internal/bigpage.DefaultThreshold otherwise).
func WithBigpageThreshold(bytes int) Option {
	return func(c *config) { c.bigpageThreshold = bytes }
}

// WithLogger plugs an external zap.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics for this instance.
func WithMetrics(sink metricsSink) Option {
	return func(c *config) {
		if sink != nil {
			c.metrics = sink
		}
	}
}
