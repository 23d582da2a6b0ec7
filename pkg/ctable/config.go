package ctable

import (
	"crypto/rand"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/packetguard/dplane/internal/siphash"
)

// Option configures a Table at construction, following the teacher's
// config.go functional-options shape.
type Option[K comparable, V any] func(*config[K, V])

type config[K comparable, V any] struct {
	seed                               *siphash.Seed
	maxOccupancyRate, minOccupancyRate float64
	logger                             *zap.Logger
	metrics                            metricsSink
}

func defaultConfig[K comparable, V any]() config[K, V] {
	return config[K, V]{
		maxOccupancyRate: 0.9,
		minOccupancyRate: 0.2,
		logger:           zap.NewNop(),
		metrics:          noopMetrics{},
	}
}

// WithSeed sets the table's initial hash seed, overriding RANDOM_SEED/
// random derivation (§6.6). Mostly useful for deterministic tests. The
// seed holds until the first resize, which draws a new one from
// RANDOM_SEED or at random.
func WithSeed[K comparable, V any](key [16]byte) Option[K, V] {
	return func(c *config[K, V]) {
		s := siphash.NewSeed(key)
		c.seed = &s
	}
}

// WithLogger plugs an external zap.Logger. CTable never logs on the
// hot path (add/lookup/remove); only resizes and anomalies are logged,
// matching the teacher's "never log on the hot path" rule.
func WithLogger[K comparable, V any](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics for this table, labeled by
// name (e.g. "fragment-table").
func WithMetrics[K comparable, V any](sink metricsSink) Option[K, V] {
	return func(c *config[K, V]) {
		if sink != nil {
			c.metrics = sink
		}
	}
}

// WithOccupancyRates overrides the default 0.9/0.2 max/min occupancy
// rates that trigger grow/shrink (§3.2).
func WithOccupancyRates[K comparable, V any](maxRate, minRate float64) Option[K, V] {
	return func(c *config[K, V]) {
		c.maxOccupancyRate = maxRate
		c.minOccupancyRate = minRate
	}
}

// seedFromEnvOrRandom implements §6.6: RANDOM_SEED forces deterministic
// siphash seeding for test reproducibility; otherwise a fresh random
// seed is drawn (§9 "per-table seeding... re-randomized on resize").
func seedFromEnvOrRandom() siphash.Seed {
	if v, ok := os.LookupEnv("RANDOM_SEED"); ok {
		return deterministicSeedFromString(v)
	}
	return randomSeed()
}

func deterministicSeedFromString(v string) siphash.Seed {
	var key [16]byte
	h := uint64(1469598103934665603) // FNV offset basis
	for i := 0; i < len(v); i++ {
		h ^= uint64(v[i])
		h *= 1099511628211
	}
	for i := 0; i < 8; i++ {
		key[i] = byte(h >> (8 * i))
		key[8+i] = byte((h * 0x9E3779B97F4A7C15) >> (8 * i))
	}
	return siphash.NewSeed(key)
}

func randomSeed() siphash.Seed {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// a time-derived seed rather than leaving the table unseeded.
		return deterministicSeedFromString(strconv.FormatInt(time.Now().UnixNano(), 10))
	}
	return siphash.NewSeed(key)
}
