// Package ctable implements the Robin-Hood open-addressed hash table
// (spec §3.2, §4.1): bounded-displacement linear probing, backward-shift
// deletion, streaming multi-key lookup, and a bit-exact serialization
// format. CTable backs the fragment table (pkg/reassembly) and is the
// largest single component of this module.
//
// Keys and values are "plain byte records with fixed size known at
// table construction" (§3.2); a Codec gives the table that fixed-size
// byte view for hashing and serialization while letting the live table
// hold ordinary Go values (an ordinary GC-managed []entry slice, the
// same shape the teacher's shard.index keeps; unlike the scanner's
// fixed-layout caches, this table does not put its entries behind
// internal/bigpage).
//
// © 2025 dplane authors. MIT License.
package ctable

import (
	"go.uber.org/zap"

	"github.com/packetguard/dplane/internal/siphash"
)

const sentinelHash = uint32(0xFFFFFFFF)

// Codec gives Table a fixed-size byte view of K and V, used both for
// hashing (§4.1 "equal_fn derived from key size") and for the
// bit-exact serialization format (§4.1, §6.3).
type Codec[K comparable, V any] interface {
	KeySize() int
	ValueSize() int
	EncodeKey(k K, dst []byte)
	DecodeKey(src []byte) K
	EncodeValue(v V, dst []byte)
	DecodeValue(src []byte) V
}

// Mode selects add's behavior on an existing key (§4.1).
type Mode int

const (
	ModeInsertOnly Mode = iota
	ModeAllowUpdate
	ModeRequireExisting
)

type entry[K comparable, V any] struct {
	hash  uint32
	key   K
	value V
}

// Table is a Robin-Hood open-addressed hash table over fixed-size keys
// and values.
type Table[K comparable, V any] struct {
	entries []entry[K, V]
	size    uint32 // primary bucket count; backing array is 2*size
	occupancy uint32
	maxDisplacement uint32
	occupancyHi, occupancyLo uint32
	maxOccupancyRate, minOccupancyRate float64
	seed siphash.Seed
	gen  uint64

	codec   Codec[K, V]
	logger  *zap.Logger
	metrics metricsSink

	keyScratch []byte
}

// New constructs a Table sized for initialSize primary buckets (§4.1
// "new(key_type, value_type, initial_size, max_occupancy, min_occupancy,
// hash_seed?)").
func New[K comparable, V any](codec Codec[K, V], initialSize uint32, opts ...Option[K, V]) *Table[K, V] {
	if initialSize == 0 {
		initialSize = 1
	}
	cfg := defaultConfig[K, V]()
	for _, opt := range opts {
		opt(&cfg)
	}
	seed := cfg.seed
	if seed == nil {
		s := seedFromEnvOrRandom()
		seed = &s
	}
	t := &Table[K, V]{
		size:             initialSize,
		seed:             *seed,
		maxOccupancyRate: cfg.maxOccupancyRate,
		minOccupancyRate: cfg.minOccupancyRate,
		codec:            codec,
		logger:           cfg.logger,
		metrics:          cfg.metrics,
		keyScratch:       make([]byte, codec.KeySize()),
	}
	t.entries = newEmptyEntries[K, V](2 * initialSize)
	t.recomputeOccupancyBounds()
	t.metrics.setOccupancy(0)
	t.metrics.setMaxDisplacement(0)
	return t
}

func newEmptyEntries[K comparable, V any](n uint32) []entry[K, V] {
	es := make([]entry[K, V], n)
	for i := range es {
		es[i].hash = sentinelHash
	}
	return es
}

func (t *Table[K, V]) recomputeOccupancyBounds() {
	t.occupancyHi = uint32(float64(t.size) * t.maxOccupancyRate)
	t.occupancyLo = uint32(float64(t.size) * t.minOccupancyRate)
}

func (t *Table[K, V]) primaryIndex(h uint32) uint32 {
	return uint32((uint64(h) * uint64(t.size)) >> 32)
}

func (t *Table[K, V]) hashKey(key K) uint32 {
	t.codec.EncodeKey(key, t.keyScratch)
	return t.seed.Hash32(t.keyScratch)
}

// Len reports the table's occupancy.
func (t *Table[K, V]) Len() uint32 { return t.occupancy }

// Size reports the primary bucket count.
func (t *Table[K, V]) Size() uint32 { return t.size }

// MaxDisplacement reports the largest displacement observed since
// construction or the last resize (§3.2, §8 invariant 2). Never
// decreased by Remove (§4.1 "documented limitation").
func (t *Table[K, V]) MaxDisplacement() uint32 { return t.maxDisplacement }
