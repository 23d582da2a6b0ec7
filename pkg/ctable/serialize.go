// serialize.go implements §4.1/§6.3's bit-exact snapshot format:
//
//	[u32 size][u32 occupancy][u32 max_displacement][u8×16 hash_seed]
//	[f64 max_occupancy_rate][f64 min_occupancy_rate]
//	[entry × (size + max_displacement)]
//
// All integers little-endian; entry is (u32 hash, key_bytes,
// value_bytes). Only the live prefix of the backing array is written —
// no key can land past primaryIndex(h)+max_displacement, and the
// largest possible primaryIndex is size-1, so size+max_displacement
// slots cover every reachable entry without serializing the full
// 2*size overflow region.
package ctable

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/packetguard/dplane/internal/siphash"
)

// Save writes a bit-exact snapshot of the table to w (§4.1 "save(stream)").
func (t *Table[K, V]) Save(w io.Writer) error {
	var header [4 + 4 + 4 + 16 + 8 + 8]byte
	binary.LittleEndian.PutUint32(header[0:4], t.size)
	binary.LittleEndian.PutUint32(header[4:8], t.occupancy)
	binary.LittleEndian.PutUint32(header[8:12], t.maxDisplacement)
	seedBytes := t.seed.Bytes()
	copy(header[12:28], seedBytes[:])
	binary.LittleEndian.PutUint64(header[28:36], math.Float64bits(t.maxOccupancyRate))
	binary.LittleEndian.PutUint64(header[36:44], math.Float64bits(t.minOccupancyRate))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ctable: write header: %w", err)
	}

	keySize, valSize := t.codec.KeySize(), t.codec.ValueSize()
	entrySize := 4 + keySize + valSize
	live := t.size + t.maxDisplacement
	if live > uint32(len(t.entries)) {
		live = uint32(len(t.entries))
	}
	buf := make([]byte, entrySize)
	for i := uint32(0); i < live; i++ {
		e := t.entries[i]
		binary.LittleEndian.PutUint32(buf[0:4], e.hash)
		if e.hash != sentinelHash {
			t.codec.EncodeKey(e.key, buf[4:4+keySize])
			t.codec.EncodeValue(e.value, buf[4+keySize:])
		} else {
			for j := 4; j < len(buf); j++ {
				buf[j] = 0
			}
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("ctable: write entry %d: %w", i, err)
		}
	}
	t.metrics.incSave()
	return nil
}

// Load reconstructs a Table from a stream written by Save (§4.1
// "load(stream, key_type, value_type)").
func Load[K comparable, V any](r io.Reader, codec Codec[K, V], opts ...Option[K, V]) (*Table[K, V], error) {
	var header [4 + 4 + 4 + 16 + 8 + 8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("ctable: read header: %w", err)
	}
	size := binary.LittleEndian.Uint32(header[0:4])
	occupancy := binary.LittleEndian.Uint32(header[4:8])
	maxDisplacement := binary.LittleEndian.Uint32(header[8:12])
	var seedKey [16]byte
	copy(seedKey[:], header[12:28])
	maxOccRate := math.Float64frombits(binary.LittleEndian.Uint64(header[28:36]))
	minOccRate := math.Float64frombits(binary.LittleEndian.Uint64(header[36:44]))

	cfg := defaultConfig[K, V]()
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Table[K, V]{
		size:             size,
		maxDisplacement:  maxDisplacement,
		maxOccupancyRate: maxOccRate,
		minOccupancyRate: minOccRate,
		codec:            codec,
		logger:           cfg.logger,
		metrics:          cfg.metrics,
		keyScratch:       make([]byte, codec.KeySize()),
	}
	if cfg.seed != nil {
		t.seed = *cfg.seed
	} else {
		t.seed = siphash.NewSeed(seedKey)
	}
	t.entries = newEmptyEntries[K, V](2 * size)
	t.recomputeOccupancyBounds()

	keySize, valSize := codec.KeySize(), codec.ValueSize()
	entrySize := 4 + keySize + valSize
	live := size + maxDisplacement
	buf := make([]byte, entrySize)
	loaded := uint32(0)
	for i := uint32(0); i < live; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("ctable: read entry %d: %w", i, err)
		}
		h := binary.LittleEndian.Uint32(buf[0:4])
		if h == sentinelHash {
			continue
		}
		key := codec.DecodeKey(buf[4 : 4+keySize])
		value := codec.DecodeValue(buf[4+keySize:])
		t.entries[i] = entry[K, V]{hash: h, key: key, value: value}
		loaded++
	}
	t.occupancy = loaded
	if loaded != occupancy {
		t.logger.Warn("ctable: loaded occupancy differs from header",
			zap.Uint32("header_occupancy", occupancy), zap.Uint32("loaded_occupancy", loaded))
	}
	t.metrics.incLoad()
	t.metrics.setOccupancy(t.occupancy)
	t.metrics.setMaxDisplacement(t.maxDisplacement)
	return t, nil
}

// SaveFile durably writes the table to path using a rename-based
// atomic write (no torn snapshot files on crash), matching
// calvinalkan-agent-task's natefinch/atomic usage.
func (t *Table[K, V]) SaveFile(path string) error {
	tmp, err := os.CreateTemp("", "ctable-snapshot-*")
	if err != nil {
		return fmt.Errorf("ctable: create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := t.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ctable: close temp snapshot: %w", err)
	}
	f, err := os.Open(tmp.Name())
	if err != nil {
		return fmt.Errorf("ctable: reopen temp snapshot: %w", err)
	}
	defer f.Close()
	return atomic.WriteFile(path, f)
}

// LoadFile reads a snapshot written by SaveFile.
func LoadFile[K comparable, V any](path string, codec Codec[K, V], opts ...Option[K, V]) (*Table[K, V], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ctable: open snapshot: %w", err)
	}
	defer f.Close()
	return Load(f, codec, opts...)
}
