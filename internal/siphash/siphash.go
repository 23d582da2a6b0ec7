// Package siphash implements the keyed hash CTable uses for key
// indexing (spec §4.1): SipHash with c=1 compression round and d=2
// finalization rounds ("SipHash-1-2"), seeded by a 128-bit key owned
// per-table. The sentinel hash value (all-ones, see ctable.Sentinel)
// is never produced: a colliding output is re-hashed with a fixed
// tweak until it differs.
//
// This mirrors the *use pattern* of hash/maphash in the teacher's
// pkg/cache.go shard.hash (one seed per table instance, a type-switch
// fast path for common key shapes) but hash/maphash cannot serve here:
// it exposes neither the round counts nor a 128-bit seed, and its
// output is not guaranteed stable enough for the deterministic-seed
// test mode spec §6.6 requires.
//
// © 2025 dplane authors. MIT License.
package siphash

import "encoding/binary"

// Seed is the 128-bit keyed state for one table's hash function.
type Seed struct {
	k0, k1 uint64
}

// NewSeed builds a Seed from 16 raw key bytes (spec §3.2 "hash_seed
// (128 bits)").
func NewSeed(key [16]byte) Seed {
	return Seed{
		k0: binary.LittleEndian.Uint64(key[0:8]),
		k1: binary.LittleEndian.Uint64(key[8:16]),
	}
}

// Bytes returns the 16-byte little-endian encoding of the seed, for
// CTable's serialization format (§4.1).
func (s Seed) Bytes() [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], s.k0)
	binary.LittleEndian.PutUint64(out[8:16], s.k1)
	return out
}

const sentinel = 0xFFFFFFFF

func rotl(x uint64, b uint) uint64 { return (x << b) | (x >> (64 - b)) }

func round(v0, v1, v2, v3 *uint64) {
	*v0 += *v1
	*v1 = rotl(*v1, 13)
	*v1 ^= *v0
	*v0 = rotl(*v0, 32)
	*v2 += *v3
	*v3 = rotl(*v3, 16)
	*v3 ^= *v2
	*v0 += *v3
	*v3 = rotl(*v3, 21)
	*v3 ^= *v0
	*v2 += *v1
	*v1 = rotl(*v1, 17)
	*v1 ^= *v2
	*v2 = rotl(*v2, 32)
}

// sum64 computes SipHash-1-2 over data keyed by the seed.
func (s Seed) sum64(data []byte) uint64 {
	v0 := uint64(0x736f6d6570736575) ^ s.k0
	v1 := uint64(0x646f72616e646f6d) ^ s.k1
	v2 := uint64(0x6c7967656e657261) ^ s.k0
	v3 := uint64(0x7465646279746573) ^ s.k1

	n := len(data)
	end := n - (n % 8)

	for i := 0; i < end; i += 8 {
		m := binary.LittleEndian.Uint64(data[i : i+8])
		v3 ^= m
		round(&v0, &v1, &v2, &v3) // c=1
		v0 ^= m
	}

	var last [8]byte
	copy(last[:], data[end:])
	last[7] = byte(n)
	m := binary.LittleEndian.Uint64(last[:])
	v3 ^= m
	round(&v0, &v1, &v2, &v3)
	v0 ^= m

	v2 ^= 0xff
	round(&v0, &v1, &v2, &v3) // d=2
	round(&v0, &v1, &v2, &v3)

	return v0 ^ v1 ^ v2 ^ v3
}

// Hash32 returns the 32-bit index hash used by CTable, never equal to
// the sentinel (§3.2 "The sentinel hash value ... is never produced").
func (s Seed) Hash32(data []byte) uint32 {
	h := uint32(s.sum64(data))
	for h == sentinel {
		// Re-hash with a fixed tweak appended; astronomically unlikely
		// to loop more than once in practice.
		h = uint32(s.sum64(append(append([]byte{}, data...), 0xA5)))
	}
	return h
}

// BatchHash32 hashes width independent keys in one call — the first of
// the streaming lookup's three passes (§4.1). Each key is hashed in turn
// with Hash32, so the result equals pointwise hashing and no setup work
// is shared across the batch. Each keys[i] must have identical length.
func (s Seed) BatchHash32(keys [][]byte) []uint32 {
	out := make([]uint32, len(keys))
	for i, k := range keys {
		out[i] = s.Hash32(k)
	}
	return out
}
