package scansuppressor

// connstate.go implements the per-(source,destination,port) connection
// cache (spec §3.3): N_CONN slots packed to one byte each, indexed by a
// keyed hash of the flow tuple. Collisions between unrelated flows are
// tolerated by design — a false "already seen" only suppresses a scan
// count increment, never causes an incorrect block.

import (
	"encoding/binary"

	"github.com/packetguard/dplane/internal/bigpage"
	"github.com/packetguard/dplane/internal/siphash"
)

const (
	connInToOut  = 1 << 0
	connOutToIn  = 1 << 1
	connAgeShift = 2
	connAgeMask  = 0x3F // 6 bits, 0-63
	connAgeMax   = 0x3F
)

type connCache struct {
	seed  siphash.Seed
	slots []byte
	block *bigpage.Block
}

func newConnCache(n uint32, seed siphash.Seed, threshold int) *connCache {
	if n == 0 {
		n = 1
	}
	block := bigpage.Alloc(int(n), threshold)
	return &connCache{seed: seed, slots: block.Bytes(), block: block}
}

func (c *connCache) free() { c.block.Free() }

// index computes the connection-cache slot for the flow (addrA, addrB,
// port) (spec §3.3: "murmur3_128(src_ip‖dst_ip‖src_port, seed=boot_ns)
// mod N_CONN"). This module uses the table's own seeded SipHash-1-2
// instead of murmur3: both are non-cryptographic, seeded, avalanching
// hashes suitable for scattering approximate-cache keys, and reusing
// internal/siphash avoids adding a second hash-family dependency for a
// cache that, like CTable, only needs collision-scattering, not a
// specific algorithm (spec is explicit the choice is illustrative:
// "e.g.").
//
// addrA/addrB are canonicalized to (lo, hi) order before hashing (spec
// §6.2 "Flow key is always in (lo, hi) form... gives bidirectional
// identity with a single key"): the literal §4.3 pseudocode hashes
// "src, dst, src_port" as seen by whichever direction-handler is
// running, but the two directions of one TCP/UDP flow see different
// src/dst and different port values (a reply's source port is the
// remote service's port, not the original client's). Dispatch always
// passes the inside endpoint's own port as port, which is the one
// constant across both legs (see handleInside/handleOutside in
// scansuppressor.go), and this function sorts the two addresses so the
// bucket itself is direction-independent.
func (c *connCache) index(addrA, addrB uint32, port uint16) uint32 {
	lo, hi := addrA, addrB
	if hi < lo {
		lo, hi = hi, lo
	}
	var key [10]byte
	binary.BigEndian.PutUint32(key[0:4], lo)
	binary.BigEndian.PutUint32(key[4:8], hi)
	binary.BigEndian.PutUint16(key[8:10], port)
	h := c.seed.Hash32(key[:])
	return h % uint32(len(c.slots))
}

func (c *connCache) entry(idx uint32) *byte { return &c.slots[idx] }

func connInToOutSet(b byte) bool { return b&connInToOut != 0 }
func connOutToInSet(b byte) bool { return b&connOutToIn != 0 }
func connAge(b byte) uint8       { return (b >> connAgeShift) & connAgeMask }

func connSetInToOut(b *byte)  { *b |= connInToOut }
func connSetOutToIn(b *byte)  { *b |= connOutToIn }
func connResetAge(b *byte)    { *b &^= connAgeMask << connAgeShift }

// agingSweep implements §4.3's aging pass: every active slot (either
// direction bit set) has its age incremented, saturating at 63; once
// age reaches dConnTicks the slot is cleared back to FREE.
func (c *connCache) agingSweep(dConnTicks uint8) {
	for i := range c.slots {
		b := c.slots[i]
		if b&(connInToOut|connOutToIn) == 0 {
			continue
		}
		age := connAge(b)
		if age < connAgeMax {
			age++
		}
		if age >= dConnTicks {
			c.slots[i] = 0
			continue
		}
		b &^= connAgeMask << connAgeShift
		b |= (age & connAgeMask) << connAgeShift
		c.slots[i] = b
	}
}
