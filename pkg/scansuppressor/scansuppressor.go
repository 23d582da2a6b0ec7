// Package scansuppressor implements the approximate TRW-style
// scan-suppression engine (spec §3.3, §3.4, §4.3): a connection cache,
// an address cache, classifier-driven inside/outside dispatch, and the
// decay/aging sweeps that keep both caches bounded without ever
// resizing them.
//
// © 2025 dplane authors. MIT License.
package scansuppressor

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/packetguard/dplane/internal/bigpage"
	"github.com/packetguard/dplane/internal/classifier"
	"github.com/packetguard/dplane/internal/siphash"
	"github.com/packetguard/dplane/internal/wire"
	"github.com/packetguard/dplane/pkg/link"
	"github.com/packetguard/dplane/pkg/packet"
)

// ScanSuppressor holds the two approximate caches and the compiled
// classifier programs that drive them (§4.3).
type ScanSuppressor struct {
	conn *connCache
	addr *addrCache

	insideToOutside classifier.Matcher
	outsideToInside classifier.Matcher
	hygiene         classifier.Matcher
	blockSensitive  classifier.Matcher

	blockThreshold int16
	dMissTicks     uint32
	ageInterval    uint32
	dConnTicks     uint8

	lastMissTick uint64
	lastAgeTick  uint64

	logger  *zap.Logger
	metrics metricsSink
}

// New compiles the classifier programs for network and constructs the
// two fixed-size caches (§4.3 "inside_network" configuration option).
func New(network netip.Prefix, opts ...Option) (*ScanSuppressor, error) {
	cfg := defaultConfig()
	cfg.insideNetwork = network
	for _, opt := range opts {
		opt(&cfg)
	}

	insideToOutside, err := classifier.CompileDirection(network, true, false)
	if err != nil {
		return nil, fmt.Errorf("scansuppressor: compile inside-to-outside: %w", err)
	}
	outsideToInside, err := classifier.CompileDirection(network, false, true)
	if err != nil {
		return nil, fmt.Errorf("scansuppressor: compile outside-to-inside: %w", err)
	}
	hygiene, err := classifier.CompileHygiene()
	if err != nil {
		return nil, fmt.Errorf("scansuppressor: compile hygiene filter: %w", err)
	}
	blockSensitive, err := classifier.CompileBlockSensitive()
	if err != nil {
		return nil, fmt.Errorf("scansuppressor: compile block-sensitive filter: %w", err)
	}

	threshold := cfg.bigpageThreshold
	if threshold == 0 {
		threshold = bigpage.DefaultThreshold
	}
	s := &ScanSuppressor{
		conn:            newConnCache(cfg.nConn, seedFromProcess(), threshold),
		addr:            newAddrCache(cfg.nAddr, processSeed64(), cfg.cMin, cfg.cMax, threshold),
		insideToOutside: insideToOutside,
		outsideToInside: outsideToInside,
		hygiene:         hygiene,
		blockSensitive:  blockSensitive,
		blockThreshold:  cfg.blockThreshold,
		dMissTicks:      cfg.dMissTicks,
		ageInterval:     cfg.ageIntervalTicks,
		dConnTicks:      cfg.dConnTicks,
		logger:          cfg.logger,
		metrics:         cfg.metrics,
	}
	return s, nil
}

// Close releases the two caches' bigpage-backed slabs.
func (s *ScanSuppressor) Close() {
	s.conn.free()
	s.addr.free()
}

func seedFromProcess() siphash.Seed {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		binary.LittleEndian.PutUint64(key[0:8], processSeed64())
		binary.LittleEndian.PutUint64(key[8:16], processSeed64()^0x9E3779B97F4A7C15)
	}
	return siphash.NewSeed(key)
}

// processSeed64 stands in for spec §3.4/§4.3's "per-process seed (e.g.
// boot timestamp)": a fresh random seed per ScanSuppressor instance,
// since this module never reads wall-clock time (§5) and a constant
// seed would make the address-permutation predictable across restarts.
func processSeed64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x9E3779B97F4A7C15
	}
	return binary.LittleEndian.Uint64(b[:])
}

// header is the subset of a frame's parsed fields dispatch needs.
type header struct {
	src, dst         uint32
	proto            uint8
	srcPort, dstPort uint16
}

func parseHeader(data []byte) (header, bool) {
	ethertype, l3, ok := wire.EthertypeAt(data, wire.EthTypeOffset)
	if !ok || ethertype != wire.EtherTypeIPv4 {
		return header{}, false
	}
	if l3+wire.IPv4MinHeaderLen > len(data) {
		return header{}, false
	}
	hdr := data[l3:]
	_, ihl := wire.IPv4VersionIHL(hdr[wire.IPv4VerIHLOffset])
	if ihl < wire.IPv4MinHeaderLen || l3+ihl > len(data) {
		return header{}, false
	}
	proto := hdr[wire.IPv4ProtoOffset]
	src := binary.BigEndian.Uint32(hdr[wire.IPv4SrcOffset : wire.IPv4SrcOffset+4])
	dst := binary.BigEndian.Uint32(hdr[wire.IPv4DstOffset : wire.IPv4DstOffset+4])

	var srcPort, dstPort uint16
	if proto == wire.ProtoTCP || proto == wire.ProtoUDP {
		l4 := l3 + ihl
		if l4+4 <= len(data) {
			srcPort = binary.BigEndian.Uint16(data[l4 : l4+2])
			dstPort = binary.BigEndian.Uint16(data[l4+2 : l4+4])
		}
	}
	return header{src: src, dst: dst, proto: proto, srcPort: srcPort, dstPort: dstPort}, true
}

// Process runs one frame through the classifier and the TRW state
// machine (§4.3), returning true if the packet should be forwarded.
// now is the caller's monotonic tick count (§5); Process runs the
// decay/miss and aging sweeps inline whenever their interval has
// elapsed, matching "two per-scanner timers... compared against now()
// at the top of each push invocation" (§5).
func (s *ScanSuppressor) Process(frame []byte, now uint64) bool {
	s.runSweeps(now)

	hdr, ok := parseHeader(frame)
	if !ok {
		// §7 MalformedHeader: "the packet is passed through (scanner
		// default is forward)".
		s.metrics.incForward()
		return true
	}

	switch {
	case s.insideToOutside.Match(frame):
		s.handleInside(hdr)
	case s.outsideToInside.Match(frame):
		if !s.handleOutside(hdr, frame) {
			s.metrics.incDrop("blocked")
			return false
		}
	default:
		// Neither inside->outside nor outside->inside (e.g. non-IP,
		// or neither address falls in/out of inside_network): the
		// classifier program's implicit "otherwise => forward" arm.
	}
	s.metrics.incForward()
	return true
}

// handleInside implements §4.3's inside-handler: source is trusted.
func (s *ScanSuppressor) handleInside(hdr header) {
	idx := s.conn.index(hdr.src, hdr.dst, hdr.srcPort)
	ce := s.conn.entry(idx)
	if !connInToOutSet(*ce) {
		count := s.addr.get(hdr.dst)
		if connOutToInSet(*ce) {
			count -= 2
		}
		var evicted bool
		s.addr.setCount(hdr.dst, count, &evicted)
		if evicted {
			s.metrics.incAddrEvict()
		}
		connSetInToOut(ce)
	}
	connResetAge(ce)
}

// handleOutside implements §4.3's outside-handler: source is
// untrusted. Returns false if the packet should be dropped.
//
// §4.3's prose adds a final "Set ce.in_to_out ← 1" after the
// count<T branch, but that contradicts the same section's state
// table, which names (i2o=0, o2i=1) HALF-OPEN-OUT — "outside reached
// bucket first" — as a distinct, reachable state. Applying the prose
// literally would make every outside-initiated bucket jump straight to
// ESTABLISHED on its very first packet, collapsing HALF-OPEN-OUT out
// of existence. This implementation keeps the state table's invariant:
// only handleInside ever sets in_to_out.
func (s *ScanSuppressor) handleOutside(hdr header, frame []byte) bool {
	idx := s.conn.index(hdr.src, hdr.dst, hdr.dstPort)
	ce := s.conn.entry(idx)
	count := s.addr.get(hdr.src)

	if count < s.blockThreshold {
		if !connOutToInSet(*ce) {
			switch {
			case connInToOutSet(*ce):
				count--
				connSetOutToIn(ce)
			case s.hygiene.Match(frame):
				return false
			default:
				count++
				connSetOutToIn(ce)
			}
			var evicted bool
			s.addr.setCount(hdr.src, count, &evicted)
			if evicted {
				s.metrics.incAddrEvict()
			}
		}
		connResetAge(ce)
		return true
	}

	// count >= T: source presumed scanner.
	if connInToOutSet(*ce) {
		if s.blockSensitive.Match(frame) {
			return false
		}
		if !connOutToInSet(*ce) {
			count--
			connSetOutToIn(ce)
			var evicted bool
			s.addr.setCount(hdr.src, count, &evicted)
			if evicted {
				s.metrics.incAddrEvict()
			}
		}
		connResetAge(ce)
		return true
	}
	return false
}

// runSweeps invokes the decay and aging passes once their respective
// interval has elapsed (§4.3 "Decay"/"Aging", §5 two per-scanner
// timers compared against now() at the top of each push invocation).
func (s *ScanSuppressor) runSweeps(now uint64) {
	if s.dMissTicks > 0 && now-s.lastMissTick >= uint64(s.dMissTicks) {
		s.addr.decay()
		s.lastMissTick = now
	}
	if s.ageInterval > 0 && now-s.lastAgeTick >= uint64(s.ageInterval) {
		s.conn.agingSweep(s.dConnTicks)
		s.lastAgeTick = now
		s.metrics.incConnAged()
		s.logger.Debug("connection cache aging sweep ran", zap.Uint64("tick", now))
	}
}

// Stats reports point-in-time cache sizes, for snapshot/debug
// endpoints (mirrors pkg/reassembly.Reassembler.Stats).
type Stats struct {
	ConnSlots      uint32
	AddrLines      uint32
	BlockThreshold int16
}

func (s *ScanSuppressor) Stats() Stats {
	return Stats{
		ConnSlots:      uint32(len(s.conn.slots)),
		AddrLines:      uint32(len(s.addr.lines)),
		BlockThreshold: s.blockThreshold,
	}
}

// Push drains in, running each packet through Process and forwarding
// it onto out when accepted, freeing it otherwise — the standard
// "drain inputs until either the input link is empty or the output
// link is full" push-method shape (§5).
func (s *ScanSuppressor) Push(in, out *link.Link, pool *packet.Pool, now uint64) {
	in.Drain(func(pk *packet.Packet) bool {
		if out.Full() {
			return false
		}
		if s.Process(pk.Bytes(), now) {
			out.Push(pk)
		} else if pool != nil {
			pool.Put(pk)
		}
		return true
	})
}
