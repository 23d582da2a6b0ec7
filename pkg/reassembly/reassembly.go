// Package reassembly implements the IPv4 fragment-reassembly engine
// (spec §3.5, §4.2): an RFC 791/5722-conformant, overlap-rejecting
// reassembly buffer keyed by (src, dst, frag_id), backed by a bounded
// pkg/ctable instance with random ejection when the table is full, and
// IPv4 header checksum recomputation on success.
//
// © 2025 dplane authors. MIT License.
package reassembly

import (
	"encoding/binary"
	"math/rand"

	"go.uber.org/zap"

	"github.com/packetguard/dplane/internal/wire"
	"github.com/packetguard/dplane/pkg/ctable"
	"github.com/packetguard/dplane/pkg/packet"
)

// Status is cache_fragment's result classification (§4.2 step 8).
type Status int

const (
	// StatusMissing means more fragments are still needed for this flow.
	StatusMissing Status = iota
	// StatusOK means the datagram is complete and has been reassembled.
	StatusOK
	// StatusInvalid means a structural anomaly (overlap, oversize, too
	// many fragments, duplicate final) was detected; the flow's buffer
	// has been freed (§7 FragmentAnomaly). A gap with no overlap reads
	// as StatusMissing, since later fragments may still fill it.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "FRAGMENT_MISSING"
	case StatusOK:
		return "REASSEMBLY_OK"
	case StatusInvalid:
		return "REASSEMBLY_INVALID"
	default:
		return "UNKNOWN"
	}
}

// flowKey is (src_ipv4, dst_ipv4, frag_id), the fragment table's key
// (§4.2 "key = (src, dst, id)").
type flowKey struct {
	src, dst uint32
	fragID   uint16
}

func flowKeyCodec() ctable.FuncCodec[flowKey, *fragBuffer] {
	return ctable.FuncCodec[flowKey, *fragBuffer]{
		KeySz: 10,
		ValSz: 8, // a pointer; EncVal/DecVal below are no-ops, so value bytes are not persisted
		EncKey: func(k flowKey, dst []byte) {
			binary.LittleEndian.PutUint32(dst[0:4], k.src)
			binary.LittleEndian.PutUint32(dst[4:8], k.dst)
			binary.LittleEndian.PutUint16(dst[8:10], k.fragID)
		},
		DecKey: func(src []byte) flowKey {
			return flowKey{
				src:    binary.LittleEndian.Uint32(src[0:4]),
				dst:    binary.LittleEndian.Uint32(src[4:8]),
				fragID: binary.LittleEndian.Uint16(src[8:10]),
			}
		},
		EncVal: func(*fragBuffer, []byte) {},
		DecVal: func([]byte) *fragBuffer { return nil },
	}
}

// Reassembler holds one fragment table and reassembles IPv4 datagrams
// split across multiple Ethernet frames (§3.5, §4.2).
type Reassembler struct {
	table             *ctable.Table[flowKey, *fragBuffer]
	maxConcurrent     uint32
	maxFragsPerPacket int
	reassemblyTTL     uint64 // ticks; 0 disables the TTL sweep (§9 supplemental)

	// order tracks live keys for O(1) uniformly-random ejection when the
	// table is at capacity (§4.2 "random ejection... evicts a uniformly
	// random existing key"); ctable itself has no "pick a random slot"
	// primitive, so the reassembler keeps its own index.
	order    []flowKey
	orderPos map[flowKey]int

	pool    *packet.Pool
	logger  *zap.Logger
	metrics metricsSink
}

// Option configures a Reassembler at construction.
type Option func(*config)

type config struct {
	logger        *zap.Logger
	metrics       metricsSink
	reassemblyTTL uint64
	pool          *packet.Pool
}

func defaultConfig() config {
	return config{logger: zap.NewNop(), metrics: noopMetrics{}}
}

// WithLogger plugs an external zap.Logger (never used on the hot path).
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics for this reassembler.
func WithMetrics(sink metricsSink) Option {
	return func(c *config) {
		if sink != nil {
			c.metrics = sink
		}
	}
}

// WithReassemblyTTL sets the tick-based expiry Sweep enforces on
// per-flow buffers (§9 open question, resolved: see DESIGN.md). A
// value of 0 (the default) disables the sweep; buffers are then only
// ever freed on OK/INVALID or table-full random ejection.
func WithReassemblyTTL(ticks uint64) Option {
	return func(c *config) { c.reassemblyTTL = ticks }
}

// WithPacketPool supplies the Pool CacheFragment draws reassembled
// output packets from. Defaults to a fresh private Pool.
func WithPacketPool(p *packet.Pool) Option {
	return func(c *config) { c.pool = p }
}

// New constructs a Reassembler (§4.2 "new(max_concurrent_packets,
// max_frags_per_packet)"). Initial CTable size is
// ceil(max_concurrent_packets / 0.9) with max_occupancy_rate = 0.9,
// per spec.
func New(maxConcurrentPackets uint32, maxFragsPerPacket int, opts ...Option) *Reassembler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.pool == nil {
		cfg.pool = packet.NewPool(packet.DefaultHeadroom)
	}
	initialSize := uint32(float64(maxConcurrentPackets)/0.9 + 0.999999)
	if initialSize == 0 {
		initialSize = 1
	}
	tableOpts := []ctable.Option[flowKey, *fragBuffer]{
		ctable.WithOccupancyRates[flowKey, *fragBuffer](0.9, 0.0),
	}
	r := &Reassembler{
		table:             ctable.New[flowKey, *fragBuffer](flowKeyCodec(), initialSize, tableOpts...),
		maxConcurrent:     maxConcurrentPackets,
		maxFragsPerPacket: maxFragsPerPacket,
		reassemblyTTL:     cfg.reassemblyTTL,
		orderPos:          make(map[flowKey]int),
		pool:              cfg.pool,
		logger:            cfg.logger,
		metrics:           cfg.metrics,
	}
	return r
}

func (r *Reassembler) trackInsert(k flowKey) {
	r.orderPos[k] = len(r.order)
	r.order = append(r.order, k)
}

func (r *Reassembler) trackRemove(k flowKey) {
	i, ok := r.orderPos[k]
	if !ok {
		return
	}
	last := len(r.order) - 1
	r.order[i] = r.order[last]
	r.orderPos[r.order[i]] = i
	r.order = r.order[:last]
	delete(r.orderPos, k)
}

// evictRandom drops a uniformly random live flow to make room for a
// new one (§4.2, §7 CapacityExhausted: "triggers random ejection, not
// an error"). Returns the evicted key, or false if the table was
// empty.
func (r *Reassembler) evictRandom() (flowKey, bool) {
	if len(r.order) == 0 {
		return flowKey{}, false
	}
	i := rand.Intn(len(r.order))
	k := r.order[i]
	r.freeFlow(k, reasonCapacity)
	return k, true
}

func (r *Reassembler) freeFlow(k flowKey, reason string) {
	r.table.Remove(k)
	r.trackRemove(k)
	r.metrics.incEvict(reason)
}

// Sweep ejects any reassembly buffer older than the configured TTL
// (§9 supplemental feature: a tick-driven expiry sweep, resolving the
// spec's open question about unbounded per-flow buffer lifetime). Pass
// the same tick source ScanSuppressor's aging sweep uses (§5 "a
// monotonic now() function yields a tick count").
func (r *Reassembler) Sweep(now uint64) {
	if r.reassemblyTTL == 0 {
		return
	}
	var expired []flowKey
	r.table.All(func(k flowKey, buf *fragBuffer) bool {
		if now-buf.createdAt >= r.reassemblyTTL {
			expired = append(expired, k)
		}
		return true
	})
	for _, k := range expired {
		r.freeFlow(k, reasonTimeout)
		r.logger.Debug("reassembly buffer expired", zap.Uint32("src", k.src), zap.Uint32("dst", k.dst), zap.Uint16("frag_id", k.fragID))
	}
}

// Stats reports point-in-time occupancy, for snapshot/debug endpoints.
type Stats struct {
	LiveFlows       uint32
	MaxConcurrent   uint32
	MaxDisplacement uint32
}

func (r *Reassembler) Stats() Stats {
	return Stats{
		LiveFlows:       r.table.Len(),
		MaxConcurrent:   r.maxConcurrent,
		MaxDisplacement: r.table.MaxDisplacement(),
	}
}

const (
	reasonCapacity = "capacity"
	reasonTimeout  = "timeout"
	reasonAnomaly  = "anomaly"
	reasonComplete = "complete"
)

// parsedFrame is the result of CacheFragment's §6.1 header parse.
type parsedFrame struct {
	l3Offset  int
	ihl       int
	totalLen  int
	moreFrags bool
	fragOff   int // bytes, already ×8
	src, dst  uint32
	fragID    uint16
}

func parseIPv4Frame(data []byte) (parsedFrame, bool) {
	ethertype, l3, ok := wire.EthertypeAt(data, wire.EthTypeOffset)
	if !ok || ethertype != wire.EtherTypeIPv4 {
		return parsedFrame{}, false
	}
	if l3+wire.IPv4MinHeaderLen > len(data) {
		return parsedFrame{}, false
	}
	hdr := data[l3:]
	_, ihl := wire.IPv4VersionIHL(hdr[wire.IPv4VerIHLOffset])
	if ihl < wire.IPv4MinHeaderLen || l3+ihl > len(data) {
		return parsedFrame{}, false
	}
	totalLen := int(binary.BigEndian.Uint16(hdr[wire.IPv4TotalLenOffset : wire.IPv4TotalLenOffset+2]))
	fragID := binary.BigEndian.Uint16(hdr[wire.IPv4IdentOffset : wire.IPv4IdentOffset+2])
	flagsFrag := binary.BigEndian.Uint16(hdr[wire.IPv4FlagsFragOffset : wire.IPv4FlagsFragOffset+2])
	mf, fragOff := wire.IPv4FragInfo(flagsFrag)
	src := binary.BigEndian.Uint32(hdr[wire.IPv4SrcOffset : wire.IPv4SrcOffset+4])
	dst := binary.BigEndian.Uint32(hdr[wire.IPv4DstOffset : wire.IPv4DstOffset+4])
	return parsedFrame{
		l3Offset: l3, ihl: ihl, totalLen: totalLen,
		moreFrags: mf, fragOff: fragOff,
		src: src, dst: dst, fragID: fragID,
	}, true
}

// CacheFragment implements §4.2's algorithm end to end. frame is the
// raw Ethernet+IPv4 bytes of one inbound fragment; CacheFragment does
// not take ownership of it (it only reads and copies out of it) — the
// caller frees frame itself once this call returns. now is the
// caller's monotonic tick count (§5), stamped on newly-allocated
// buffers so Sweep can later expire them.
//
// On StatusOK the returned packet is freshly drawn from the
// Reassembler's pool and owned by the caller. On StatusMissing and
// StatusInvalid the returned packet is nil.
func (r *Reassembler) CacheFragment(frame []byte, now uint64) (Status, *packet.Packet, error) {
	pf, ok := parseIPv4Frame(frame)
	if !ok {
		return StatusInvalid, nil, errMalformedHeader
	}
	key := flowKey{src: pf.src, dst: pf.dst, fragID: pf.fragID}

	buf, found := r.table.LookupAndCopy(key)
	if !found {
		if r.table.Len() >= r.maxConcurrent {
			r.evictRandom()
			r.metrics.incCapacityExhausted()
		}
		buf = newFragBuffer(r.maxFragsPerPacket, pf.l3Offset, pf.ihl, frame)
		buf.createdAt = now
		if _, err := r.table.Add(key, buf, ctable.ModeInsertOnly); err != nil {
			// Only reachable if evictRandom raced with an in-flight
			// duplicate insert for the same key within one push cycle,
			// which cannot happen under the single-threaded cooperative
			// scheduling model (§5).
			panic("reassembly: unexpected duplicate key after eviction: " + err.Error())
		}
		r.trackInsert(key)
	}

	frag := fragment{
		start:     pf.fragOff,
		size:      pf.totalLen - pf.ihl,
		more:      pf.moreFrags,
		payload:   frame[pf.l3Offset+pf.ihl:],
	}
	status := buf.add(frag)

	switch status {
	case StatusInvalid:
		r.freeFlow(key, reasonAnomaly)
		r.metrics.incAnomaly()
		r.logger.Debug("reassembly anomaly, flow dropped", zap.Uint32("src", key.src), zap.Uint32("dst", key.dst), zap.Uint16("frag_id", key.fragID))
		return StatusInvalid, nil, nil
	case StatusMissing:
		return StatusMissing, nil, nil
	}

	pk := r.finalize(buf)
	r.freeFlow(key, reasonComplete)
	r.metrics.incComplete()
	return StatusOK, pk, nil
}

// finalize writes the final total_length, zeroes identification, and
// recomputes the IPv4 header checksum (§4.2 step 8 "Otherwise
// REASSEMBLY_OK"), then copies the completed datagram into a fresh
// pool packet.
func (r *Reassembler) finalize(buf *fragBuffer) *packet.Packet {
	hdr := buf.data[buf.l3Offset : buf.l3Offset+buf.ihl]
	binary.BigEndian.PutUint16(hdr[wire.IPv4TotalLenOffset:wire.IPv4TotalLenOffset+2], uint16(buf.ihl+buf.runningLength))
	binary.BigEndian.PutUint16(hdr[wire.IPv4IdentOffset:wire.IPv4IdentOffset+2], 0)
	binary.BigEndian.PutUint16(hdr[wire.IPv4FlagsFragOffset:wire.IPv4FlagsFragOffset+2], 0)
	hdr[wire.IPv4ChecksumOffset] = 0
	hdr[wire.IPv4ChecksumOffset+1] = 0
	checksum := wire.IPv4Checksum(hdr)
	binary.BigEndian.PutUint16(hdr[wire.IPv4ChecksumOffset:wire.IPv4ChecksumOffset+2], checksum)

	pk := r.pool.Get()
	total := buf.reassemblyBase() + buf.runningLength
	_ = pk.CopyFrom(buf.data[:total])
	return pk
}
