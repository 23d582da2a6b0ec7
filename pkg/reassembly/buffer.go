package reassembly

// buffer.go implements the per-flow reassembly buffer (§3.5): sorted
// fragment-range bookkeeping via insertion sort, the overlap/gap
// rejection rule, and the output buffer fragments are copied into.

import "github.com/packetguard/dplane/pkg/packet"

// fragment is one inbound IPv4 fragment's bookkeeping-relevant fields,
// extracted by CacheFragment's header parse.
type fragment struct {
	start   int // frag_start, bytes (§4.2 step 3)
	size    int // frag_size = total_length - ihl
	more    bool
	payload []byte // the fragment's own payload bytes (after its L2+L3 header)
}

// fragBuffer is §3.5's reassembly buffer. starts/ends are kept sorted
// ascending by insertion sort after every add, exactly as the spec
// describes rather than a generic sort call, since each add touches at
// most one out-of-place element.
type fragBuffer struct {
	starts, ends []uint16
	count        int
	maxFrags     int

	finalStart uint16 // 0 means "not yet received" (§3.5, preserved literally)
	finalSeen  bool   // tracks whether a MF=0 fragment has ever arrived, for duplicate-final detection independent of the finalStart==0 sentinel

	l3Offset int // eth header length
	ihl      int // IPv4 header length

	runningLength    int
	reassemblyLength int

	data      []byte
	createdAt uint64
}

func newFragBuffer(maxFrags, l3Offset, ihl int, firstFrame []byte) *fragBuffer {
	b := &fragBuffer{
		starts:   make([]uint16, 0, maxFrags),
		ends:     make([]uint16, 0, maxFrags),
		maxFrags: maxFrags,
		l3Offset: l3Offset,
		ihl:      ihl,
		data:     make([]byte, packet.MaxPayload),
	}
	// scratch-plus-memcpy pattern (§4.2 step 2): one allocation per new
	// flow, header bytes copied once from whichever fragment happens to
	// arrive first — every fragment of the same datagram shares the
	// same L2+L3 header fields except total_length/identification/
	// checksum/flags-offset, all of which finalize() rewrites anyway.
	hdrLen := l3Offset + ihl
	copy(b.data[:hdrLen], firstFrame[:hdrLen])
	return b
}

func (b *fragBuffer) reassemblyBase() int { return b.l3Offset + b.ihl }

// insertSorted inserts (start, end) into starts/ends keeping both
// ascending by start, shifting at most the suffix after the insertion
// point (plain insertion sort, per §3.5 "kept sorted by insertion sort
// after each addition").
func (b *fragBuffer) insertSorted(start, end uint16) {
	i := len(b.starts)
	b.starts = append(b.starts, 0)
	b.ends = append(b.ends, 0)
	for i > 0 && b.starts[i-1] > start {
		b.starts[i] = b.starts[i-1]
		b.ends[i] = b.ends[i-1]
		i--
	}
	b.starts[i] = start
	b.ends[i] = end
	b.count++
}

// add applies one fragment to the buffer and returns the resulting
// Status, per §4.2 steps 3-8.
func (b *fragBuffer) add(f fragment) Status {
	if b.reassemblyBase()+f.start+f.size > len(b.data) {
		return StatusInvalid // oversize (§4.2 step 3)
	}
	if b.count+1 > b.maxFrags {
		return StatusInvalid // too many fragments: treated as malicious (§4.2 step 4)
	}
	if !f.more {
		if b.finalSeen {
			return StatusInvalid // duplicate final fragment (§4.2 step 5)
		}
		b.finalSeen = true
		b.finalStart = uint16(f.start)
	}

	b.insertSorted(uint16(f.start), uint16(f.start+f.size))

	dstOff := b.reassemblyBase() + f.start
	copy(b.data[dstOff:dstOff+f.size], f.payload[:f.size])

	b.runningLength += f.size
	if want := b.reassemblyBase() + f.start + f.size; want > b.reassemblyLength {
		b.reassemblyLength = want
	}

	return b.status()
}

// status implements §4.2 step 8. Completeness is checked first: until
// the final fragment has arrived and enough bytes have been seen to
// cover the datagram's span, a gap from out-of-order delivery is
// indistinguishable from a permanent one, so it must read as "still
// missing" rather than invalid. Only once byte coverage is complete do
// the structural gap/overlap checks run, which is when overlap becomes
// detectable (S2, where runningLength exceeds the span).
func (b *fragBuffer) status() Status {
	if b.finalStart == 0 || b.runningLength < b.reassemblyLength-b.reassemblyBase() {
		return StatusMissing
	}
	if b.starts[0] != 0 {
		return StatusInvalid
	}
	for i := 1; i < b.count; i++ {
		if b.starts[i] != b.ends[i-1] {
			return StatusInvalid
		}
	}
	return StatusOK
}
