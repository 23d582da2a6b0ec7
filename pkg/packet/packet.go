// Package packet implements the fixed-capacity byte buffer that flows
// between data-plane apps over bounded links.
//
// A Packet owns a single backing array sized at construction
// (MaxPayload bytes plus Headroom bytes of unused prefix). Headroom lets
// a decapsulating app grow the logical start of the buffer backwards
// (e.g. to re-prepend an Ethernet header) without a copy. Ownership of a
// Packet transfers to whichever link it is pushed onto; the receiving
// app is responsible for releasing it back to the Pool once it is no
// longer needed.
//
// © 2025 dplane authors. MIT License.
package packet

import "errors"

// MaxPayload is the largest payload a Packet can carry, not counting
// headroom. ~10 KiB per spec §3.1.
const MaxPayload = 10 * 1024

// DefaultHeadroom is the default prefix reserved for header prepends
// (enough for an outer Ethernet + VLAN + IPv4 encapsulation).
const DefaultHeadroom = 64

var errOverflow = errors.New("packet: write exceeds capacity")

// Packet is a fixed-capacity buffer with explicit valid length.
type Packet struct {
	buf    []byte // len(buf) == headroom + MaxPayload
	start  int    // offset of byte 0 of the logical payload
	length int    // bytes of valid payload starting at start
}

// newPacket allocates a fresh backing array with the given headroom.
func newPacket(headroom int) *Packet {
	buf := make([]byte, headroom+MaxPayload)
	return &Packet{buf: buf, start: headroom, length: 0}
}

// reset restores a recycled Packet to its initial, empty state without
// reallocating the backing array.
func (p *Packet) reset() {
	p.start = cap(p.buf) - MaxPayload
	if p.start < 0 {
		p.start = 0
	}
	p.length = 0
}

// Len returns the number of valid payload bytes.
func (p *Packet) Len() int { return p.length }

// Cap returns the maximum payload length this packet can hold at its
// current start offset (grows by as much headroom as Prepend consumes).
func (p *Packet) Cap() int { return len(p.buf) - p.start }

// Bytes returns the valid payload as a slice sharing the packet's
// backing array. The slice is only valid until the next mutating call
// on the packet (Prepend, SetLen, Append, CopyFrom).
func (p *Packet) Bytes() []byte { return p.buf[p.start : p.start+p.length] }

// SetLen sets the valid payload length directly, e.g. after an
// in-place mutation of the bytes returned by Bytes(). It is the
// caller's responsibility to have written valid data up to n.
func (p *Packet) SetLen(n int) error {
	if n < 0 || n > p.Cap() {
		return errOverflow
	}
	p.length = n
	return nil
}

// Append copies data onto the end of the valid payload, growing Len()
// by len(data). Returns errOverflow if that would exceed Cap().
func (p *Packet) Append(data []byte) error {
	if p.length+len(data) > p.Cap() {
		return errOverflow
	}
	copy(p.buf[p.start+p.length:], data)
	p.length += len(data)
	return nil
}

// Prepend grows the payload backwards into headroom, copying data in
// front of the current payload. Returns errOverflow if there is not
// enough headroom left.
func (p *Packet) Prepend(data []byte) error {
	if len(data) > p.start {
		return errOverflow
	}
	p.start -= len(data)
	copy(p.buf[p.start:], data)
	p.length += len(data)
	return nil
}

// Headroom returns the number of unused bytes available for Prepend.
func (p *Packet) Headroom() int { return p.start }

// CopyFrom overwrites the packet's entire payload with data, resetting
// headroom to the full amount available in the backing array first.
// Use Prepend afterwards to grow the payload into that headroom.
func (p *Packet) CopyFrom(data []byte) error {
	p.reset()
	return p.Append(data)
}
