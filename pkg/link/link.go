// Package link provides the minimal slice of the out-of-scope app-graph
// framework (spec §1, §5, §6.2) that ScanSuppressor and Reassembler need
// to be independently testable and runnable outside a full scheduler:
// a bounded FIFO queue of packets with fullness/emptiness signals and
// no blocking, matching the "push/pull, backpressure through
// link-fullness, never through blocking" scheduling model.
//
// © 2025 dplane authors. MIT License.
package link

import "github.com/packetguard/dplane/pkg/packet"

// Link is a bounded, single-producer single-consumer FIFO queue of
// packets. It never blocks: Push reports whether it succeeded, and
// Pull reports whether a packet was available.
type Link struct {
	buf   []*packet.Packet
	head  int
	count int
}

// New returns a Link that holds at most capacity packets.
func New(capacity int) *Link {
	if capacity <= 0 {
		capacity = 1
	}
	return &Link{buf: make([]*packet.Packet, capacity)}
}

// Full reports whether the link has no free slots (§5 "backpressure
// propagates through link-fullness").
func (l *Link) Full() bool { return l.count == len(l.buf) }

// Empty reports whether the link has no queued packets.
func (l *Link) Empty() bool { return l.count == 0 }

// Len returns the number of queued packets.
func (l *Link) Len() int { return l.count }

// Cap returns the link's fixed capacity.
func (l *Link) Cap() int { return len(l.buf) }

// Push enqueues pk, returning false without blocking if the link is
// full.
func (l *Link) Push(pk *packet.Packet) bool {
	if l.Full() {
		return false
	}
	tail := (l.head + l.count) % len(l.buf)
	l.buf[tail] = pk
	l.count++
	return true
}

// Pull dequeues the oldest packet, preserving FIFO order (spec §5
// "packet order on a single link is preserved end-to-end"). ok is
// false without blocking if the link is empty.
func (l *Link) Pull() (pk *packet.Packet, ok bool) {
	if l.Empty() {
		return nil, false
	}
	pk = l.buf[l.head]
	l.buf[l.head] = nil
	l.head = (l.head + 1) % len(l.buf)
	l.count--
	return pk, true
}

// Drain repeatedly pulls from the link, invoking fn for each packet,
// until the link is empty or fn returns false — the standard
// "drain inputs until either the input link is empty or the output
// link is full" shape (§5) an app's push method runs each cycle.
func (l *Link) Drain(fn func(*packet.Packet) bool) {
	for {
		pk, ok := l.Pull()
		if !ok {
			return
		}
		if !fn(pk) {
			return
		}
	}
}
