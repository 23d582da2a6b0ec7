// Package bigpage provides the backing-memory allocator for the scan
// suppressor's fixed-size connection and address caches (spec §5):
// attempt a hugepage-backed mapping above a configurable size threshold,
// transparently falling back to a normal heap allocation when the
// mapping isn't available. Neither path is required for correctness,
// only for performance; the threshold is set per ScanSuppressor with
// scansuppressor.WithBigpageThreshold. CTable does not use this package:
// its entries live in an ordinary Go slice. The wrapper stays thin, as
// the teacher's internal/arena wrapper kept its allocation strategy thin
// behind a stable New/Free surface.
//
// © 2025 dplane authors. MIT License.
package bigpage

// DefaultThreshold is the backing size (bytes) above which a hugepage
// mapping is attempted before falling back to make([]byte, n).
const DefaultThreshold = 2 << 20 // 2 MiB

// Block is a backing byte slab. Free releases it; for a fallback slab
// this is a no-op (left to the GC), for a real mapping it unmaps.
type Block struct {
	buf    []byte
	mapped bool
	free   func()
}

// Bytes returns the slab's memory.
func (b *Block) Bytes() []byte { return b.buf }

// Mapped reports whether the block is backed by a real hugepage
// mapping (true) or a fallback heap allocation (false).
func (b *Block) Mapped() bool { return b.mapped }

// Free releases the block. Safe to call multiple times.
func (b *Block) Free() {
	if b.free != nil {
		b.free()
		b.free = nil
	}
}

// Alloc returns a zeroed Block of n bytes. Above threshold it attempts
// the platform hugepage path (see bigpage_linux.go); below threshold,
// or on any mapping failure, it falls back to a plain heap slice.
func Alloc(n int, threshold int) *Block {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if n >= threshold {
		if b := tryHugepage(n); b != nil {
			return b
		}
	}
	return &Block{buf: make([]byte, n), mapped: false, free: func() {}}
}
