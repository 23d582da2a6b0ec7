package scansuppressor

// addrcache.go implements the per-external-address connection-count
// cache (spec §3.4): N_ADDR 4-way set-associative lines, addressed by
// a keyed Feistel (index, tag) split so a tag match within a line
// guarantees address identity without storing the address itself.

import (
	"unsafe"

	"github.com/packetguard/dplane/internal/bigpage"
	"github.com/packetguard/dplane/internal/feistel"
	"github.com/packetguard/dplane/internal/unsafehelpers"
)

type addrWay struct {
	tag   uint16
	count int16
	used  bool
}

type addrLine struct {
	ways [4]addrWay
}

type addrCache struct {
	cipher *feistel.Cipher
	lines  []addrLine
	block  *bigpage.Block
	cMin   int16
	cMax   int16
}

func newAddrCache(nLines uint32, seed uint64, cMin, cMax int16, threshold int) *addrCache {
	if nLines == 0 {
		nLines = 1
	}
	lineSize := unsafe.Sizeof(addrLine{})
	raw := unsafehelpers.AlignUp(uintptr(nLines)*lineSize, 64)
	block := bigpage.Alloc(int(raw), threshold)
	lines := unsafehelpers.PtrSlice((*addrLine)(unsafe.Pointer(&block.Bytes()[0])), int(nLines))
	return &addrCache{
		cipher: feistel.New(seed),
		lines:  lines,
		block:  block,
		cMin:   cMin,
		cMax:   cMax,
	}
}

func (a *addrCache) free() { a.block.Free() }

// get returns the current count for addr, or 0 if the address has no
// entry in its line (an unseen address is approximated as count 0,
// per §3.4's "approximate" design — a colliding, evicted, or never-
// written address cannot be distinguished from a genuinely fresh one).
func (a *addrCache) get(addr uint32) int16 {
	idx, tag := a.cipher.IndexTag(addr, uint32(len(a.lines)))
	line := &a.lines[idx]
	for i := range line.ways {
		if line.ways[i].used && line.ways[i].tag == tag {
			return line.ways[i].count
		}
	}
	return 0
}

// setCount implements §4.3's "count write semantics": a no-op once c
// saturates the clamp range (the caller's last in-range write stands),
// otherwise an in-place update on tag match or an eviction of the
// minimum-count way when the line is full and no tag matches.
func (a *addrCache) setCount(addr uint32, c int16, evicted *bool) {
	if c >= a.cMax || c <= a.cMin {
		return
	}
	idx, tag := a.cipher.IndexTag(addr, uint32(len(a.lines)))
	line := &a.lines[idx]
	for i := range line.ways {
		if line.ways[i].used && line.ways[i].tag == tag {
			line.ways[i].count = c
			return
		}
	}
	victim := -1
	for i := range line.ways {
		if !line.ways[i].used {
			victim = i
			break
		}
	}
	if victim == -1 {
		victim = 0
		for i := 1; i < len(line.ways); i++ {
			if line.ways[i].count < line.ways[victim].count {
				victim = i
			}
		}
		if evicted != nil {
			*evicted = true
		}
	}
	line.ways[victim] = addrWay{tag: tag, count: c, used: true}
}

// decay implements §4.3's decay sweep: every way with count > 0 loses
// one count; non-positive counts are left alone.
func (a *addrCache) decay() {
	for i := range a.lines {
		ways := &a.lines[i].ways
		for w := range ways {
			if ways[w].used && ways[w].count > 0 {
				ways[w].count--
			}
		}
	}
}
