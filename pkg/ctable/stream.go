package ctable

// stream.go implements §4.1's streaming multi-lookup: a batch helper
// that hashes a fixed-width group of keys, copies their probe-chain
// windows into one reused scratch buffer, then searches each window,
// in three passes.

// LookupResult is one key's outcome from a streamed batch lookup.
type LookupResult[V any] struct {
	Found bool
	Value V
}

// Streamer holds the scratch buffer a batch lookup reuses across
// calls, sized for width keys at the table's max_displacement at
// construction time. It is invalidated by any mutation or reseed on
// the parent table (§4.1).
type Streamer[K comparable, V any] struct {
	table   *Table[K, V]
	width   int
	gen     uint64
	scratch []entry[K, V]

	// keyBuf/keySlots back pass 1's batch hash: width fixed-size key
	// encodings in one allocation, sliced into per-key views handed to
	// BatchHash32.
	keyBuf   []byte
	keySlots [][]byte
}

// NewStreamer returns a Streamer sized for batches of exactly width
// keys (§4.1 "make_lookup_streamer(width) -> Streamer").
func (t *Table[K, V]) NewStreamer(width int) *Streamer[K, V] {
	cap := width*(int(t.maxDisplacement)+1) + 1
	return &Streamer[K, V]{
		table:    t,
		width:    width,
		gen:      t.gen,
		scratch:  make([]entry[K, V], 0, cap),
		keyBuf:   make([]byte, width*int(t.codec.KeySize())),
		keySlots: make([][]byte, width),
	}
}

// Stale reports whether the parent table has mutated since this
// Streamer was created.
func (s *Streamer[K, V]) Stale() bool { return s.gen != s.table.gen }

// Stream looks up exactly width keys in three fused passes: batch-hash
// all keys, copy each key's probe-chain group into scratch, then
// binary-search + compare within each group (§4.1). Panics if keys'
// length does not equal the streamer's configured width, or if the
// streamer is stale.
func (s *Streamer[K, V]) Stream(keys []K) []LookupResult[V] {
	if len(keys) != s.width {
		panic("ctable: streamer width mismatch")
	}
	if s.Stale() {
		panic("ctable: streamer invalidated by a mutation on the parent table")
	}
	t := s.table

	// Pass 1: hash all width keys with one BatchHash32 call (§4.1).
	keySize := int(t.codec.KeySize())
	for i, k := range keys {
		slot := s.keyBuf[i*keySize : (i+1)*keySize]
		t.codec.EncodeKey(k, slot)
		s.keySlots[i] = slot
	}
	hashes := t.seed.BatchHash32(s.keySlots)

	// Pass 2: copy each key's max_displacement+1 probe-chain window.
	groupLen := int(t.maxDisplacement) + 1
	s.scratch = s.scratch[:0]
	groupBounds := make([][2]int, len(keys))
	n := len(t.entries)
	for i, h := range hashes {
		start := int(t.primaryIndex(h))
		end := start + groupLen
		if end > n {
			end = n
		}
		begin := len(s.scratch)
		s.scratch = append(s.scratch, t.entries[start:end]...)
		groupBounds[i] = [2]int{begin, len(s.scratch)}
	}

	// Pass 3: binary search + compare within each key's group. Groups
	// are ascending by hash (§3.2 invariant), with the sentinel
	// (0xFFFFFFFF, the largest uint32) sorting last.
	results := make([]LookupResult[V], len(keys))
	for i, h := range hashes {
		lo, hi := groupBounds[i][0], groupBounds[i][1]
		group := s.scratch[lo:hi]
		gi, gj := 0, len(group)
		for gi < gj {
			mid := (gi + gj) / 2
			if group[mid].hash < h {
				gi = mid + 1
			} else {
				gj = mid
			}
		}
		for j := gi; j < len(group) && group[j].hash == h; j++ {
			if group[j].key == keys[i] {
				results[i] = LookupResult[V]{Found: true, Value: group[j].value}
				break
			}
		}
	}
	return results
}
