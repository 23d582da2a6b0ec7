package ctable

// All returns a finite, non-restartable lazy sequence of the table's
// entries (§4.1 "iterate() -> lazy sequence of entries"), using Go's
// range-over-func iterators. The sequence must not be consumed across
// a mutating call on t.
func (t *Table[K, V]) All(yield func(K, V) bool) {
	for i := range t.entries {
		if t.entries[i].hash == sentinelHash {
			continue
		}
		if !yield(t.entries[i].key, t.entries[i].value) {
			return
		}
	}
}
