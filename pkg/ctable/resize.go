package ctable

import "go.uber.org/zap"

// resize.go implements §4.1's resize algorithm: a fresh 2*newSize
// backing array, a freshly drawn seed, and a full re-insertion of every
// live entry under the new seed. resize is the only operation that
// changes the seed; every EntryRef obtained before a resize is
// invalidated by the generation bump.

func (t *Table[K, V]) resize(newSize uint32) {
	if newSize == 0 {
		newSize = 1
	}
	old := t.entries

	t.entries = newEmptyEntries[K, V](2 * newSize)
	t.size = newSize
	t.seed = seedFromEnvOrRandom()
	t.occupancy = 0
	t.maxDisplacement = 0
	t.recomputeOccupancyBounds()
	t.gen++

	for i := range old {
		if old[i].hash == sentinelHash {
			continue
		}
		if _, err := t.addNoResize(old[i].key, old[i].value, ModeAllowUpdate); err != nil {
			// addNoResize only fails on ModeInsertOnly/ModeRequireExisting
			// paths, neither used here; a live key re-inserting under a
			// fresh seed cannot collide with itself.
			panic("ctable: unexpected error re-inserting during resize: " + err.Error())
		}
	}

	t.metrics.incResize()
	t.metrics.setOccupancy(t.occupancy)
	t.metrics.setMaxDisplacement(t.maxDisplacement)
	t.logger.Debug("ctable resized", zap.Uint32("size", t.size), zap.Uint32("occupancy", t.occupancy))
}
