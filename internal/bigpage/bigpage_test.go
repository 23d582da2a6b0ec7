package bigpage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocBelowThresholdFallsBack(t *testing.T) {
	b := Alloc(64, DefaultThreshold)
	defer b.Free()
	require.Len(t, b.Bytes(), 64)
	require.False(t, b.Mapped())
}

func TestAllocAboveThresholdNeverPanics(t *testing.T) {
	// Hugepages may well be unavailable in the test sandbox; Alloc must
	// transparently fall back rather than error or panic.
	b := Alloc(4<<20, 1<<20)
	defer b.Free()
	require.Len(t, b.Bytes(), 4<<20)
}
