package siphash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash32Deterministic(t *testing.T) {
	s := NewSeed([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	h1 := s.Hash32([]byte("10.0.0.1:443"))
	h2 := s.Hash32([]byte("10.0.0.1:443"))
	require.Equal(t, h1, h2)
}

func TestHash32DifferentSeedsDiverge(t *testing.T) {
	a := NewSeed([16]byte{1})
	b := NewSeed([16]byte{2})
	require.NotEqual(t, a.Hash32([]byte("same-key")), b.Hash32([]byte("same-key")))
}

func TestHash32NeverProducesSentinel(t *testing.T) {
	s := NewSeed([16]byte{9, 9, 9, 9})
	for i := 0; i < 100_000; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		require.NotEqual(t, uint32(sentinel), s.Hash32(key))
	}
}

func TestSeedBytesRoundTrip(t *testing.T) {
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	s := NewSeed(key)
	require.Equal(t, key, s.Bytes())
}

func TestBatchHash32MatchesPointwise(t *testing.T) {
	s := NewSeed([16]byte{3, 1, 4, 1, 5})
	keys := [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}
	batch := s.BatchHash32(keys)
	for i, k := range keys {
		require.Equal(t, s.Hash32(k), batch[i])
	}
}
