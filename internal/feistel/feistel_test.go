package feistel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := New(0xC0FFEE)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10_000; i++ {
		v := r.Uint32()
		require.Equal(t, v, c.Decrypt(c.Encrypt(v)))
	}
}

// TestEncryptIsPermutation addresses spec §9's open question directly:
// the original construction only "asserted" its 24-round cipher was a
// permutation. We check injectivity by encrypting every input in
// [0, 2^20) and failing on any repeated output.
func TestEncryptIsPermutation(t *testing.T) {
	c := New(42)

	const domainBits = 20
	seen := make(map[uint32]uint32, 1<<domainBits)
	for v := uint32(0); v < 1<<domainBits; v++ {
		e := c.Encrypt(v)
		if prev, ok := seen[e]; ok {
			t.Fatalf("collision: Encrypt(%d) == Encrypt(%d) == %d", prev, v, e)
		}
		seen[e] = v
	}
}

func TestEncryptAvalanche(t *testing.T) {
	c := New(1234)
	v := uint32(0x12345678)
	e1 := c.Encrypt(v)
	e2 := c.Encrypt(v ^ 1) // flip one input bit

	diff := e1 ^ e2
	bits := 0
	for diff != 0 {
		bits += int(diff & 1)
		diff >>= 1
	}
	// Not a cryptographic claim (spec §1 Non-goals) — just confirms the
	// permutation actually scatters rather than behaving near-linearly.
	require.Greater(t, bits, 4)
}

func TestIndexTagUsesFullCacheRange(t *testing.T) {
	c := New(7)
	const cacheSize = 1_000_000
	seenHigh := false
	for v := uint32(0); v < 1<<16; v++ {
		idx, _ := c.IndexTag(v<<16, cacheSize)
		if idx > cacheSize/2 {
			seenHigh = true
			break
		}
	}
	require.True(t, seenHigh, "index should range across the full cache, not just the low half")
}
