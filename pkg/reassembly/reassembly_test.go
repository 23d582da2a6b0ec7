package reassembly

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packetguard/dplane/internal/wire"
)

const (
	testSrc   = 0x01010101 // 1.1.1.1
	testDst   = 0x02020202 // 2.2.2.2
	testFrag  = 0x1234
	testIHL   = 20
)

// buildFragment assembles a minimal Ethernet+IPv4 frame carrying
// payload as one fragment at the given byte offset, with the MF bit
// set according to more.
func buildFragment(t *testing.T, offset int, payload []byte, more bool) []byte {
	t.Helper()
	frame := make([]byte, wire.EthHeaderLen+testIHL+len(payload))
	binary.BigEndian.PutUint16(frame[wire.EthTypeOffset:], wire.EtherTypeIPv4)

	ip := frame[wire.EthHeaderLen:]
	ip[wire.IPv4VerIHLOffset] = (4 << 4) | (testIHL / 4)
	binary.BigEndian.PutUint16(ip[wire.IPv4TotalLenOffset:], uint16(testIHL+len(payload)))
	binary.BigEndian.PutUint16(ip[wire.IPv4IdentOffset:], testFrag)
	flagsFrag := uint16(offset / wire.IPv4FragOffUnit)
	if more {
		flagsFrag |= wire.IPv4FlagMF << 8
	}
	binary.BigEndian.PutUint16(ip[wire.IPv4FlagsFragOffset:], flagsFrag)
	ip[wire.IPv4ProtoOffset] = wire.ProtoUDP
	binary.BigEndian.PutUint32(ip[wire.IPv4SrcOffset:], testSrc)
	binary.BigEndian.PutUint32(ip[wire.IPv4DstOffset:], testDst)
	copy(ip[testIHL:], payload)
	return frame
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// S1: three in-order, non-overlapping fragments reassemble cleanly.
func TestCacheFragmentHappyPath(t *testing.T) {
	r := New(16, 16)

	f1 := buildFragment(t, 0, fill(1200, 'a'), true)
	f2 := buildFragment(t, 1200, fill(1200, 'b'), true)
	f3 := buildFragment(t, 2400, fill(600, 'c'), false)

	status, pk, err := r.CacheFragment(f1, 0)
	require.NoError(t, err)
	require.Equal(t, StatusMissing, status)
	require.Nil(t, pk)

	status, pk, err = r.CacheFragment(f2, 0)
	require.NoError(t, err)
	require.Equal(t, StatusMissing, status)
	require.Nil(t, pk)

	status, pk, err = r.CacheFragment(f3, 0)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.NotNil(t, pk)

	ip := pk.Bytes()[wire.EthHeaderLen:]
	totalLen := binary.BigEndian.Uint16(ip[wire.IPv4TotalLenOffset:])
	require.Equal(t, uint16(20+3000), totalLen)
	ident := binary.BigEndian.Uint16(ip[wire.IPv4IdentOffset:])
	require.Equal(t, uint16(0), ident)

	payload := pk.Bytes()[wire.EthHeaderLen+testIHL:]
	require.Len(t, payload, 3000)
	require.Equal(t, fill(1200, 'a'), payload[0:1200])
	require.Equal(t, fill(1200, 'b'), payload[1200:2400])
	require.Equal(t, fill(600, 'c'), payload[2400:3000])
}

// S1 variant: fragments delivered out of order still reassemble.
func TestCacheFragmentOutOfOrder(t *testing.T) {
	r := New(16, 16)

	f2 := buildFragment(t, 1200, fill(1200, 'b'), true)
	f1 := buildFragment(t, 0, fill(1200, 'a'), true)
	f3 := buildFragment(t, 2400, fill(600, 'c'), false)

	_, _, err := r.CacheFragment(f2, 0)
	require.NoError(t, err)
	_, _, err = r.CacheFragment(f1, 0)
	require.NoError(t, err)
	status, pk, err := r.CacheFragment(f3, 0)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.NotNil(t, pk)
}

// S2: overlapping fragments are rejected.
func TestCacheFragmentOverlapRejected(t *testing.T) {
	r := New(16, 16)

	f1 := buildFragment(t, 0, fill(1000, 'a'), true)
	f2 := buildFragment(t, 800, fill(800, 'b'), false)

	status, _, err := r.CacheFragment(f1, 0)
	require.NoError(t, err)
	require.Equal(t, StatusMissing, status)

	status, pk, err := r.CacheFragment(f2, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, status)
	require.Nil(t, pk)

	// the flow must have been dropped, not left pending
	require.Zero(t, r.Stats().LiveFlows)
}

// A gap between fragments, with no more fragments in flight to fill it,
// is not distinguishable from a gap that is merely still in transit: it
// reads as still missing, not invalid (only overlap is structurally
// invalid once coverage is complete).
func TestCacheFragmentGapReadsAsMissing(t *testing.T) {
	r := New(16, 16)

	f1 := buildFragment(t, 0, fill(500, 'a'), true)
	f2 := buildFragment(t, 1000, fill(500, 'b'), false) // gap between 500 and 1000

	_, _, err := r.CacheFragment(f1, 0)
	require.NoError(t, err)
	status, _, err := r.CacheFragment(f2, 0)
	require.NoError(t, err)
	require.Equal(t, StatusMissing, status)
}

func TestCacheFragmentDuplicateFinalRejected(t *testing.T) {
	r := New(16, 16)

	f1 := buildFragment(t, 0, fill(500, 'a'), false)
	f2 := buildFragment(t, 500, fill(500, 'b'), false)

	status, pk, err := r.CacheFragment(f1, 0)
	require.NoError(t, err)
	// first fragment's own offset is 0 with MF=0: per §3.5's literal
	// final_start==0 sentinel this never completes on its own.
	require.Equal(t, StatusMissing, status)
	require.Nil(t, pk)

	status, _, err = r.CacheFragment(f2, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, status)
}

func TestCacheFragmentTooManyFragmentsDropped(t *testing.T) {
	r := New(16, 2)

	f1 := buildFragment(t, 0, fill(100, 'a'), true)
	f2 := buildFragment(t, 100, fill(100, 'b'), true)
	f3 := buildFragment(t, 200, fill(100, 'c'), false)

	_, _, err := r.CacheFragment(f1, 0)
	require.NoError(t, err)
	_, _, err = r.CacheFragment(f2, 0)
	require.NoError(t, err)
	status, _, err := r.CacheFragment(f3, 0)
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, status)
}

func TestCacheFragmentCapacityTriggersRandomEjection(t *testing.T) {
	r := New(2, 16)

	mkFrame := func(fragID uint16) []byte {
		frame := buildFragment(t, 0, fill(100, 'x'), true)
		binary.BigEndian.PutUint16(frame[wire.EthHeaderLen+wire.IPv4IdentOffset:], fragID)
		return frame
	}

	_, _, err := r.CacheFragment(mkFrame(1), 0)
	require.NoError(t, err)
	_, _, err = r.CacheFragment(mkFrame(2), 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), r.Stats().LiveFlows)

	// a third distinct flow forces an eviction to stay within capacity
	_, _, err = r.CacheFragment(mkFrame(3), 0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), r.Stats().LiveFlows)
}

func TestSweepExpiresStaleBuffers(t *testing.T) {
	r := New(16, 16, WithReassemblyTTL(10))

	f1 := buildFragment(t, 0, fill(100, 'a'), true)
	_, _, err := r.CacheFragment(f1, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), r.Stats().LiveFlows)

	r.Sweep(20)
	require.Zero(t, r.Stats().LiveFlows)
}

func TestMalformedHeaderRejected(t *testing.T) {
	r := New(16, 16)
	status, pk, err := r.CacheFragment([]byte{0, 1, 2}, 0)
	require.Error(t, err)
	require.Equal(t, StatusInvalid, status)
	require.Nil(t, pk)
}
