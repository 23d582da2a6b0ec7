package scansuppressor

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packetguard/dplane/internal/wire"
)

const (
	tcpFlagsSYN = 0x02
	tcpFlagsACK = 0x10
	tcpFlagsRST = 0x04
)

// buildTCP assembles a minimal Ethernet+IPv4+TCP frame.
func buildTCP(src, dst uint32, srcPort, dstPort uint16, flags byte) []byte {
	const ihl = 20
	const tcpLen = 20
	frame := make([]byte, wire.EthHeaderLen+ihl+tcpLen)
	binary.BigEndian.PutUint16(frame[wire.EthTypeOffset:], wire.EtherTypeIPv4)

	ip := frame[wire.EthHeaderLen:]
	ip[wire.IPv4VerIHLOffset] = (4 << 4) | (ihl / 4)
	binary.BigEndian.PutUint16(ip[wire.IPv4TotalLenOffset:], uint16(ihl+tcpLen))
	ip[wire.IPv4ProtoOffset] = wire.ProtoTCP
	binary.BigEndian.PutUint32(ip[wire.IPv4SrcOffset:], src)
	binary.BigEndian.PutUint32(ip[wire.IPv4DstOffset:], dst)

	tcp := ip[ihl:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	tcp[12] = 5 << 4 // data offset: 5 words = 20 bytes
	tcp[13] = flags
	return frame
}

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func ip4(a, b, c, d byte) uint32 {
	return binary.BigEndian.Uint32([]byte{a, b, c, d})
}

// S3: 6 distinct-destination SYN scans from one outside source trip
// the block threshold on the 6th; a return packet from the 3rd
// destination is recognized as a hit and rescues the address count.
func TestScanBlockThreshold(t *testing.T) {
	network := mustPrefix(t, "10.0.0.0/8")
	// A large connection cache keeps the six probe flows in distinct
	// buckets; a shared bucket would suppress a count increment.
	s, err := New(network, WithBlockThreshold(5), WithCacheSizes(1<<20, 64))
	require.NoError(t, err)

	attacker := ip4(192, 0, 2, 1)
	var lastAllowed, lastDropped bool
	for i := byte(1); i <= 6; i++ {
		dst := ip4(10, 0, 0, i)
		frame := buildTCP(attacker, dst, 50000+uint16(i), 80, tcpFlagsSYN)
		forward := s.Process(frame, 0)
		if i < 6 {
			lastAllowed = forward
			require.True(t, forward, "packet %d should be forwarded", i)
		} else {
			lastDropped = !forward
		}
	}
	require.True(t, lastAllowed)
	require.True(t, lastDropped, "6th distinct destination must be dropped")
	require.Equal(t, int16(5), s.addr.get(attacker))

	// Inside host 10.0.0.3 replies: recognized as a hit, count -= 2.
	reply := buildTCP(ip4(10, 0, 0, 3), attacker, 80, 50003, tcpFlagsSYN|tcpFlagsACK)
	forward := s.Process(reply, 0)
	require.True(t, forward)
	require.Equal(t, int16(3), s.addr.get(attacker))
}

// S4: an outside TCP RST with no established in_to_out entry is
// dropped even though the source's count is still below T.
func TestHygieneFilterDropsUnsolicitedRST(t *testing.T) {
	network := mustPrefix(t, "10.0.0.0/8")
	s, err := New(network, WithBlockThreshold(5), WithCacheSizes(64, 64))
	require.NoError(t, err)

	frame := buildTCP(ip4(203, 0, 113, 9), ip4(10, 0, 0, 5), 443, 51000, tcpFlagsRST)
	require.False(t, s.Process(frame, 0))
}

// Once an inside host has initiated a connection, the matching outside
// reply is treated as a hit and forwarded regardless of hygiene.
func TestEstablishedConnectionAllowsReply(t *testing.T) {
	network := mustPrefix(t, "10.0.0.0/8")
	s, err := New(network, WithBlockThreshold(5), WithCacheSizes(64, 64))
	require.NoError(t, err)

	out := buildTCP(ip4(10, 0, 0, 7), ip4(93, 184, 216, 34), 51234, 443, tcpFlagsSYN)
	require.True(t, s.Process(out, 0))

	reply := buildTCP(ip4(93, 184, 216, 34), ip4(10, 0, 0, 7), 443, 51234, tcpFlagsRST)
	require.True(t, s.Process(reply, 0))
}

func TestAgingClearsStaleConnections(t *testing.T) {
	network := mustPrefix(t, "10.0.0.0/8")
	s, err := New(network, WithBlockThreshold(5), WithCacheSizes(64, 64),
		WithTickIntervals(1000, 1, 2))
	require.NoError(t, err)

	out := buildTCP(ip4(10, 0, 0, 7), ip4(93, 184, 216, 34), 51234, 443, tcpFlagsSYN)
	require.True(t, s.Process(out, 0))

	idx := s.conn.index(ip4(10, 0, 0, 7), ip4(93, 184, 216, 34), 51234)
	require.True(t, connInToOutSet(*s.conn.entry(idx)))

	// Ticks 1 and 2 at the age interval bring the slot's age to
	// dConnTicks=2, which clears it; tick 3 finds it already free.
	s.Process(buildTCP(0, 0, 0, 0, 0), 1)
	s.Process(buildTCP(0, 0, 0, 0, 0), 2)
	s.Process(buildTCP(0, 0, 0, 0, 0), 3)

	require.Equal(t, byte(0), *s.conn.entry(idx))
}

func TestMalformedHeaderForwarded(t *testing.T) {
	network := mustPrefix(t, "10.0.0.0/8")
	s, err := New(network, WithCacheSizes(64, 64))
	require.NoError(t, err)
	require.True(t, s.Process([]byte{0, 1, 2}, 0))
}
