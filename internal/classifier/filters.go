package classifier

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/net/bpf"

	"github.com/packetguard/dplane/internal/wire"
)

const (
	tcpFlagsRST = 0x04
	tcpFlagsFIN = 0x01
	tcpFlagsSYN = 0x02
	tcpFlagsACK = 0x10
)

func checkEthertypeIPv4(onFalse branch) step {
	return testStep(
		[]bpf.Instruction{bpf.LoadAbsolute{Off: wire.EthTypeOffset, Size: 2}},
		bpf.JumpEqual, 0x0800, contNext, onFalse,
	)
}

func checkIPProto(proto uint32, onTrue, onFalse branch) step {
	return testStep(
		[]bpf.Instruction{bpf.LoadAbsolute{Off: wire.EthHeaderLen + wire.IPv4ProtoOffset, Size: 1}},
		bpf.JumpEqual, proto, onTrue, onFalse,
	)
}

// loadIHLIntoX emits the classic "ldxb 4*([14]&0xf)" instruction: X
// becomes the IPv4 header length in bytes, letting later loads reach
// into the TCP header without knowing its fixed offset in advance.
func loadIHLIntoX() step {
	return rawStep(bpf.LoadMemShift{Off: wire.EthHeaderLen})
}

// tcpFlagsOffset is the LoadIndirect offset for "X + tcpFlagsOffset"
// once X holds the IPv4 header length, per the byte-13-of-TCP-header
// convention classic tcpdump filters use for "tcp[13]".
const tcpFlagsOffset = wire.EthHeaderLen + 13

func checkTCPFlagsMasked(mask, cmp uint32, cond bpf.JumpTest, onTrue, onFalse branch) step {
	return testStep(
		[]bpf.Instruction{
			bpf.LoadIndirect{Off: tcpFlagsOffset, Size: 1},
			bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask},
		},
		cond, cmp, onTrue, onFalse,
	)
}

// CompileHygiene builds "tcp and (flags & (RST|FIN) != 0 or flags & (SYN|ACK) == SYN|ACK)"
// — the malformed/aberrant-handshake test spec §4.3 calls the hygiene
// filter.
func CompileHygiene() (Matcher, error) {
	steps := []step{
		checkEthertypeIPv4(toReject),
		checkIPProto(wire.ProtoTCP, contNext, toReject),
		loadIHLIntoX(),
		checkTCPFlagsMasked(tcpFlagsRST|tcpFlagsFIN, 0, bpf.JumpNotEqual, toAccept, contNext),
		checkTCPFlagsMasked(tcpFlagsSYN|tcpFlagsACK, tcpFlagsSYN|tcpFlagsACK, bpf.JumpEqual, toAccept, contNext),
	}
	return compileMatcher(steps)
}

// CompileBlockSensitive builds "udp or (tcp and flags & SYN != 0)" —
// the §4.3 filter applied to packets from a source already at or above
// the block threshold: even on a bucket the inside has opened, a match
// (any UDP, or a TCP segment with SYN set) is dropped.
func CompileBlockSensitive() (Matcher, error) {
	steps := []step{
		checkEthertypeIPv4(toReject),
		checkIPProto(wire.ProtoUDP, toAccept, contNext),
		checkIPProto(wire.ProtoTCP, contNext, toReject),
		loadIHLIntoX(),
		checkTCPFlagsMasked(tcpFlagsSYN, 0, bpf.JumpNotEqual, toAccept, contNext),
	}
	return compileMatcher(steps)
}

func ipv4MaskedConst(p netip.Prefix) (masked uint32, mask uint32) {
	addr4 := p.Masked().Addr().As4()
	masked = binary.BigEndian.Uint32(addr4[:])
	mask = ^uint32(0) << (32 - p.Bits())
	return masked, mask
}

func checkAddrInNetwork(off uint32, p netip.Prefix, onTrue, onFalse branch) step {
	masked, mask := ipv4MaskedConst(p)
	return testStep(
		[]bpf.Instruction{
			bpf.LoadAbsolute{Off: off, Size: 4},
			bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask},
		},
		bpf.JumpEqual, masked, onTrue, onFalse,
	)
}

// CompileDirection builds the "ip and src-membership and dst-membership"
// test spec §3.3/§4.3 uses to dispatch a frame to the inside-handler or
// outside-handler: srcInside/dstInside state whether each address must
// (true) or must not (false) fall within network.
func CompileDirection(network netip.Prefix, srcInside, dstInside bool) (Matcher, error) {
	if !network.Addr().Is4() {
		return nil, fmt.Errorf("classifier: only IPv4 networks are supported, got %s", network)
	}
	srcOnTrue, srcOnFalse := contNext, toReject
	if !srcInside {
		srcOnTrue, srcOnFalse = toReject, contNext
	}
	dstOnTrue, dstOnFalse := toAccept, toReject
	if !dstInside {
		dstOnTrue, dstOnFalse = toReject, toAccept
	}
	steps := []step{
		checkEthertypeIPv4(toReject),
		checkAddrInNetwork(wire.EthHeaderLen+wire.IPv4SrcOffset, network, srcOnTrue, srcOnFalse),
		checkAddrInNetwork(wire.EthHeaderLen+wire.IPv4DstOffset, network, dstOnTrue, dstOnFalse),
	}
	return compileMatcher(steps)
}

// Compile implements the §4.4/§6.4 "compile(program_text, substitutions)"
// contract over the fixed program vocabulary this package supports.
// substitutions["inside_network"] must hold a CIDR string (e.g.
// "10.0.0.0/8") for the two direction programs.
func Compile(program string, substitutions map[string]string) (Matcher, error) {
	switch program {
	case "hygiene":
		return CompileHygiene()
	case "block-sensitive":
		return CompileBlockSensitive()
	case "inside-to-outside", "outside-to-inside":
		netStr, ok := substitutions["inside_network"]
		if !ok {
			return nil, fmt.Errorf("classifier: program %q requires substitution %q", program, "inside_network")
		}
		network, err := netip.ParsePrefix(netStr)
		if err != nil {
			return nil, fmt.Errorf("classifier: parse inside_network: %w", err)
		}
		srcInside := program == "inside-to-outside"
		return CompileDirection(network, srcInside, !srcInside)
	default:
		return nil, fmt.Errorf("classifier: unknown program %q", program)
	}
}
