package reassembly

import "errors"

// errMalformedHeader is returned when a frame fails the fixed-layout
// Ethernet/IPv4 parse itself (§6.1), distinct from the FragmentAnomaly
// taxonomy in §7 which governs well-formed-but-structurally-invalid
// fragment sequences (overlap, gap, oversize, duplicate final).
var errMalformedHeader = errors.New("reassembly: malformed ethernet/ipv4 header")
