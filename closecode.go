package wic

// CloseCode is the 2-byte big-endian numeric reason that accompanies a CLOSE
// frame.
type CloseCode uint16

// RFC 6455 §7.4 status codes.
const (
	CloseNormal             CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseReserved           CloseCode = 1004 // reserved, never sent on the wire
	CloseNoStatus           CloseCode = 1005 // never sent on the wire
	CloseAbnormal           CloseCode = 1006 // never sent on the wire
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseExtensionRequired  CloseCode = 1010
	CloseInternalError      CloseCode = 1011
	CloseTLSHandshake       CloseCode = 1015 // never sent on the wire
)

// neverSent are status codes that must never appear in an outbound CLOSE
// frame even though they are meaningful to report locally.
func (c CloseCode) neverSent() bool {
	switch c {
	case CloseReserved, CloseNoStatus, CloseAbnormal, CloseTLSHandshake:
		return true
	default:
		return false
	}
}

// validToSend reports whether c is in the allowed sending range: 1000-1011
// (excluding the never-sent codes above) or the private-use range
// 3000-4999.
func (c CloseCode) validToSend() bool {
	if c.neverSent() {
		return false
	}
	if c >= 1000 && c <= 1011 {
		return true
	}
	if c >= 3000 && c <= 4999 {
		return true
	}
	return false
}

// validOnWire reports whether c is acceptable in a CLOSE frame received from
// the peer. This is the same range as validToSend: 1004/1005/1006/1015 must
// never actually be found encoded in a frame (they're reserved for
// library-internal signalling only), so receiving them is itself a protocol
// error.
func (c CloseCode) validOnWire() bool {
	return c.validToSend()
}
