package wic

import "errors"

// Internal codec-level sentinel errors. Apart from NewInstance, which returns
// some of them as its construction error, instance.go translates them into
// either a Status return value or a CLOSE frame with the appropriate RFC 6455
// code.
var (
	errInvalidUTF8        = errors.New("wic: invalid utf-8")
	errMalformedFrame     = errors.New("wic: malformed frame")
	errReservedBitSet     = errors.New("wic: reserved bit set")
	errUnknownOpcode      = errors.New("wic: unknown opcode")
	errFragmentedControl  = errors.New("wic: control frame fragmented or oversized")
	errUnexpectedContinue = errors.New("wic: unexpected continuation frame")
	errInterleavedData    = errors.New("wic: data frame interleaved in fragmented message")
	errMaskPolicy         = errors.New("wic: masking policy violation")
	errMalformedClose     = errors.New("wic: malformed close frame")
	errHandshakeMalformed = errors.New("wic: malformed handshake")
	errPayloadTooLarge    = errors.New("wic: frame payload exceeds receive buffer")
)
