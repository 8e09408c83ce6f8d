package wic

// BufferType categorises an outbound write so the host can route it to a
// priority queue or a per-purpose pool.
type BufferType int

const (
	// BufferUser carries a host-initiated data frame or the client/server
	// handshake HTTP block.
	BufferUser BufferType = iota
	// BufferClose carries a locally-initiated CLOSE frame.
	BufferClose
	// BufferCloseResponse carries a CLOSE frame sent in reply to one the
	// peer sent first.
	BufferCloseResponse
	// BufferPing carries an outbound PING.
	BufferPing
	// BufferPong carries an outbound PONG (including the automatic echo of
	// a received PING).
	BufferPong
)

// Priority returns the send priority of each buffer type: CLOSE=2, PING and
// PONG=1, everything else=0. Hosts implementing a priority queue may use this
// to decide ordering; the engine itself only ever asks for one buffer at a
// time and does not reorder host-visible sends.
func (t BufferType) Priority() int {
	switch t {
	case BufferClose, BufferCloseResponse:
		return 2
	case BufferPing, BufferPong:
		return 1
	default:
		return 0
	}
}

func (t BufferType) String() string {
	switch t {
	case BufferUser:
		return "user"
	case BufferClose:
		return "close"
	case BufferCloseResponse:
		return "close-response"
	case BufferPing:
		return "ping"
	case BufferPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Encoding distinguishes text from binary application payloads.
type Encoding int

const (
	EncodingText Encoding = iota
	EncodingBinary
)

// HandshakeFailure enumerates why the opening handshake did not complete.
type HandshakeFailure int

const (
	// FailureAbnormal1 is a timeout: no handshake response arrived in time.
	FailureAbnormal1 HandshakeFailure = iota
	// FailureAbnormal2 is a transport closed mid-handshake.
	FailureAbnormal2
	// FailureProtocol means the inbound bytes were not HTTP at all.
	FailureProtocol
	// FailureUpgrade means the HTTP exchange completed but did not upgrade
	// (wrong status, missing/incorrect headers, or a 3xx redirect).
	FailureUpgrade
	// FailureTLS is a placeholder for a TLS-layer failure reported by a host
	// that terminates TLS itself; the engine never originates this value.
	FailureTLS
	// FailureIrrelevant covers any other terminal condition the host wishes
	// to surface through the same callback.
	FailureIrrelevant
)

func (f HandshakeFailure) String() string {
	switch f {
	case FailureAbnormal1:
		return "abnormal-1"
	case FailureAbnormal2:
		return "abnormal-2"
	case FailureProtocol:
		return "protocol"
	case FailureUpgrade:
		return "upgrade"
	case FailureTLS:
		return "tls"
	case FailureIrrelevant:
		return "irrelevant"
	default:
		return "unknown"
	}
}

// Host is the set of callbacks the engine invokes synchronously from inside
// Start/Parse/Send*/Close*. None of these may re-enter the engine except
// OnMessage, which may call Send: it runs between delivered frames, when the
// codec state is quiescent.
type Host interface {
	// OnBuffer requests a writable buffer of at least minSize bytes for an
	// outbound write of the given type. Returning a nil slice signals
	// "would block"; the engine then fails the triggering operation with
	// StatusWouldBlock (or, for an internally generated frame such as an
	// automatic PONG, silently drops it — see onPing in instance.go). The returned
	// slice's length is treated as its capacity; the engine will write at
	// most len(buf) bytes into it.
	OnBuffer(inst *Instance, minSize int, typ BufferType) []byte

	// OnSend hands a filled buffer (previously returned by OnBuffer) back to
	// the host for transmission. size is the number of meaningful bytes;
	// the engine never calls OnSend with more bytes than OnBuffer granted.
	OnSend(inst *Instance, data []byte, size int, typ BufferType)

	// OnCloseTransport asks the host to close the underlying byte stream.
	// Called once the close handshake (or a protocol error) has run its
	// course.
	OnCloseTransport(inst *Instance)

	// Rand returns a uniformly distributed 32-bit value, used both for the
	// client handshake nonce and for per-frame masking keys.
	Rand(inst *Instance) uint32

	// OnOpen is called exactly once when the state machine reaches OPEN.
	OnOpen(inst *Instance)

	// OnClose is called once, when the first CLOSE is sent locally or
	// received from the peer (or synthesized, e.g. a 1006 on transport
	// loss). code/reason describe whichever CLOSE came first when both
	// sides initiate one.
	OnClose(inst *Instance, code CloseCode, reason []byte)

	// OnHandshakeFailure is called when the READY state terminates without
	// reaching OPEN.
	OnHandshakeFailure(inst *Instance, reason HandshakeFailure)

	// OnMessage delivers one frame's worth of application payload. fin is
	// true iff this is the last fragment of the message. Returning false
	// applies back-pressure: the engine closes the connection with
	// ClosePolicyViolation (see instance.go).
	OnMessage(inst *Instance, encoding Encoding, fin bool, data []byte) bool
}
