package wic

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// InitArg configures a new Instance.
type InitArg struct {
	Role Role
	URL  URL
	// RxBuf is the buffer the engine uses for the handshake header block
	// and, by default, for reassembling one data frame's payload at a
	// time. It is borrowed for the instance's whole lifetime; the host
	// must not touch it until the connection is closed.
	RxBuf []byte
	Host  Host
	// StreamLargeFrames opts into delivering a single physical frame's
	// payload to Host.OnMessage in RxBuf-sized chunks (fin=false
	// intermediates) instead of closing the connection with
	// CloseMessageTooBig (1009) when the frame does not fit RxBuf.
	StreamLargeFrames bool
	// Logger is optional; when nil, diagnostics are discarded.
	Logger *zerolog.Logger
}

// Instance is a single WebSocket connection's protocol state. It owns no
// socket; all I/O happens through Host.
type Instance struct {
	role   Role
	state  State
	url    URL
	host   Host
	rxBuf  []byte
	stream bool
	Logger *zerolog.Logger

	userHeaders []Header

	redirectURL URL
	hasRedirect bool

	// handshake bookkeeping
	hsKey    string // client: our generated key; server: client's validated key
	hsGot    int    // bytes of the inbound handshake block accumulated so far
	hsInHdrs HeaderList

	// frame decode
	dec frameDecoder

	// midPhysicalFrame is true between two StreamLargeFrames chunk events
	// that belong to the same physical frame (frameFin was false on the
	// previous one). It keeps a multi-chunk delivery of a single TEXT/BINARY
	// frame from being mistaken, chunk after chunk, for the start of a new
	// message (see handleFrameEvent).
	midPhysicalFrame bool

	// receive-side fragmentation context
	fragActive    bool
	fragOpcode    Opcode
	fragValidator UTF8Validator

	// send-side fragmentation context, for validating a multi-call TEXT
	// message across Send calls
	sendFragActive bool
	sendValidator  UTF8Validator

	closeSent     bool
	closeRecv     bool
	closeReported bool
}

// NewInstance constructs and validates a new Instance. Construction returning
// a Go error (rather than a Status) is the one deliberate deviation from the
// Status-based contract: every other host-facing operation below returns
// Status.
func NewInstance(arg InitArg) (*Instance, error) {
	if arg.Host == nil {
		return nil, errHandshakeMalformed // reuse: "missing mandatory callback"
	}
	if len(arg.RxBuf) < 14 {
		// Smaller than the largest possible frame header leaves no room to
		// ever decode a frame.
		return nil, errMalformedFrame
	}
	if arg.URL.Host == "" {
		return nil, errHandshakeMalformed
	}

	inst := &Instance{
		role:   arg.Role,
		state:  StateInit,
		url:    arg.URL,
		host:   arg.Host,
		rxBuf:  arg.RxBuf,
		stream: arg.StreamLargeFrames,
		Logger: arg.Logger,
	}
	return inst, nil
}

// SetHeader registers an extra handshake header. Reserved protocol headers
// are rejected; calling after Start is rejected.
func (inst *Instance) SetHeader(name, value string) Status {
	if inst.state != StateInit {
		return StatusBadState
	}
	if isReservedHeader(name) {
		return StatusBadInput
	}
	inst.userHeaders = append(inst.userHeaders, Header{Name: name, Value: value})
	return StatusSuccess
}

// GetState returns the current connection state.
func (inst *Instance) GetState() State { return inst.state }

// URLSchema, URLHostname, URLPort, URLPath expose the fields of the URL the
// instance was initialised with.
func (inst *Instance) URLSchema() Schema   { return inst.url.Schema }
func (inst *Instance) URLHostname() string { return inst.url.Host }
func (inst *Instance) URLPort() int        { return inst.url.Port }
func (inst *Instance) URLPath() string     { return inst.url.Path }

// GetRedirectURL returns the most recent 3xx Location seen by a client
// instance, and whether one has been recorded.
func (inst *Instance) GetRedirectURL() (URL, bool) {
	return inst.redirectURL, inst.hasRedirect
}

// GetNextHeader returns the i'th header (in receive order) of the inbound
// handshake message: the server response for a client instance, or the
// client request for a server instance.
func (inst *Instance) GetNextHeader(i int) (Header, bool) {
	return inst.hsInHdrs.Next(i)
}

// Start transitions INIT -> READY: a client emits its opening-handshake
// request, a server arms the parser to read one.
func (inst *Instance) Start() Status {
	if inst.state != StateInit {
		return StatusBadState
	}
	inst.hasRedirect = false
	if inst.role == RoleClient {
		inst.hsKey = generateClientKey(inst.randFn())
		buf := inst.host.OnBuffer(inst, 0, BufferUser)
		if buf == nil {
			return StatusWouldBlock
		}
		n, ok := writeClientHandshake(buf, inst.url, inst.hsKey, inst.userHeaders)
		if !ok {
			return StatusTooLarge
		}
		// Enter READY before handing the request to the host: OnSend may
		// synchronously deliver the server's response back into Parse (a
		// loopback host), which must find the parser armed.
		inst.hsGot = 0
		inst.hsInHdrs.Reset()
		inst.setState(StateReady, "start")
		inst.host.OnSend(inst, buf, n, BufferUser)
		return StatusSuccess
	}
	inst.hsGot = 0
	inst.hsInHdrs.Reset()
	inst.setState(StateReady, "start")
	return StatusSuccess
}

// HandshakeTimeout is called by the host's own timer source when no handshake
// response arrived in time. The engine has no timers of its own.
func (inst *Instance) HandshakeTimeout() Status {
	if inst.state != StateReady {
		return StatusBadState
	}
	inst.failHandshake(FailureAbnormal1)
	return StatusSuccess
}

func (inst *Instance) randFn() func() uint32 {
	return func() uint32 { return inst.host.Rand(inst) }
}

func (inst *Instance) setState(to State, why string) {
	from := inst.state
	inst.state = to
	inst.logTransition(from, to, why)
}

func (inst *Instance) failHandshake(reason HandshakeFailure) {
	inst.setState(StateClosed, "handshake-failure:"+reason.String())
	inst.host.OnHandshakeFailure(inst, reason)
}

// Parse feeds inbound bytes to the engine and returns how many bytes of data
// were consumed. Short consumption means back-pressure or that the connection
// reached a terminal state mid-buffer; the caller retries with the remainder.
// Passing a nil slice signals that the transport has closed: during the
// handshake this is reported as FailureAbnormal2; otherwise the engine
// reports a synthesized 1006 close unless a close was already reported.
func (inst *Instance) Parse(data []byte) int {
	if data == nil {
		inst.onTransportDown()
		return 0
	}

	switch inst.state {
	case StateReady:
		return inst.parseHandshake(data)
	case StateOpen, StateClosing:
		return inst.parseFrames(data)
	default:
		return 0
	}
}

func (inst *Instance) onTransportDown() {
	switch inst.state {
	case StateClosed:
		return
	case StateReady:
		// Transport lost mid-handshake: this is a handshake failure, not a
		// websocket-level close.
		inst.failHandshake(FailureAbnormal2)
	default:
		if !inst.closeReported {
			inst.reportClose(CloseAbnormal, nil)
		}
		inst.setState(StateClosed, "transport-down")
	}
	inst.host.OnCloseTransport(inst)
}

// --- Handshake parsing -------------------------------------------------------

func (inst *Instance) parseHandshake(data []byte) int {
	consumed := 0
	for consumed < len(data) && inst.hsGot < len(inst.rxBuf) {
		inst.rxBuf[inst.hsGot] = data[consumed]
		inst.hsGot++
		consumed++
		end := findHeaderBlockEnd(inst.rxBuf[:inst.hsGot])
		if end < 0 {
			continue
		}
		inst.completeHandshake(inst.rxBuf[:end])
		return consumed
	}
	if inst.hsGot >= len(inst.rxBuf) {
		inst.failHandshake(FailureProtocol)
	}
	return consumed
}

func (inst *Instance) completeHandshake(block []byte) {
	startLine, headers, err := parseHeaderBlock(block)
	if err != nil {
		inst.failHandshake(FailureProtocol)
		return
	}
	inst.hsInHdrs = headers

	if inst.role == RoleClient {
		inst.completeClientHandshake(startLine, headers)
	} else {
		inst.completeServerHandshake(startLine, headers)
	}
}

func (inst *Instance) completeClientHandshake(startLine string, headers HeaderList) {
	outcome, location := validateServerResponse(startLine, headers, inst.hsKey)
	switch outcome {
	case clientAccepted:
		inst.setState(StateOpen, "handshake-accepted")
		inst.host.OnOpen(inst)
	case clientIgnore1xx:
		// Consume and continue waiting for the real response; reset the
		// accumulation window to parse the next message from scratch.
		inst.hsGot = 0
	case clientRedirect:
		if u, perr := ParseURL(location); perr == nil {
			inst.redirectURL = u
			inst.hasRedirect = true
		}
		inst.failHandshake(FailureUpgrade)
	default:
		inst.failHandshake(FailureUpgrade)
	}
}

func (inst *Instance) completeServerHandshake(startLine string, headers HeaderList) {
	_, key, verdict := validateClientRequest(startLine, headers)
	switch verdict {
	case serverHandshakeBadVersion:
		inst.sendHandshakeError(426, "Upgrade Required")
		inst.failHandshake(FailureUpgrade)
		return
	case serverHandshakeBadRequest:
		inst.sendHandshakeError(400, "Bad Request")
		inst.failHandshake(FailureUpgrade)
		return
	}
	inst.hsKey = key
	buf := inst.host.OnBuffer(inst, 0, BufferUser)
	if buf == nil {
		// No way to report WOULD_BLOCK from inside parse for the server's
		// own response; the handshake fails rather than silently hanging.
		inst.failHandshake(FailureAbnormal1)
		return
	}
	n, ok := writeServerAccept(buf, key, nil)
	if !ok {
		inst.failHandshake(FailureAbnormal1)
		return
	}
	inst.host.OnSend(inst, buf, n, BufferUser)
	inst.setState(StateOpen, "handshake-accepted")
	inst.host.OnOpen(inst)
}

func (inst *Instance) sendHandshakeError(code int, reason string) {
	buf := inst.host.OnBuffer(inst, 0, BufferUser)
	if buf == nil {
		return
	}
	n, ok := writeServerError(buf, code, reason)
	if !ok {
		return
	}
	inst.host.OnSend(inst, buf, n, BufferUser)
}

// --- Frame parsing -----------------------------------------------------------

func (inst *Instance) parseFrames(data []byte) int {
	total := 0
	expectMasked := inst.role == RoleServer // server receives masked client frames
	for total < len(data) {
		var dataBuf []byte
		if !inst.dec.opcode.isControl() {
			dataBuf = inst.rxBuf
		}
		n, ev, err := inst.dec.decodeStep(data[total:], dataBuf, inst.stream, expectMasked)
		total += n
		if err != nil {
			inst.onProtocolError(err)
			return total
		}
		if ev == nil {
			if n == 0 {
				return total // made no progress: short of a full header/payload, or WOULD_BLOCK
			}
			continue
		}
		if !inst.handleFrameEvent(ev) {
			return total
		}
	}
	return total
}

// onProtocolError maps a decoder error to the RFC-mandated close code and
// begins the close sequence.
func (inst *Instance) onProtocolError(err error) {
	code := CloseProtocolError
	switch err {
	case errInvalidUTF8:
		code = CloseInvalidPayloadData
	case errPayloadTooLarge:
		code = CloseMessageTooBig
	case errUnknownOpcode, errReservedBitSet, errMaskPolicy, errFragmentedControl,
		errUnexpectedContinue, errInterleavedData, errMalformedFrame, errMalformedClose:
		code = CloseProtocolError
	}
	inst.beginLocalClose(code, nil)
}

// handleFrameEvent dispatches one decoded frame/chunk. It returns false if
// the connection has been closed and the caller should stop parsing.
func (inst *Instance) handleFrameEvent(ev *frameEvent) bool {
	switch ev.opcode {
	case OpcodePing:
		inst.onPing(ev.payload)
		return true
	case OpcodePong:
		return true // unsolicited pong: accepted, no action
	case OpcodeClose:
		return inst.onClose(ev.payload)
	case OpcodeText, OpcodeBinary:
		// When StreamLargeFrames splits one physical frame into several
		// chunk events, every chunk keeps the frame's original wire opcode
		// (TEXT/BINARY), not just the first one. Only the first chunk of a
		// physical frame actually "starts" a message; later chunks of the
		// same frame must not re-run the fragmentation-start checks.
		starts := !inst.midPhysicalFrame
		ok := inst.onDataFrame(ev, starts)
		inst.midPhysicalFrame = !ev.frameFin
		return ok
	case OpcodeContinuation:
		ok := inst.onDataFrame(ev, false)
		inst.midPhysicalFrame = !ev.frameFin
		return ok
	default:
		inst.onProtocolError(errUnknownOpcode)
		return false
	}
}

func (inst *Instance) onPing(payload []byte) {
	if inst.state != StateOpen {
		return
	}
	buf := inst.host.OnBuffer(inst, encodedHeaderLen(len(payload), inst.role == RoleClient)+len(payload), BufferPong)
	if buf == nil {
		return // best-effort: the PONG is dropped if the host has no buffer
	}
	var key [4]byte
	masked := inst.role == RoleClient
	if masked {
		key = newMaskKey(inst.randFn())
	}
	n, ok := encodeFrame(buf, true, OpcodePong, masked, key, payload)
	if !ok {
		return
	}
	inst.host.OnSend(inst, buf, n, BufferPong)
}

func (inst *Instance) onClose(payload []byte) bool {
	code, reason, ok := parseClosePayload(payload)
	if !ok {
		inst.onProtocolError(errMalformedClose)
		return false
	}

	alreadyReported := inst.closeReported
	if !alreadyReported {
		inst.reportClose(code, reason)
	}
	inst.closeRecv = true

	if !inst.closeSent {
		// Echo the close, unless we're replying to an in-progress protocol
		// error (onProtocolError already started its own close sequence
		// before a receive-side close could arrive, so closeSent would
		// already be true in that case).
		echoCode := code
		if !code.validToSend() {
			echoCode = CloseNormal
		}
		inst.sendCloseFrame(echoCode, nil, BufferCloseResponse)
	}
	return inst.maybeFinishClose()
}

// parseClosePayload validates and splits a CLOSE frame payload per RFC 6455
// §5.5.1: empty, or a 2-byte big-endian code followed by a UTF-8 reason.
func parseClosePayload(payload []byte) (code CloseCode, reason []byte, ok bool) {
	if len(payload) == 0 {
		return CloseNoStatus, nil, true
	}
	if len(payload) == 1 {
		return 0, nil, false
	}
	code = CloseCode(binary.BigEndian.Uint16(payload[:2]))
	reason = payload[2:]
	if !code.validOnWire() {
		return 0, nil, false
	}
	if !utf8.Valid(reason) {
		return 0, nil, false
	}
	return code, reason, true
}

func (inst *Instance) onDataFrame(ev *frameEvent, starts bool) bool {
	if starts {
		if inst.fragActive {
			inst.onProtocolError(errInterleavedData)
			return false
		}
		if ev.opcode == OpcodeText {
			inst.fragValidator.Reset()
			if err := inst.fragValidator.FeedAll(ev.payload); err != nil {
				inst.onProtocolError(errInvalidUTF8)
				return false
			}
		}
		if !ev.fin {
			inst.fragActive = true
			inst.fragOpcode = ev.opcode
		}
	} else {
		if !inst.fragActive {
			inst.onProtocolError(errUnexpectedContinue)
			return false
		}
		if inst.fragOpcode == OpcodeText {
			if err := inst.fragValidator.FeedAll(ev.payload); err != nil {
				inst.onProtocolError(errInvalidUTF8)
				return false
			}
		}
		if ev.fin {
			inst.fragActive = false
		}
	}

	opcode := ev.opcode
	if !starts {
		opcode = inst.fragOpcode
	}
	if ev.fin && opcode == OpcodeText && !inst.fragValidator.Clean() {
		inst.onProtocolError(errInvalidUTF8)
		return false
	}

	enc := EncodingBinary
	if opcode == OpcodeText {
		enc = EncodingText
	}
	if !inst.host.OnMessage(inst, enc, ev.fin, ev.payload) {
		inst.beginLocalClose(ClosePolicyViolation, nil)
		return false
	}
	return true
}

// --- Close handling -----------------------------------------------------------

func (inst *Instance) reportClose(code CloseCode, reason []byte) {
	inst.closeReported = true
	inst.host.OnClose(inst, code, reason)
}

// beginLocalClose starts (or continues) a locally-decided close, either from
// a protocol error or from the public Close/CloseWithReason API.
func (inst *Instance) beginLocalClose(code CloseCode, reason []byte) Status {
	if inst.state != StateOpen {
		if inst.state == StateClosing || inst.state == StateClosed {
			return StatusSuccess // close is idempotent
		}
		return StatusBadState
	}
	if !inst.closeReported {
		inst.reportClose(code, reason)
	}
	inst.sendCloseFrame(code, reason, BufferClose)
	return StatusSuccess
}

func (inst *Instance) sendCloseFrame(code CloseCode, reason []byte, typ BufferType) {
	if inst.closeSent {
		return
	}
	// reason is capped at 123 bytes by CloseWithReason, so code+reason always
	// fits a control frame's 125-byte payload limit.
	var payloadArr [2 + 123]byte
	var payload []byte
	if code != CloseNoStatus {
		binary.BigEndian.PutUint16(payloadArr[:2], uint16(code))
		n := copy(payloadArr[2:], reason)
		payload = payloadArr[:2+n]
	}
	masked := inst.role == RoleClient
	var key [4]byte
	if masked {
		key = newMaskKey(inst.randFn())
	}
	buf := inst.host.OnBuffer(inst, encodedHeaderLen(len(payload), masked)+len(payload), typ)
	if buf == nil {
		return // best-effort; see onPing
	}
	n, ok := encodeFrame(buf, true, OpcodeClose, masked, key, payload)
	if !ok {
		return
	}
	// Mark the close as sent, and move to CLOSING, before handing the frame
	// to the host: OnSend may synchronously deliver the peer's own CLOSE
	// back into this instance (a loopback host, or a very fast transport),
	// which re-enters onClose and must see a consistent closeSent/state.
	inst.closeSent = true
	inst.setState(StateClosing, "close-sent")
	inst.host.OnSend(inst, buf, n, typ)
	inst.maybeFinishClose()
}

func (inst *Instance) maybeFinishClose() bool {
	if inst.closeSent && inst.closeRecv && inst.state != StateClosed {
		inst.setState(StateClosed, "close-complete")
		inst.host.OnCloseTransport(inst)
		return false
	}
	return inst.state != StateClosed
}

// Close initiates a normal (1000) close. Idempotent at any state.
func (inst *Instance) Close() Status {
	return inst.CloseWithReason(CloseNormal, nil)
}

// CloseWithReason initiates a close with an explicit code and reason. code
// must be in the allowed sending range; reason must be <=123 bytes and valid
// UTF-8. Closing before the handshake has completed cancels the connection
// outright: nothing has been negotiated yet, so no close handshake runs.
func (inst *Instance) CloseWithReason(code CloseCode, reason []byte) Status {
	if len(reason) > 123 {
		return StatusBadInput
	}
	if !utf8.Valid(reason) {
		return StatusBadInput
	}
	if !code.validToSend() {
		return StatusBadInput
	}
	switch inst.state {
	case StateClosing, StateClosed:
		return StatusSuccess // idempotent
	case StateOpen:
		return inst.beginLocalClose(code, reason)
	case StateReady:
		// Local cancel of an in-flight handshake; reported through the same
		// callback a handshake timeout uses.
		inst.failHandshake(FailureAbnormal1)
		inst.host.OnCloseTransport(inst)
		return StatusSuccess
	default: // StateInit
		inst.setState(StateClosed, "closed-before-start")
		inst.host.OnCloseTransport(inst)
		return StatusSuccess
	}
}

// --- Sending data -------------------------------------------------------------

// SendPing enqueues a PING control frame carrying payload. The engine never
// schedules keepalive pings of its own; a host that wants them initiates them
// here. payload must be <=125 bytes.
func (inst *Instance) SendPing(payload []byte) Status {
	if inst.state != StateOpen {
		return StatusBadState
	}
	if inst.closeSent {
		return StatusBadState
	}
	if len(payload) > maxControlPayload {
		return StatusBadInput
	}
	masked := inst.role == RoleClient
	var key [4]byte
	if masked {
		key = newMaskKey(inst.randFn())
	}
	buf := inst.host.OnBuffer(inst, encodedHeaderLen(len(payload), masked)+len(payload), BufferPing)
	if buf == nil {
		return StatusWouldBlock
	}
	n, ok := encodeFrame(buf, true, OpcodePing, masked, key, payload)
	if !ok {
		return StatusTooLarge
	}
	inst.host.OnSend(inst, buf, n, BufferPing)
	return StatusSuccess
}

// SendText enqueues a TEXT (or TEXT continuation) data frame.
func (inst *Instance) SendText(fin bool, data []byte) Status {
	return inst.send(EncodingText, fin, data)
}

// SendBinary enqueues a BINARY (or BINARY continuation) data frame.
func (inst *Instance) SendBinary(fin bool, data []byte) Status {
	return inst.send(EncodingBinary, fin, data)
}

// Send enqueues a data frame of the given encoding.
func (inst *Instance) Send(enc Encoding, fin bool, data []byte) Status {
	return inst.send(enc, fin, data)
}

func (inst *Instance) send(enc Encoding, fin bool, data []byte) Status {
	if inst.state != StateOpen {
		return StatusBadState
	}
	if inst.closeSent {
		return StatusBadState // no further data sends once CLOSE is sent
	}

	opcode := OpcodeBinary
	if enc == EncodingText {
		opcode = OpcodeText
	}
	if enc == EncodingText {
		if !inst.sendFragActive {
			inst.sendValidator.Reset()
		}
		if err := inst.sendValidator.FeedAll(data); err != nil {
			return StatusBadInput
		}
		if fin && !inst.sendValidator.Clean() {
			return StatusBadInput
		}
	}
	if inst.sendFragActive {
		opcode = OpcodeContinuation
	}

	masked := inst.role == RoleClient
	var key [4]byte
	if masked {
		key = newMaskKey(inst.randFn())
	}
	need := encodedHeaderLen(len(data), masked) + len(data)
	buf := inst.host.OnBuffer(inst, need, BufferUser)
	if buf == nil {
		return StatusWouldBlock
	}
	if len(buf) < need {
		return StatusTooLarge
	}
	n, ok := encodeFrame(buf, fin, opcode, masked, key, data)
	if !ok {
		return StatusTooLarge
	}
	inst.host.OnSend(inst, buf, n, BufferUser)

	inst.sendFragActive = !fin
	return StatusSuccess
}
