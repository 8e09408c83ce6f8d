package wic

import (
	"io"

	"github.com/rs/zerolog"
)

// nopLogger is used whenever an Instance is constructed without an explicit
// Logger, so the hot path never has to nil-check before logging.
var nopLogger = zerolog.New(io.Discard)

func (inst *Instance) logger() *zerolog.Logger {
	if inst.Logger != nil {
		return inst.Logger
	}
	return &nopLogger
}

// logTransition emits one structured diagnostic line per state transition.
// It is never called from the frame/UTF-8 hot path, only from Start, the
// handshake outcome, and Close, so the per-frame codec stays allocation-free.
func (inst *Instance) logTransition(from, to State, why string) {
	inst.logger().Debug().
		Stringer("role", inst.role).
		Stringer("from", from).
		Stringer("to", to).
		Str("why", why).
		Msg("wic: state transition")
}
