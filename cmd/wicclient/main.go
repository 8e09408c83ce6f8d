// Command wicclient dials a WebSocket endpoint with the wic engine and
// relays stdin lines to the server as text frames, printing each received
// frame that has fin set (earlier fragments of a fragmented message are not
// printed). It is the client-side counterpart of cmd/wicserver.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/corvid-systems/wic"
)

func main() {
	target := flag.String("url", "ws://127.0.0.1:8080/", "ws:// URL to connect to (wss:// is rejected: no TLS dialer)")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "wicclient").Logger()

	u, err := wic.ParseURL(*target)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse url")
	}
	if u.Schema == wic.SchemaWSS {
		logger.Fatal().Msg("wss:// requires a TLS dialer; not wired up in this demo")
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", u.Host, u.Port))
	if err != nil {
		logger.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()

	host := &stdioHost{conn: conn, log: logger, done: make(chan struct{})}

	inst, err := wic.NewInstance(wic.InitArg{
		Role:   wic.RoleClient,
		URL:    u,
		RxBuf:  make([]byte, 4096),
		Host:   host,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("new instance")
	}
	host.inst = inst

	if status := inst.Start(); status != wic.StatusSuccess {
		logger.Fatal().Stringer("status", status).Msg("start")
	}

	go readLoop(conn, inst, &host.mu)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		host.mu.Lock()
		if inst.GetState() != wic.StateOpen {
			host.mu.Unlock()
			break
		}
		status := inst.SendText(true, scanner.Bytes())
		host.mu.Unlock()
		if status != wic.StatusSuccess {
			logger.Error().Stringer("status", status).Msg("send")
		}
	}

	host.mu.Lock()
	if inst.GetState() == wic.StateOpen {
		inst.Close()
	}
	host.mu.Unlock()
	<-host.done
}

// readLoop owns the socket's receive side and is the only other goroutine
// that ever calls into inst besides main's stdin loop; mu serializes the
// two since the engine itself only promises re-entrancy in the
// OnMessage -> Send direction, not across independent goroutines.
func readLoop(conn net.Conn, inst *wic.Instance, mu *sync.Mutex) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		mu.Lock()
		if err != nil {
			inst.Parse(nil)
			mu.Unlock()
			return
		}
		pending := buf[:n]
		for len(pending) > 0 {
			consumed := inst.Parse(pending)
			if inst.GetState() == wic.StateClosed || consumed == 0 {
				break
			}
			pending = pending[consumed:]
		}
		state := inst.GetState()
		mu.Unlock()
		if state == wic.StateClosed {
			return
		}
	}
}

type stdioHost struct {
	conn net.Conn
	log  zerolog.Logger
	inst *wic.Instance
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (h *stdioHost) OnBuffer(inst *wic.Instance, minSize int, typ wic.BufferType) []byte {
	return make([]byte, minSize)
}

func (h *stdioHost) OnSend(inst *wic.Instance, data []byte, size int, typ wic.BufferType) {
	if _, err := h.conn.Write(data[:size]); err != nil {
		h.log.Debug().Err(err).Msg("write failed")
	}
}

func (h *stdioHost) OnCloseTransport(inst *wic.Instance) {
	h.conn.Close()
	h.once.Do(func() { close(h.done) })
}

func (h *stdioHost) Rand(inst *wic.Instance) uint32 { return rand.Uint32() }

func (h *stdioHost) OnOpen(inst *wic.Instance) {
	h.log.Info().Msg("connected")
}

func (h *stdioHost) OnClose(inst *wic.Instance, code wic.CloseCode, reason []byte) {
	h.log.Info().Uint16("code", uint16(code)).Bytes("reason", reason).Msg("closed")
}

func (h *stdioHost) OnHandshakeFailure(inst *wic.Instance, reason wic.HandshakeFailure) {
	h.log.Error().Stringer("reason", reason).Msg("handshake failed")
	if redirect, ok := inst.GetRedirectURL(); ok {
		h.log.Info().Str("location", redirect.String()).Msg("server redirected")
	}
	h.once.Do(func() { close(h.done) })
}

func (h *stdioHost) OnMessage(inst *wic.Instance, encoding wic.Encoding, fin bool, data []byte) bool {
	if !fin {
		return true
	}
	fmt.Println(string(data))
	return true
}
