// Command wicserver is a raw-TCP echo server built on the wic engine. It
// takes over the listener itself rather than hijacking a net/http
// connection, since the engine now parses its own opening handshake.
package main

import (
	"flag"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/corvid-systems/wic"
)

var (
	metricConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wicserver_open_connections",
		Help: "Number of connections currently in the OPEN state.",
	})
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wicserver_frames_total",
		Help: "Application frames delivered to OnMessage, by encoding.",
	}, []string{"encoding"})
	metricCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wicserver_closes_total",
		Help: "Connections closed, by close code.",
	}, []string{"code"})
)

func main() {
	addr := flag.String("addr", "0.0.0.0:8080", "address to listen on")
	metricsAddr := flag.String("metrics-addr", "0.0.0.0:9090", "address to serve /metrics on")
	handshakeTimeout := flag.Duration("handshake-timeout", 5*time.Second, "time allowed for the opening handshake")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "wicserver").Logger()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Str("addr", *metricsAddr).Msg("serving metrics")
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
	logger.Info().Str("addr", *addr).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error().Err(err).Msg("accept")
			continue
		}
		go serveConn(conn, logger, *handshakeTimeout)
	}
}

// tcpHost adapts wic.Host onto a single net.Conn. Every call arrives from
// the same goroutine that drives Parse, so no locking is needed here (the
// engine's own re-entrancy contract covers OnMessage -> Send).
type tcpHost struct {
	conn net.Conn
	log  zerolog.Logger
	id   string
}

func (h *tcpHost) OnBuffer(inst *wic.Instance, minSize int, typ wic.BufferType) []byte {
	return make([]byte, minSize)
}

func (h *tcpHost) OnSend(inst *wic.Instance, data []byte, size int, typ wic.BufferType) {
	if _, err := h.conn.Write(data[:size]); err != nil {
		h.log.Debug().Err(err).Str("conn", h.id).Stringer("buffer", typ).Msg("write failed")
	}
}

func (h *tcpHost) OnCloseTransport(inst *wic.Instance) {
	h.conn.Close()
}

// Rand uses the package-level math/rand/v2 generator, which is safe for
// concurrent use across connection goroutines. Masking keys need not be
// cryptographically secure, only uniformly distributed.
func (h *tcpHost) Rand(inst *wic.Instance) uint32 {
	return rand.Uint32()
}

func (h *tcpHost) OnOpen(inst *wic.Instance) {
	metricConns.Inc()
	h.log.Info().Str("conn", h.id).Msg("open")
}

func (h *tcpHost) OnClose(inst *wic.Instance, code wic.CloseCode, reason []byte) {
	metricConns.Dec()
	metricCloses.WithLabelValues(codeLabel(code)).Inc()
	h.log.Info().Str("conn", h.id).Uint16("code", uint16(code)).Bytes("reason", reason).Msg("closed")
}

func (h *tcpHost) OnHandshakeFailure(inst *wic.Instance, reason wic.HandshakeFailure) {
	h.log.Warn().Str("conn", h.id).Stringer("reason", reason).Msg("handshake failed")
}

func (h *tcpHost) OnMessage(inst *wic.Instance, encoding wic.Encoding, fin bool, data []byte) bool {
	metricFrames.WithLabelValues(encodingLabel(encoding)).Inc()
	if !fin {
		return true
	}
	// Echo server: bounce the final frame's payload straight back. Earlier
	// fragments of a fragmented message are counted above but not echoed.
	switch encoding {
	case wic.EncodingText:
		inst.SendText(true, data)
	default:
		inst.SendBinary(true, data)
	}
	return true
}

func serveConn(conn net.Conn, logger zerolog.Logger, handshakeTimeout time.Duration) {
	id := uuid.NewString()
	log := logger.With().Str("conn", id).Logger()
	host := &tcpHost{conn: conn, log: log, id: id}

	inst, err := wic.NewInstance(wic.InitArg{
		Role:   wic.RoleServer,
		URL:    wic.URL{Schema: wic.SchemaWS, Host: conn.LocalAddr().String(), Path: "/"},
		RxBuf:  make([]byte, 4096),
		Host:   host,
		Logger: &log,
	})
	if err != nil {
		log.Error().Err(err).Msg("new instance")
		conn.Close()
		return
	}
	if status := inst.Start(); status != wic.StatusSuccess {
		log.Error().Stringer("status", status).Msg("start")
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && inst.GetState() != wic.StateOpen {
				inst.HandshakeTimeout()
			} else {
				inst.Parse(nil)
			}
			return
		}
		pending := buf[:n]
		for len(pending) > 0 {
			consumed := inst.Parse(pending)
			if inst.GetState() == wic.StateClosed {
				return
			}
			if consumed == 0 {
				// No progress: back-pressure (no buffer available) or the
				// codec is waiting on more bytes than this read delivered.
				break
			}
			pending = pending[consumed:]
		}
		if inst.GetState() != wic.StateReady {
			conn.SetReadDeadline(time.Time{})
		}
	}
}

func codeLabel(c wic.CloseCode) string {
	return strconv.Itoa(int(c))
}

func encodingLabel(e wic.Encoding) string {
	if e == wic.EncodingText {
		return "text"
	}
	return "binary"
}
