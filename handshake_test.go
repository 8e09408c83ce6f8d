package wic

import (
	"strings"
	"testing"
)

/*
GET /chat HTTP/1.1
Host: server.example.com
Upgrade: websocket
Connection: Upgrade
Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==
Sec-WebSocket-Version: 13
*/

func TestComputeAcceptKey(t *testing.T) {
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("computeAcceptKey() = %q, want %q", got, want)
	}
}

func TestValidBase64Key16(t *testing.T) {
	if !validBase64Key16("dGhlIHNhbXBsZSBub25jZQ==") {
		t.Fatal("expected valid 16-byte key")
	}
	if validBase64Key16("dG9vc2hvcnQ=") {
		t.Fatal("expected rejection of a key shorter than 16 bytes")
	}
}

func TestWriteClientHandshake(t *testing.T) {
	u, _ := ParseURL("ws://server.example.com/chat")
	buf := make([]byte, 512)
	n, ok := writeClientHandshake(buf, u, "dGhlIHNhbXBsZSBub25jZQ==", nil)
	if !ok {
		t.Fatal("writeClientHandshake returned false")
	}
	msg := string(buf[:n])
	for _, want := range []string{
		"GET /chat HTTP/1.1\r\n",
		"Host: server.example.com\r\n",
		"Upgrade: websocket\r\n",
		"Connection: Upgrade\r\n",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n",
		"Sec-WebSocket-Version: 13\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("handshake request missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateClientRequestHappy(t *testing.T) {
	block := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	startLine, headers, err := parseHeaderBlock([]byte(block))
	if err != nil {
		t.Fatalf("parseHeaderBlock: %v", err)
	}
	target, key, verdict := validateClientRequest(startLine, headers)
	if verdict != serverHandshakeOK {
		t.Fatalf("verdict = %v, want serverHandshakeOK", verdict)
	}
	if target != "/chat" {
		t.Fatalf("target = %q, want /chat", target)
	}
	if key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("key = %q", key)
	}
}

func TestValidateClientRequestMissingUpgrade(t *testing.T) {
	block := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	startLine, headers, err := parseHeaderBlock([]byte(block))
	if err != nil {
		t.Fatalf("parseHeaderBlock: %v", err)
	}
	if _, _, verdict := validateClientRequest(startLine, headers); verdict != serverHandshakeBadRequest {
		t.Fatalf("verdict = %v, want serverHandshakeBadRequest", verdict)
	}
}

func TestValidateClientRequestWrongVersion(t *testing.T) {
	block := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 8\r\n" +
		"\r\n"
	startLine, headers, err := parseHeaderBlock([]byte(block))
	if err != nil {
		t.Fatalf("parseHeaderBlock: %v", err)
	}
	if _, _, verdict := validateClientRequest(startLine, headers); verdict != serverHandshakeBadVersion {
		t.Fatalf("verdict = %v, want serverHandshakeBadVersion", verdict)
	}
}

func TestWriteServerErrorUpgradeRequired(t *testing.T) {
	buf := make([]byte, 256)
	n, ok := writeServerError(buf, 426, "Upgrade Required")
	if !ok {
		t.Fatal("writeServerError returned false")
	}
	msg := string(buf[:n])
	if !strings.Contains(msg, "HTTP/1.1 426 Upgrade Required\r\n") {
		t.Fatalf("missing status line:\n%s", msg)
	}
	if !strings.Contains(msg, "Sec-WebSocket-Version: 13\r\n") {
		t.Fatalf("426 response must advertise the supported version:\n%s", msg)
	}
}

func TestValidateServerResponseAccepted(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	block := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n" +
		"\r\n"
	startLine, headers, err := parseHeaderBlock([]byte(block))
	if err != nil {
		t.Fatalf("parseHeaderBlock: %v", err)
	}
	outcome, _ := validateServerResponse(startLine, headers, key)
	if outcome != clientAccepted {
		t.Fatalf("outcome = %v, want clientAccepted", outcome)
	}
}

func TestValidateServerResponseWrongAccept(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	block := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: bm90dGhlcmlnaHR2YWx1ZQ==\r\n" +
		"\r\n"
	startLine, headers, err := parseHeaderBlock([]byte(block))
	if err != nil {
		t.Fatalf("parseHeaderBlock: %v", err)
	}
	outcome, _ := validateServerResponse(startLine, headers, key)
	if outcome != clientRejected {
		t.Fatalf("outcome = %v, want clientRejected", outcome)
	}
}

func TestValidateServerResponseRedirect(t *testing.T) {
	block := "HTTP/1.1 302 Found\r\n" +
		"Location: ws://elsewhere.example.com/chat\r\n" +
		"\r\n"
	startLine, headers, err := parseHeaderBlock([]byte(block))
	if err != nil {
		t.Fatalf("parseHeaderBlock: %v", err)
	}
	outcome, location := validateServerResponse(startLine, headers, "anykey")
	if outcome != clientRedirect {
		t.Fatalf("outcome = %v, want clientRedirect", outcome)
	}
	if location != "ws://elsewhere.example.com/chat" {
		t.Fatalf("location = %q", location)
	}
}

func TestFindHeaderBlockEnd(t *testing.T) {
	partial := []byte("GET / HTTP/1.1\r\nHost: x\r\n")
	if end := findHeaderBlockEnd(partial); end != -1 {
		t.Fatalf("findHeaderBlockEnd(partial) = %d, want -1", end)
	}
	complete := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if end := findHeaderBlockEnd(complete); end != len(complete) {
		t.Fatalf("findHeaderBlockEnd(complete) = %d, want %d", end, len(complete))
	}
}
