// Package wic implements a transport-agnostic WebSocket protocol engine
// (RFC 6455) plus its HTTP/1.1 opening-handshake front-end.
//
// The engine owns no socket. A host feeds it inbound bytes via Parse and
// receives outbound frames through the Host callback interface, which also
// supplies buffers on demand. The engine runs as either a client or a
// server and performs no I/O of its own.
package wic
