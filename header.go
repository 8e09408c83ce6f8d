package wic

import "strings"

// Header is one name/value pair from an HTTP handshake message. Name
// comparisons are ASCII case-insensitive; Value is an opaque byte string.
type Header struct {
	Name  string
	Value string
}

// reservedHeaders are managed internally by the handshake codec and may not
// be registered by a caller via Instance.SetHeader.
var reservedHeaders = map[string]bool{
	"upgrade":               true,
	"connection":            true,
	"sec-websocket-key":     true,
	"sec-websocket-accept":  true,
	"sec-websocket-version": true,
	"host":                  true,
}

func isReservedHeader(name string) bool {
	return reservedHeaders[strings.ToLower(name)]
}

// HeaderList is an ordered collection of Header values with case-insensitive
// lookup. Duplicates are kept in insertion order. net/http.Header is not used
// because the engine cannot assume an *http.Request is ever available; the
// handshake arrives as raw bytes off whatever transport the host owns.
type HeaderList struct {
	items []Header
}

// Add appends a header, preserving any existing header of the same name.
func (h *HeaderList) Add(name, value string) {
	h.items = append(h.items, Header{Name: name, Value: value})
}

// Get returns the first value for name (case-insensitive), or "" and false if
// absent.
func (h *HeaderList) Get(name string) (string, bool) {
	for _, it := range h.items {
		if strings.EqualFold(it.Name, name) {
			return it.Value, true
		}
	}
	return "", false
}

// Has reports whether a token (case-insensitive) appears in a comma-separated
// header value, e.g. checking "Upgrade" is one of the tokens in a
// "Connection: keep-alive, Upgrade" header.
func (h *HeaderList) Has(name, token string) bool {
	v, ok := h.Get(name)
	if !ok {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// Next returns the header at index i in insertion order, and false once i is
// out of range. This backs Instance.GetNextHeader, which iterates in receive
// order.
func (h *HeaderList) Next(i int) (Header, bool) {
	if i < 0 || i >= len(h.items) {
		return Header{}, false
	}
	return h.items[i], true
}

// Len reports how many headers are stored.
func (h *HeaderList) Len() int { return len(h.items) }

// Reset discards all stored headers.
func (h *HeaderList) Reset() { h.items = h.items[:0] }
