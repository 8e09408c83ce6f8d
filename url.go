package wic

import (
	"fmt"
	"strconv"
	"strings"
)

// Schema is the URL scheme an Instance was given. ws/wss name a WebSocket
// endpoint directly; http/https are accepted as aliases (a host may already
// have an http(s) URL on hand) and are treated identically to ws/wss for
// port-defaulting purposes.
type Schema int

const (
	SchemaWS Schema = iota
	SchemaWSS
	SchemaHTTP
	SchemaHTTPS
)

func (s Schema) String() string {
	switch s {
	case SchemaWS:
		return "ws"
	case SchemaWSS:
		return "wss"
	case SchemaHTTP:
		return "http"
	case SchemaHTTPS:
		return "https"
	default:
		return "unknown"
	}
}

func (s Schema) secure() bool {
	return s == SchemaWSS || s == SchemaHTTPS
}

func (s Schema) defaultPort() int {
	if s.secure() {
		return 443
	}
	return 80
}

// URL is the parsed form of the `(ws|wss|http|https)://host[:port][/path[?query]]`
// grammar. Host is the literal IPv4/IPv6 address or registered name without
// brackets; Port is always populated (defaulted per schema).
type URL struct {
	Schema Schema
	Host   string
	Port   int
	Path   string // includes the leading "/" and any "?query"
}

// ParseURL parses a WebSocket endpoint URL. It does not perform any DNS
// resolution or socket-address translation; turning the host into a dialable
// address is the caller's job. net/url is deliberately not used: the accepted
// grammar is a strict subset and bracketed IPv6 literals need the same
// hand-rolled scan either way.
func ParseURL(raw string) (URL, error) {
	var u URL

	rest := raw
	schemeEnd := strings.Index(rest, "://")
	if schemeEnd < 0 {
		return u, fmt.Errorf("wic: url missing scheme: %q", raw)
	}
	scheme := strings.ToLower(rest[:schemeEnd])
	switch scheme {
	case "ws":
		u.Schema = SchemaWS
	case "wss":
		u.Schema = SchemaWSS
	case "http":
		u.Schema = SchemaHTTP
	case "https":
		u.Schema = SchemaHTTPS
	default:
		return u, fmt.Errorf("wic: unsupported url scheme: %q", scheme)
	}
	rest = rest[schemeEnd+3:]
	if rest == "" {
		return u, fmt.Errorf("wic: url missing host: %q", raw)
	}

	var authority string
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		authority = rest
		u.Path = "/"
	} else {
		authority = rest[:slash]
		u.Path = rest[slash:]
	}
	if authority == "" {
		return u, fmt.Errorf("wic: url missing host: %q", raw)
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return u, err
	}
	u.Host = host
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return u, fmt.Errorf("wic: invalid url port: %q", port)
		}
		u.Port = p
	} else {
		u.Port = u.Schema.defaultPort()
	}

	return u, nil
}

// splitHostPort separates a "host[:port]" authority, accounting for a
// bracketed IPv6 literal such as "[::1]:8080".
func splitHostPort(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", fmt.Errorf("wic: unterminated ipv6 literal: %q", authority)
		}
		host = authority[1:end]
		remainder := authority[end+1:]
		if remainder == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", "", fmt.Errorf("wic: malformed authority: %q", authority)
		}
		return host, remainder[1:], nil
	}

	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		// Guard against a bare (unbracketed) IPv6 literal, which would have
		// more than one colon.
		if strings.Count(authority, ":") == 1 {
			return authority[:i], authority[i+1:], nil
		}
	}
	return authority, "", nil
}

// HostHeaderValue renders the value for the Host request header: bare host
// when the port is the schema default, "host:port" otherwise.
func (u URL) HostHeaderValue() string {
	if u.Port == u.Schema.defaultPort() {
		return u.Host
	}
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// String renders the URL back into its wire grammar.
func (u URL) String() string {
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if u.Port == u.Schema.defaultPort() {
		return fmt.Sprintf("%s://%s%s", u.Schema, host, u.Path)
	}
	return fmt.Sprintf("%s://%s:%d%s", u.Schema, host, u.Port, u.Path)
}
