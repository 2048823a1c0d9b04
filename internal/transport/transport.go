// Package transport provides the bidirectional connection abstraction
// shared by the shim, the proxy and the sidecar session manager. A
// session endpoint is either a TCP loopback address or a Unix domain
// socket path; callers select one at dial time, not through an
// interface hierarchy.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Scheme identifies which wire carrier an Endpoint uses.
type Scheme string

const (
	SchemeTCP  Scheme = "tcp"
	SchemeUnix Scheme = "unix"
)

// Endpoint is a tagged union over the two carriers the proxy can
// listen on and the shim can dial. Address holds "host:port" for
// SchemeTCP or a filesystem path for SchemeUnix.
type Endpoint struct {
	Scheme  Scheme
	Address string
}

// ParseEndpoint turns a AIFO_TOOLEXEC_URL value into an Endpoint.
// Accepted forms:
//
//	tcp://127.0.0.1:8642
//	unix:///run/aifo/<session>/toolexec.sock
//
// A bare host:port with no scheme is treated as tcp for convenience.
func ParseEndpoint(raw string) (Endpoint, error) {
	if raw == "" {
		return Endpoint{}, fmt.Errorf("transport: empty endpoint")
	}
	switch {
	case strings.HasPrefix(raw, "unix://"):
		return Endpoint{Scheme: SchemeUnix, Address: strings.TrimPrefix(raw, "unix://")}, nil
	case strings.HasPrefix(raw, "tcp://"):
		return Endpoint{Scheme: SchemeTCP, Address: strings.TrimPrefix(raw, "tcp://")}, nil
	case strings.Contains(raw, "/") && !strings.Contains(raw, ":"):
		return Endpoint{Scheme: SchemeUnix, Address: raw}, nil
	default:
		return Endpoint{Scheme: SchemeTCP, Address: raw}, nil
	}
}

// String renders the endpoint back into URL form.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Scheme, e.Address)
}

// BaseURL returns the URL base the shim should build exec requests
// against. For a Unix socket the host component is a placeholder;
// the real routing happens in the HTTPClient's DialContext.
func (e Endpoint) BaseURL() string {
	if e.Scheme == SchemeUnix {
		return "http://unix"
	}
	return "http://" + e.Address
}

// Listen opens a listener for the proxy server. Unix sockets are
// created with 0700 permissions by the caller's umask; the proxy
// removes a stale socket file before binding.
func (e Endpoint) Listen() (net.Listener, error) {
	switch e.Scheme {
	case SchemeTCP:
		return net.Listen("tcp", e.Address)
	case SchemeUnix:
		return net.Listen("unix", e.Address)
	default:
		return nil, fmt.Errorf("transport: unknown scheme %q", e.Scheme)
	}
}

// HTTPClient builds an http.Client that dials this endpoint
// regardless of the URL host passed to Do, so shim code can always
// request against BaseURL() and not special-case the unix case.
func (e Endpoint) HTTPClient(timeout time.Duration) *http.Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		d := &net.Dialer{}
		switch e.Scheme {
		case SchemeUnix:
			return d.DialContext(ctx, "unix", e.Address)
		default:
			return d.DialContext(ctx, "tcp", e.Address)
		}
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dial,
			DisableCompression:    true,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// StreamTag marks which stream a framed chunk in the response body
// belongs to. The proxy prefixes every chunk it writes with one of
// these bytes before the chunk payload, so a single HTTP/1.1
// chunked body can carry both stdout and stderr without a second
// connection.
type StreamTag byte

const (
	TagStdout StreamTag = 1
	TagStderr StreamTag = 2
)

// WriteFrame writes one tagged chunk: a single tag byte followed by
// payload, as one Write call. Paired with a flush after every call
// (FlushingWriter does this automatically), this makes the tag byte
// land at the start of its own HTTP chunked-encoding chunk, which is
// the framing §4.2 of the wire protocol relies on instead of a
// length prefix.
func WriteFrame(w ResponseWriter, tag StreamTag, payload []byte) error {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(tag)
	copy(buf[1:], payload)
	_, err := w.Write(buf)
	return err
}

// ResponseWriter is the minimal capability WriteFrame needs. Both
// http.ResponseWriter and *bytes.Buffer satisfy it, which keeps
// frame-writing testable without spinning up a real server.
type ResponseWriter interface {
	Write([]byte) (int, error)
}

// ReadFrame reads one tagged chunk. It assumes the caller's Read
// returns exactly one upstream chunk per call, matching the
// chunked-transfer body the proxy produces: the terminating,
// zero-length chunk with no readable bytes signals end of stream
// and surfaces as io.EOF with a nil tag.
func ReadFrame(r FrameReader, buf []byte) (StreamTag, []byte, error) {
	n, err := r.Read(buf)
	if n == 0 {
		return 0, nil, err
	}
	return StreamTag(buf[0]), buf[1:n], err
}

// FrameReader is the minimal capability ReadFrame needs.
type FrameReader interface {
	Read([]byte) (int, error)
}
