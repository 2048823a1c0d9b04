package transport

import (
	"bufio"
	"net"
	"net/http"
)

// FlushingWriter tees frame writes to the real client connection and
// flushes after every frame, so a slow or interactive tool's output
// reaches the shim as soon as it is produced instead of waiting for
// Go's http package to fill its default buffer. Grounded on the
// streamingWriter used for SSE responses: same tee-and-flush shape,
// generalized from text/event-stream chunks to tagged exec frames.
type FlushingWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewFlushingWriter wraps w. ok is false if the underlying
// ResponseWriter cannot flush incrementally (e.g. it sits behind a
// buffering middleware); callers fall back to writing the whole
// response at once in that case.
func NewFlushingWriter(w http.ResponseWriter) (*FlushingWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return &FlushingWriter{w: w}, false
	}
	return &FlushingWriter{w: w, flusher: f}, true
}

func (fw *FlushingWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, nil
}

// Hijack exposes the underlying connection for the rare case a tool
// needs a raw duplex byte stream rather than chunked framing (spec's
// tty passthrough path). Returns an error if the server doesn't
// support hijacking, matching http.Hijacker's own contract.
func (fw *FlushingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := fw.w.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
