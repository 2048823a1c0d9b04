package proxy

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aifo-coder/aifo-coder/internal/router"
	"github.com/aifo-coder/aifo-coder/internal/transport"
)

// execAndStream runs route via s.Runner, demultiplexing stdout/stderr
// onto the chunked response body and enforcing the per-tool
// read-idle timeout and client-disconnect cancellation §4.3/§4.2
// describe.
func (s *Server) execAndStream(w http.ResponseWriter, r *http.Request, route *router.Route, env []string) {
	fw, canFlush := transport.NewFlushingWriter(w)
	if !canFlush {
		s.Logger.Warn("response writer cannot flush incrementally; output will buffer")
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	activity := &activityMonitor{last: atomic.Int64{}}
	activity.touch()
	idleDone := make(chan struct{})
	go activity.watch(ctx, s.idleTimeout(), cancel, idleDone)

	stdout := &taggedWriter{underlying: fw, tag: transport.TagStdout, monitor: activity}
	stderr := &taggedWriter{underlying: fw, tag: transport.TagStderr, monitor: activity}

	code, err := s.Runner.Run(ctx, route, env, r.Body, stdout, stderr)
	cancel()
	<-idleDone

	if ctx.Err() == context.DeadlineExceeded || activity.timedOut.Load() {
		w.Header().Set("X-Exit-Code", "124")
		return
	}

	if err != nil {
		s.Logger.Error("exec failed", "tool", route.Command, "err", err)
		w.Header().Set("X-Exit-Code", "125")
		return
	}

	w.Header().Set("X-Exit-Code", strconv.Itoa(code))
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

// activityMonitor cancels ctx if no read/write activity is reported
// within the configured idle window, and remembers whether it did so
// the caller maps that to the X-Exit-Code 124 timeout convention.
type activityMonitor struct {
	last     atomic.Int64
	timedOut atomic.Bool
}

func (a *activityMonitor) touch() {
	a.last.Store(time.Now().UnixNano())
}

func (a *activityMonitor) watch(ctx context.Context, idle time.Duration, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, a.last.Load())
			if time.Since(last) >= idle {
				a.timedOut.Store(true)
				cancel()
				return
			}
		}
	}
}

// taggedWriter writes frames of one stream (stdout or stderr) to the
// shared flushing writer and reports activity to the idle monitor.
type taggedWriter struct {
	underlying *transport.FlushingWriter
	tag        transport.StreamTag
	monitor    *activityMonitor
}

func (t *taggedWriter) Write(p []byte) (int, error) {
	t.monitor.touch()
	if err := transport.WriteFrame(t.underlying, t.tag, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
