// Package proxy implements the host-resident exec server (C3): it
// authenticates shim requests, routes them to a sidecar via
// internal/router, runs the tool with docker/podman exec, and
// streams the result back framed per internal/transport.
package proxy

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aifo-coder/aifo-coder/internal/router"
	"github.com/aifo-coder/aifo-coder/internal/transport"
)

// Defaults mirror the wire protocol's documented defaults.
const (
	DefaultMaxConcurrent = 16
	DefaultIdleTimeout   = 300 * time.Second
	DefaultCancelGrace   = 5 * time.Second
)

// passthroughEnv lists the exact variable names the proxy forwards
// regardless of prefix; everything else must match one of
// passthroughPrefixes to cross into the routed command's environment.
var passthroughEnv = map[string]bool{
	"TERM":    true,
	"TZ":      true,
	"LANG":    true,
	"EDITOR":  true,
	"VISUAL":  true,
}

var passthroughPrefixes = []string{"AIFO_", "OPENAI_", "AZURE_"}

func envAllowed(name string) bool {
	if passthroughEnv[name] {
		return true
	}
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Runner executes one routed command inside a sidecar (or on the
// host, for the say tool) and reports its exit code. Implementations
// must honor ctx: on cancellation they send SIGTERM to the process,
// then SIGKILL after a grace period (DockerRunner's CancelGrace) if it
// hasn't exited.
type Runner interface {
	Run(ctx context.Context, route *router.Route, env []string, stdin ReadCloser, stdout, stderr Writer) (exitCode int, err error)
}

// ReadCloser and Writer are the minimal io capabilities Runner needs;
// defined locally so tests can supply fakes without pulling in io
// beyond what's used.
type ReadCloser interface {
	Read(p []byte) (int, error)
}

type Writer interface {
	Write(p []byte) (int, error)
}

// Server is the exec proxy's HTTP handler plus its lifecycle.
type Server struct {
	Endpoint      transport.Endpoint
	AuthToken     string
	Session       router.Session
	SayMatcher    router.AllowMatcher
	Runner        Runner
	MaxConcurrent int64
	IdleTimeout   time.Duration
	CancelGrace   time.Duration
	Logger        *slog.Logger

	sem    *semaphore.Weighted
	server *http.Server
}

// New builds a Server with defaults filled in for zero-valued
// tuning fields.
func New(ep transport.Endpoint, authToken string, sess router.Session, sayMatcher router.AllowMatcher, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Endpoint:      ep,
		AuthToken:     authToken,
		Session:       sess,
		SayMatcher:    sayMatcher,
		Runner:        runner,
		MaxConcurrent: DefaultMaxConcurrent,
		IdleTimeout:   DefaultIdleTimeout,
		CancelGrace:   DefaultCancelGrace,
		Logger:        logger,
		sem:           semaphore.NewWeighted(DefaultMaxConcurrent),
	}
}

// Start opens the listener and serves until Shutdown is called. It
// blocks the calling goroutine: run it in its own goroutine and watch
// the returned error for anything but http.ErrServerClosed.
func (s *Server) Start() error {
	if s.sem == nil {
		s.sem = semaphore.NewWeighted(s.MaxConcurrent)
	}
	ln, err := s.Endpoint.Listen()
	if err != nil {
		return fmt.Errorf("proxy: listen on %s: %w", s.Endpoint, err)
	}
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	return s.server.Serve(ln)
}

// Shutdown gracefully stops the server, waiting for in-flight execs
// to finish or be cancelled by their own caller.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements the validation and dispatch order from §4.3:
// proto, auth, tool allowlist, routing, then exec.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/exec" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Trailer", "X-Exit-Code")

	if r.Header.Get("X-Aifo-Proto") != "v1" {
		s.reject(w, http.StatusUpgradeRequired, 86)
		return
	}

	if !s.authorized(r) {
		s.reject(w, http.StatusUnauthorized, 86)
		return
	}

	tool := r.Header.Get("X-Aifo-Tool")
	if tool == "" || !router.KnownTool(tool) {
		s.reject(w, http.StatusForbidden, 86)
		return
	}

	argv := decodeIndexedHeaders(r.Header, "X-Aifo-Argv-")
	env := decodeIndexedHeaders(r.Header, "X-Aifo-Env-")
	env = filterEnv(env)
	cwd, _ := decodeHeader(r.Header.Get("X-Aifo-Cwd"))
	tty := r.Header.Get("X-Aifo-Tty") == "1"

	route, err := router.Route(tool, argv, cwd, s.Session, s.SayMatcher, tty)
	if err != nil {
		switch err {
		case router.ErrNotAllowed:
			s.reject(w, http.StatusForbidden, 86)
		case router.ErrUnknownTool, router.ErrSidecarNotStarted:
			s.reject(w, http.StatusBadRequest, 86)
		default:
			s.reject(w, http.StatusBadRequest, 86)
		}
		return
	}

	if !s.sem.TryAcquire(1) {
		s.reject(w, http.StatusTooManyRequests, 75)
		return
	}
	defer s.sem.Release(1)

	s.execAndStream(w, r, route, env)
}

func (s *Server) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return false
	}
	got := strings.TrimPrefix(h, prefix)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.AuthToken)) == 1
}

func (s *Server) reject(w http.ResponseWriter, status, exitCode int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Header().Set("X-Exit-Code", strconv.Itoa(exitCode))
}

func decodeHeader(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeIndexedHeaders collects X-Aifo-Argv-0, X-Aifo-Argv-1, ...
// (or the Env equivalent) in order, base64-decoding each value.
func decodeIndexedHeaders(h http.Header, prefix string) []string {
	var out []string
	for i := 0; ; i++ {
		key := prefix + strconv.Itoa(i)
		v := h.Get(key)
		if v == "" {
			if _, ok := h[http.CanonicalHeaderKey(key)]; !ok {
				break
			}
		}
		decoded, err := decodeHeader(v)
		if err != nil {
			break
		}
		out = append(out, decoded)
	}
	return out
}

func filterEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if envAllowed(name) {
			out = append(out, kv)
		}
	}
	return out
}
