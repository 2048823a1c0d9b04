package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"golang.org/x/sync/semaphore"

	"github.com/aifo-coder/aifo-coder/internal/router"
	"github.com/aifo-coder/aifo-coder/internal/sidecar"
	"github.com/aifo-coder/aifo-coder/internal/transport"
)

type fakeRunner struct {
	exitCode int
	stdout   string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, route *router.Route, env []string, stdin ReadCloser, stdout, stderr Writer) (int, error) {
	if f.stdout != "" {
		_, _ = stdout.Write([]byte(f.stdout))
	}
	return f.exitCode, f.err
}

func newTestServer(runner Runner) *Server {
	sess := router.Session{Sidecars: map[sidecar.Kind]string{sidecar.Go: "aifo-go-sess1"}}
	return New(transport.Endpoint{}, "correct-token", sess, nil, runner, nil)
}

func TestServeHTTPMissingProto(t *testing.T) {
	s := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/exec", nil)
	req.Header.Set("Authorization", "Bearer correct-token")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUpgradeRequired)
	}
}

func TestServeHTTPWrongToken(t *testing.T) {
	s := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/exec", nil)
	req.Header.Set("X-Aifo-Proto", "v1")
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("X-Aifo-Tool", "go")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestServeHTTPDisallowedTool(t *testing.T) {
	s := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/exec", nil)
	req.Header.Set("X-Aifo-Proto", "v1")
	req.Header.Set("Authorization", "Bearer correct-token")
	req.Header.Set("X-Aifo-Tool", "rm")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestServeHTTPSuccess(t *testing.T) {
	s := newTestServer(&fakeRunner{exitCode: 0, stdout: "go1.22\n"})
	req := httptest.NewRequest(http.MethodPost, "/exec", nil)
	req.Header.Set("X-Aifo-Proto", "v1")
	req.Header.Set("Authorization", "Bearer correct-token")
	req.Header.Set("X-Aifo-Tool", "go")
	req.Header.Set("X-Aifo-Exec-Id", "exec-1")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Result().Trailer.Get("X-Exit-Code"); got != "0" {
		t.Fatalf("trailer X-Exit-Code = %q, want 0", got)
	}
	body := rec.Body.Bytes()
	if len(body) == 0 || body[0] != 1 {
		t.Fatalf("body first byte = %v, want stdout tag 1", body)
	}
}

func TestServeHTTPConcurrencyLimit(t *testing.T) {
	s := newTestServer(&fakeRunner{exitCode: 0})
	s.MaxConcurrent = 1
	s.sem = semaphore.NewWeighted(1)
	s.sem.TryAcquire(1) // simulate one in-flight exec already holding the only slot

	req := httptest.NewRequest(http.MethodPost, "/exec", nil)
	req.Header.Set("X-Aifo-Proto", "v1")
	req.Header.Set("Authorization", "Bearer correct-token")
	req.Header.Set("X-Aifo-Tool", "go")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Result().Trailer.Get("X-Exit-Code"); got != strconv.Itoa(75) {
		t.Fatalf("trailer X-Exit-Code = %q, want 75", got)
	}
}
