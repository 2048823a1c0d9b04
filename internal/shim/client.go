package shim

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aifo-coder/aifo-coder/internal/transport"
)

// Client sends one exec request over a resolved transport.Endpoint
// and replays the response onto the process's own stdio.
type Client struct {
	Endpoint transport.Endpoint
	Timeout  time.Duration
}

// NewClientFromEnv reads AIFO_TOOLEXEC_URL and AIFO_TOOLEXEC_TOKEN
// from the environment. It returns ok=false, without an error, when
// either is absent: callers translate that into UnwiredExitCode
// rather than a generic failure, per §4.1 step 3.
func NewClientFromEnv() (c *Client, token string, ok bool) {
	rawURL := os.Getenv(EnvEndpointVar)
	token = os.Getenv(EnvTokenVar)
	if rawURL == "" || token == "" {
		return nil, "", false
	}
	ep, err := transport.ParseEndpoint(rawURL)
	if err != nil {
		return nil, "", false
	}
	return &Client{Endpoint: ep, Timeout: 0}, token, true
}

// headerEncode base64-encodes v so it is safe as an HTTP header
// value regardless of what bytes argv or env entries contain.
func headerEncode(v string) string {
	return base64.StdEncoding.EncodeToString([]byte(v))
}

// Exec sends req over c, streams stdin to the proxy, and demuxes the
// chunked response onto stdout/stderr. It returns the tool's exit
// code on success, or a non-nil error for a transport failure that
// happened after the connection was established (callers map that
// to TransportErrorExitCode) or a protocol-level rejection (callers
// use RejectedExitCode's mapped status instead).
func (c *Client) Exec(req *Request, authToken string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	httpReq, err := http.NewRequest(http.MethodPost, c.Endpoint.BaseURL()+"/exec", stdin)
	if err != nil {
		return 0, fmt.Errorf("shim: building request: %w", err)
	}
	httpReq.Header.Set("X-Aifo-Proto", "v1")
	httpReq.Header.Set("Authorization", "Bearer "+authToken)
	httpReq.Header.Set("X-Aifo-Tool", req.Tool)
	httpReq.Header.Set("X-Aifo-Exec-Id", req.ExecID)
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if req.TTY {
		httpReq.Header.Set("X-Aifo-Tty", "1")
	}
	httpReq.Header.Set("X-Aifo-Cwd", headerEncode(req.Cwd))
	for i, a := range req.Argv {
		httpReq.Header.Set(fmt.Sprintf("X-Aifo-Argv-%d", i), headerEncode(a))
	}
	for i, kv := range req.Env {
		httpReq.Header.Set(fmt.Sprintf("X-Aifo-Env-%d", i), headerEncode(kv))
	}

	client := c.Endpoint.HTTPClient(c.Timeout)
	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("shim: connecting to proxy: %w", err)
	}
	defer resp.Body.Close()

	if code, rejected := RejectedExitCode(resp); rejected {
		return code, nil
	}

	buf := make([]byte, 64*1024)
	for {
		tag, payload, rerr := transport.ReadFrame(resp.Body, buf)
		if len(payload) > 0 {
			switch transport.StreamTag(tag) {
			case transport.TagStdout:
				_, _ = stdout.Write(payload)
			case transport.TagStderr:
				_, _ = stderr.Write(payload)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return 0, fmt.Errorf("shim: reading response: %w", rerr)
		}
	}

	exitHeader := resp.Trailer.Get("X-Exit-Code")
	if exitHeader == "" {
		return 0, fmt.Errorf("shim: proxy closed stream without X-Exit-Code trailer")
	}
	code, err := strconv.Atoi(exitHeader)
	if err != nil {
		return 0, fmt.Errorf("shim: parsing X-Exit-Code %q: %w", exitHeader, err)
	}
	return code, nil
}

// RejectedExitCode inspects a non-2xx response for the proxy's
// pre-exec rejections (§7's status table: 426/401/403/400/504 all
// map to a fixed X-Exit-Code, read from the trailer when present or
// defaulted to UnwiredExitCode otherwise).
func RejectedExitCode(resp *http.Response) (int, bool) {
	if resp.StatusCode < 400 {
		return 0, false
	}
	// Drain fully so HTTP/1.1 trailers (sent after the body) become
	// readable from resp.Trailer; the rejection body itself is a short
	// diagnostic string the shim doesn't need to surface.
	body, _ := io.ReadAll(resp.Body)
	_ = bytes.TrimSpace(body)
	if code := resp.Trailer.Get("X-Exit-Code"); code != "" {
		if n, err := strconv.Atoi(code); err == nil {
			return n, true
		}
	}
	if resp.StatusCode == http.StatusGatewayTimeout {
		return 124, true
	}
	return UnwiredExitCode, true
}
