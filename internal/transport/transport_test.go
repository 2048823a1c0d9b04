package transport

import (
	"bytes"
	"net/http/httptest"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		wantScheme Scheme
		wantAddr   string
		wantErr    bool
	}{
		{"tcp://127.0.0.1:8642", SchemeTCP, "127.0.0.1:8642", false},
		{"unix:///run/aifo/s1/toolexec.sock", SchemeUnix, "/run/aifo/s1/toolexec.sock", false},
		{"/run/aifo/s1/toolexec.sock", SchemeUnix, "/run/aifo/s1/toolexec.sock", false},
		{"127.0.0.1:8642", SchemeTCP, "127.0.0.1:8642", false},
		{"", "", "", true},
	}

	for _, tt := range tests {
		ep, err := ParseEndpoint(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q) expected error, got nil", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseEndpoint(%q) unexpected error: %v", tt.raw, err)
		}
		if ep.Scheme != tt.wantScheme || ep.Address != tt.wantAddr {
			t.Errorf("ParseEndpoint(%q) = %+v, want scheme=%q addr=%q", tt.raw, ep, tt.wantScheme, tt.wantAddr)
		}
	}
}

func TestEndpointBaseURL(t *testing.T) {
	tcp := Endpoint{Scheme: SchemeTCP, Address: "127.0.0.1:9"}
	if got := tcp.BaseURL(); got != "http://127.0.0.1:9" {
		t.Errorf("tcp BaseURL() = %q", got)
	}

	unix := Endpoint{Scheme: SchemeUnix, Address: "/tmp/x.sock"}
	if got := unix.BaseURL(); got != "http://unix" {
		t.Errorf("unix BaseURL() = %q", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	// Each WriteFrame call lands in its own buffer here, mirroring how
	// each call produces one HTTP chunk on the wire: ReadFrame is
	// exercised once per chunk, not against a concatenated stream.
	var stdoutBuf bytes.Buffer
	if err := WriteFrame(&stdoutBuf, TagStdout, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame stdout: %v", err)
	}
	readBuf := make([]byte, 64)
	tag, payload, err := ReadFrame(&stdoutBuf, readBuf)
	if err != nil {
		t.Fatalf("ReadFrame #1: %v", err)
	}
	if tag != TagStdout || string(payload) != "hello" {
		t.Errorf("frame #1 = tag=%d payload=%q, want stdout/hello", tag, payload)
	}

	var stderrBuf bytes.Buffer
	if err := WriteFrame(&stderrBuf, TagStderr, nil); err != nil {
		t.Fatalf("WriteFrame stderr: %v", err)
	}
	tag, payload, err = ReadFrame(&stderrBuf, readBuf)
	if err != nil {
		t.Fatalf("ReadFrame #2: %v", err)
	}
	if tag != TagStderr || len(payload) != 0 {
		t.Errorf("frame #2 = tag=%d payload=%q, want stderr/empty", tag, payload)
	}
}

func TestFlushingWriterWritesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	fw, ok := NewFlushingWriter(rec)
	if !ok {
		t.Fatal("expected httptest.ResponseRecorder to support flushing")
	}
	if _, err := fw.Write([]byte("chunk")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := rec.Body.String(); got != "chunk" {
		t.Errorf("recorder body = %q, want %q", got, "chunk")
	}
}
