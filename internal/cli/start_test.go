package cli

import (
	"os"
	"reflect"
	"testing"

	"github.com/aifo-coder/aifo-coder/internal/auditlog"
	"github.com/aifo-coder/aifo-coder/internal/config"
	"github.com/aifo-coder/aifo-coder/internal/policy"
)

func TestSplitStartArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		dash     int
		wantWS   string
		wantArgv []string
	}{
		{"no args", nil, -1, ".", nil},
		{"workspace only, no dash", []string{"/repo"}, -1, "/repo", nil},
		{"dash with workspace", []string{"/repo", "aider", "--yes"}, 1, "/repo", []string{"aider", "--yes"}},
		{"dash with no workspace", []string{"aider", "--yes"}, 0, ".", []string{"aider", "--yes"}},
		{"dash with empty agent argv", []string{"/repo"}, 1, "/repo", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotWS, gotArgv := splitStartArgs(tt.args, tt.dash)
			if gotWS != tt.wantWS {
				t.Errorf("workspace = %q, want %q", gotWS, tt.wantWS)
			}
			if len(gotArgv) == 0 && len(tt.wantArgv) == 0 {
				return
			}
			if !reflect.DeepEqual(gotArgv, tt.wantArgv) {
				t.Errorf("agentArgv = %v, want %v", gotArgv, tt.wantArgv)
			}
		})
	}
}

func TestResolveSidecarAppArmorProfile(t *testing.T) {
	if got := resolveSidecarAppArmorProfile("none"); got != "" {
		t.Errorf("none mode: got %q, want empty", got)
	}
	if got := resolveSidecarAppArmorProfile("docker-default"); got != "docker-default" {
		t.Errorf("docker-default mode: got %q, want \"docker-default\"", got)
	}
	if got := resolveSidecarAppArmorProfile("custom-profile"); got != "custom-profile" {
		t.Errorf("explicit profile name should pass through unchanged, got %q", got)
	}
}

func TestPolicyDigest_Deterministic(t *testing.T) {
	p := &policy.Policy{Version: 1}
	if policyDigest(p) != policyDigest(p) {
		t.Error("policyDigest should be deterministic for the same policy value")
	}

	other := &policy.Policy{Version: 2}
	if policyDigest(p) == policyDigest(other) {
		t.Error("policyDigest should differ for different policy content")
	}
}

func TestLogAuditEvent_DisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Audit: config.AuditConfig{Enabled: false, LogPath: dir + "/audit.jsonl"}}

	logAuditEvent(cfg, "sess-1", auditlog.EventSessionStart, auditlog.SeverityInfo, nil)

	if _, err := os.Stat(dir + "/audit.jsonl"); !os.IsNotExist(err) {
		t.Error("logAuditEvent should not write anything when audit is disabled")
	}
}

func TestLogAuditEvent_WritesChainedEntry(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/audit.jsonl"
	cfg := &config.Config{Audit: config.AuditConfig{Enabled: true, LogPath: path}}

	logAuditEvent(cfg, "sess-1", auditlog.EventSessionStart, auditlog.SeverityInfo, map[string]any{"image": "x"})
	logAuditEvent(cfg, "sess-1", auditlog.EventSessionStop, auditlog.SeverityInfo, nil)

	events, err := auditlog.ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if v := auditlog.VerifyChain(events, auditlog.GenesisHash); !v.IsIntact {
		t.Errorf("expected intact chain, broken at %d", v.BrokenAt)
	}
}

func TestIsWritable(t *testing.T) {
	if !isWritable(t.TempDir()) {
		t.Error("a freshly created temp dir should be writable")
	}
	if isWritable("/nonexistent/path/for/testing") {
		t.Error("a nonexistent path should not be reported writable")
	}
}
