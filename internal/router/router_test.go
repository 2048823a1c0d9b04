package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aifo-coder/aifo-coder/internal/sidecar"
)

type fakeMatcher struct{ allow bool }

func (f fakeMatcher) Match(argv []string) bool { return f.allow }

func TestRouteDirectMapping(t *testing.T) {
	sess := Session{Sidecars: map[sidecar.Kind]string{sidecar.Rust: "aifo-rust-sess1"}}

	route, err := Route("cargo", []string{"build"}, "/workspace", sess, nil, false)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Kind != sidecar.Rust || route.ContainerName != "aifo-rust-sess1" {
		t.Errorf("route = %+v, want rust/aifo-rust-sess1", route)
	}
	if route.ExtraEnv["CARGO_HOME"] == "" {
		t.Errorf("route.ExtraEnv missing CARGO_HOME")
	}
	if route.Cwd != "/workspace" {
		t.Errorf("route.Cwd = %q, want /workspace", route.Cwd)
	}
}

func TestRouteCarriesTTY(t *testing.T) {
	sess := Session{Sidecars: map[sidecar.Kind]string{sidecar.Rust: "aifo-rust-sess1"}}

	route, err := Route("cargo", []string{"build"}, "/workspace", sess, nil, true)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !route.TTY {
		t.Errorf("route.TTY = false, want true")
	}
}

func TestRouteUnknownTool(t *testing.T) {
	_, err := Route("rm", nil, "/workspace", Session{}, nil, false)
	if err != ErrUnknownTool {
		t.Errorf("Route(rm) err = %v, want ErrUnknownTool", err)
	}
}

func TestRouteSidecarNotStarted(t *testing.T) {
	_, err := Route("cargo", nil, "/workspace", Session{}, nil, false)
	if err != ErrSidecarNotStarted {
		t.Errorf("Route(cargo, no sidecars) err = %v, want ErrSidecarNotStarted", err)
	}
}

func TestRouteHostNotifyAllowed(t *testing.T) {
	route, err := Route("say", []string{"hello"}, "/workspace", Session{}, fakeMatcher{allow: true}, false)
	if err != nil {
		t.Fatalf("Route(say, allowed): %v", err)
	}
	if !route.HostNotify {
		t.Errorf("route.HostNotify = false, want true")
	}
}

func TestRouteHostNotifyDenied(t *testing.T) {
	_, err := Route("say", []string{"hello"}, "/workspace", Session{}, fakeMatcher{allow: false}, false)
	if err != ErrNotAllowed {
		t.Errorf("Route(say, denied) err = %v, want ErrNotAllowed", err)
	}
}

func TestRouteWorkspacePreferenceVenvPython(t *testing.T) {
	ws := t.TempDir()
	venvBin := filepath.Join(ws, ".venv", "bin")
	if err := os.MkdirAll(venvBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(venvBin, "python"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	sess := Session{WorkspacePath: ws, Sidecars: map[sidecar.Kind]string{sidecar.Python: "aifo-python-sess1"}}
	route, err := Route("python", []string{"-m", "pytest"}, "/workspace", sess, nil, false)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := filepath.Join(ws, ".venv", "bin", "python")
	if route.Command[0] != want {
		t.Errorf("route.Command[0] = %q, want %q", route.Command[0], want)
	}
}

func TestRouteWorkspacePreferenceVenvPythonInSubdir(t *testing.T) {
	ws := t.TempDir()
	venvBin := filepath.Join(ws, "crate", ".venv", "bin")
	if err := os.MkdirAll(venvBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(venvBin, "python"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	sess := Session{WorkspacePath: ws, Sidecars: map[sidecar.Kind]string{sidecar.Python: "aifo-python-sess1"}}
	route, err := Route("python", []string{"-m", "pytest"}, "/workspace/crate", sess, nil, false)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := filepath.Join(ws, "crate", ".venv", "bin", "python")
	if route.Command[0] != want {
		t.Errorf("route.Command[0] = %q, want %q", route.Command[0], want)
	}
	if route.Cwd != "/workspace/crate" {
		t.Errorf("route.Cwd = %q, want /workspace/crate", route.Cwd)
	}
}

func TestRouteWorkspacePreferenceFallsBackWithoutVenv(t *testing.T) {
	sess := Session{WorkspacePath: t.TempDir(), Sidecars: map[sidecar.Kind]string{sidecar.Python: "aifo-python-sess1"}}
	route, err := Route("python", []string{"-V"}, "/workspace", sess, nil, false)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Command[0] != "python" {
		t.Errorf("route.Command[0] = %q, want python", route.Command[0])
	}
}

func TestHostPathForCwd(t *testing.T) {
	tests := []struct {
		name          string
		workspacePath string
		cwd           string
		want          string
	}{
		{"root", "/home/dev/project", "/workspace", "/home/dev/project"},
		{"subdir", "/home/dev/project", "/workspace/crate", "/home/dev/project/crate"},
		{"no workspace path falls back to raw cwd", "", "/workspace/crate", "/workspace/crate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hostPathForCwd(tt.workspacePath, tt.cwd); got != tt.want {
				t.Errorf("hostPathForCwd(%q, %q) = %q, want %q", tt.workspacePath, tt.cwd, got, tt.want)
			}
		})
	}
}
