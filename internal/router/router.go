// Package router implements the pure, deterministic tool-to-sidecar
// routing decision the proxy applies to every accepted exec request.
// It never touches the network; given the same (tool, argv, cwd,
// session) it always returns the same route.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aifo-coder/aifo-coder/internal/sidecar"
)

// containerWorkspaceRoot is where every sidecar and the agent
// container mount the workspace, per internal/mounts' shared layout.
// The shim reports cwd relative to this root (e.g. "/workspace/crate");
// resolving that back to a host path requires stripping this prefix.
const containerWorkspaceRoot = "/workspace"

// Route is the router's decision for one tool invocation.
type Route struct {
	Kind          sidecar.Kind
	ContainerName string
	Command       []string
	ExtraEnv      map[string]string
	HostNotify    bool   // true for the say tool, executed on the host
	Cwd           string // container-side cwd, passed to `docker exec -w`
	TTY           bool   // true when the shim requested a tty (`docker exec -t`)
}

// toolKind is the static direct-mapping table from §4.4 rule 1.
var toolKind = map[string]sidecar.Kind{
	"cargo": sidecar.Rust,
	"rustc": sidecar.Rust,

	"go":    sidecar.Go,
	"gofmt": sidecar.Go,

	"make":       sidecar.CppCpp,
	"cmake":      sidecar.CppCpp,
	"ninja":      sidecar.CppCpp,
	"gcc":        sidecar.CppCpp,
	"g++":        sidecar.CppCpp,
	"cc":         sidecar.CppCpp,
	"c++":        sidecar.CppCpp,
	"clang":      sidecar.CppCpp,
	"clang++":    sidecar.CppCpp,
	"pkg-config": sidecar.CppCpp,

	"python":  sidecar.Python,
	"python3": sidecar.Python,
	"pip":     sidecar.Python,
	"pip3":    sidecar.Python,
	"uv":      sidecar.Python,
	"uvx":     sidecar.Python,

	"node":    sidecar.Node,
	"npm":     sidecar.Node,
	"npx":     sidecar.Node,
	"pnpm":    sidecar.Node,
	"yarn":    sidecar.Node,
	"deno":    sidecar.Node,
	"tsc":     sidecar.Node,
	"ts-node": sidecar.Node,
}

const hostNotifyTool = "say"

// LookupKind returns the static table's mapping for tool, matching
// §4.4 rule 1. ok is false for tools not in the table (including the
// host-notify tool, which is handled separately).
func LookupKind(tool string) (kind sidecar.Kind, ok bool) {
	kind, ok = toolKind[tool]
	return kind, ok
}

// KnownTool reports whether tool is in the proxy's static allowlist:
// either a direct-mapped tool or the host-notify tool itself. This is
// the §4.3 step 3 check, separate from whether a sidecar for that
// tool's kind was actually started for this session.
func KnownTool(tool string) bool {
	if tool == hostNotifyTool {
		return true
	}
	_, ok := toolKind[tool]
	return ok
}

// Session is the subset of session state the router needs: which
// sidecars this invocation's session actually started and under
// what container name each kind is reachable.
type Session struct {
	WorkspacePath string
	Sidecars      map[sidecar.Kind]string // kind -> container name
}

// ErrUnknownTool is returned when the requested tool has no entry in
// the static table and is not the host-notify tool.
var ErrUnknownTool = fmt.Errorf("router: unknown tool")

// ErrSidecarNotStarted is returned when the tool resolves to a kind
// the session didn't plan a sidecar for.
var ErrSidecarNotStarted = fmt.Errorf("router: session has no sidecar for this tool's kind")

// ErrNotAllowed is returned when say's argv doesn't match the
// registered host-notify allowlist pattern.
var ErrNotAllowed = fmt.Errorf("router: argv not allowed for host-notify tool")

// Route resolves one invocation. argv holds the arguments after the
// tool name; tool is passed separately as §4.4 specifies (tool, argv,
// cwd, session). cwd is the
// container-side working directory the shim observed (os.Getwd()
// inside the agent container); tty reports whether the shim's
// invocation had a controlling terminal.
func Route(tool string, argv []string, cwd string, sess Session, notify AllowMatcher, tty bool) (*Route, error) {
	if tool == hostNotifyTool {
		if notify == nil || !notify.Match(argv) {
			return nil, ErrNotAllowed
		}
		return &Route{HostNotify: true, Command: append([]string{tool}, argv...)}, nil
	}

	kind, ok := toolKind[tool]
	if !ok {
		return nil, ErrUnknownTool
	}
	container, ok := sess.Sidecars[kind]
	if !ok {
		return nil, ErrSidecarNotStarted
	}

	command := append([]string{tool}, argv...)
	command = applyWorkspacePreference(tool, kind, command, sess.WorkspacePath, cwd)

	return &Route{
		Kind:          kind,
		ContainerName: container,
		Command:       command,
		ExtraEnv:      EnvAdditions(kind),
		Cwd:           cwd,
		TTY:           tty,
	}, nil
}

// applyWorkspacePreference implements §4.4 rule 2: prefer a
// project-local interpreter or binary over the sidecar's default
// PATH resolution when the workspace provides one. The probe must
// run against the host filesystem, so cwd (a container-side path
// rooted at containerWorkspaceRoot) is resolved against the
// session's actual host workspace path before any os.Stat.
func applyWorkspacePreference(tool string, kind sidecar.Kind, command []string, workspacePath, cwd string) []string {
	hostDir := hostPathForCwd(workspacePath, cwd)
	switch tool {
	case "python", "python3":
		venvPython := filepath.Join(hostDir, ".venv", "bin", "python")
		if fileExists(venvPython) {
			out := append([]string{venvPython}, command[1:]...)
			return out
		}
	case "tsc", "ts-node":
		local := filepath.Join(hostDir, "node_modules", ".bin", tool)
		if fileExists(local) {
			out := append([]string{local}, command[1:]...)
			return out
		}
	}
	_ = kind
	return command
}

// hostPathForCwd translates a container-side cwd (e.g.
// "/workspace/crate", always rooted at containerWorkspaceRoot since
// the agent and its sidecars all mount the same host workspace
// there) back to the equivalent path on the host.
func hostPathForCwd(workspacePath, cwd string) string {
	if workspacePath == "" {
		return cwd
	}
	rel := strings.TrimPrefix(cwd, containerWorkspaceRoot)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return workspacePath
	}
	return filepath.Join(workspacePath, rel)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// AllowMatcher decides whether a host-notify invocation's argv is
// allowed to run. SayAllowlist (say.go) is the implementation the
// proxy wires up; router stays agnostic of how the pattern is stored.
type AllowMatcher interface {
	Match(argv []string) bool
}
