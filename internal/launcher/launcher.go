// Package launcher builds and starts the agent container (C6): the
// minimal container running the coding agent itself, wired to the
// session's proxy endpoint and sidecar network. It never executes
// user-supplied shell; the agent's argv is passed through unmodified
// as the container's CMD.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"os/user"
	"runtime"
	"strings"

	"github.com/aifo-coder/aifo-coder/internal/mounts"
	"github.com/aifo-coder/aifo-coder/internal/security"
)

const containerLabel = "aifo.managed=true"

// Options describes one agent container launch. Everything the
// session manager already knows (endpoint, token, network name) is
// passed in rather than recomputed, keeping launcher a pure argument
// assembler.
type Options struct {
	RuntimePath string
	Image       string
	Workspace   string
	SessionID   string

	// NameOverride and HostnameOverride replace the aifo-coder-<session_id>
	// default when non-empty, per spec §4.6.
	NameOverride     string
	HostnameOverride string

	NetworkName string
	HostBridge  bool // AIFO_SESSION_NETWORK=host-bridge

	// AppArmorMode mirrors AIFO_APPARMOR_PROFILE: "", "auto", "none",
	// "docker-default", or a custom profile name.
	AppArmorMode string

	ToolExecURL   string
	ToolExecToken string

	// HostEnv is the invoking process's environment (os.Environ()),
	// filtered and translated by BuildEnv.
	HostEnv []string

	GnupgHostDir     string // host ~/.gnupg-host, mounted read-only if set
	ShimDir          string // host override for /opt/aifo/bin, read-only
	UnixTransportDir string // host dir for the unix socket, at /run/aifo
	AiderConfigFiles []string // host paths of top-level Aider config files to map through

	TmpSize    string
	VarTmpSize string

	Argv []string // the agent's CMD
}

// ContainerName returns the default aifo-coder-<session_id> name, or
// the override when supplied.
func ContainerName(sessionID, override string) string {
	if override != "" {
		return override
	}
	return "aifo-coder-" + sessionID
}

// Hostname returns the default hostname, mirroring ContainerName.
func Hostname(sessionID, override string) string {
	if override != "" {
		return override
	}
	return "aifo-coder-" + sessionID
}

// Build assembles the `docker run` argv for the agent container
// without executing it, so Doctor's plan check (§4.8) can inspect the
// exact invocation a launch would produce.
func Build(opts Options) ([]string, error) {
	name := ContainerName(opts.SessionID, opts.NameOverride)
	hostname := Hostname(opts.SessionID, opts.HostnameOverride)

	args := []string{
		"run", "-d",
		"--name", name,
		"--hostname", hostname,
		"--label", containerLabel,
		"--network", opts.NetworkName,
	}

	if opts.HostBridge && runtime.GOOS == "linux" {
		args = append(args, "--add-host", "host.docker.internal:host-gateway")
	}

	if runtime.GOOS != "windows" {
		uid, gid, err := currentUIDGID()
		if err != nil {
			return nil, fmt.Errorf("launcher: resolving invoking user: %w", err)
		}
		args = append(args, "--user", uid+":"+gid)
	}

	args = append(args, "--cap-drop", "ALL", "--security-opt", "no-new-privileges:true", "--read-only")

	apparmorProfile := resolveAppArmorProfile(opts.AppArmorMode)
	if apparmorProfile != "" {
		args = append(args, "--security-opt", "apparmor="+apparmorProfile)
	}

	mountArgs, err := buildMounts(opts)
	if err != nil {
		return nil, err
	}
	args = append(args, mountArgs...)

	for _, kv := range BuildEnv(opts.HostEnv) {
		args = append(args, "-e", kv)
	}
	args = append(args, "-e", "AIFO_TOOLEXEC_URL="+opts.ToolExecURL)
	args = append(args, "-e", "AIFO_TOOLEXEC_TOKEN="+opts.ToolExecToken)

	args = append(args, opts.Image)
	args = append(args, opts.Argv...)

	// Seccomp is left at the runtime default for the agent container
	// (spec §4.6), so the pre-launch gate does not require it here the
	// way security.ValidateArgs does.
	if err := security.ValidateArgsWithExpectations(args, false, apparmorProfile != "", false); err != nil {
		return nil, fmt.Errorf("launcher: pre-launch security validation failed: %w", err)
	}

	return args, nil
}

// Launch builds and runs the agent container, returning its container ID.
func Launch(ctx context.Context, opts Options) (string, error) {
	args, err := Build(opts)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, opts.RuntimePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("launcher: starting agent container: %w: %s", err, stderr.String())
	}
	return strings.TrimSpace(string(out)), nil
}

func buildMounts(opts Options) ([]string, error) {
	layout, err := mounts.Layout(opts.Workspace, opts.TmpSize, opts.VarTmpSize)
	if err != nil {
		return nil, fmt.Errorf("launcher: building mount layout: %w", err)
	}

	if opts.GnupgHostDir != "" {
		layout = append(layout, mounts.Mount{
			Type: "bind", Source: opts.GnupgHostDir, Target: "/home/dev/.gnupg-host",
			Options: "ro,nosuid,nodev", Description: "host GnuPG keyring",
		})
	}
	if opts.ShimDir != "" {
		layout = append(layout, mounts.Mount{
			Type: "bind", Source: opts.ShimDir, Target: "/opt/aifo/bin",
			Options: "ro,nosuid,nodev", Description: "PATH shim override",
		})
	}
	if opts.UnixTransportDir != "" {
		layout = append(layout, mounts.Mount{
			Type: "bind", Source: opts.UnixTransportDir, Target: "/run/aifo",
			Options: "rw,nosuid,nodev", Description: "unix transport socket directory",
		})
	}
	for _, hostPath := range opts.AiderConfigFiles {
		layout = append(layout, mounts.Mount{
			Type: "bind", Source: hostPath, Target: "/home/dev/" + basename(hostPath),
			Options: "ro,nosuid,nodev", Description: "Aider config file",
		})
	}

	return mounts.RuntimeArgs(layout), nil
}

func basename(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// resolveAppArmorProfile implements spec §4.6's selection rule: a
// custom aifo-coder profile if loaded, else docker-default, else
// omitted. "none" disables it outright; any other non-empty mode is
// treated as an explicit custom profile name.
func resolveAppArmorProfile(mode string) string {
	switch mode {
	case "none":
		return ""
	case "docker-default":
		return "docker-default"
	case "", "auto":
		if !security.IsAppArmorAvailable() {
			return ""
		}
		if loaded, _ := security.IsProfileLoaded("aifo-coder"); loaded {
			return "aifo-coder"
		}
		return "docker-default"
	default:
		return mode
	}
}

func currentUIDGID() (string, string, error) {
	u, err := user.Current()
	if err != nil {
		return "", "", err
	}
	return u.Uid, u.Gid, nil
}
