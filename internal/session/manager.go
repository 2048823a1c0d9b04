package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"os/user"
	"runtime"
	"sync"
	"time"

	"github.com/aifo-coder/aifo-coder/internal/mounts"
	"github.com/aifo-coder/aifo-coder/internal/sidecar"
)

// ReadinessTimeout bounds how long Manager waits for a freshly
// started sidecar to answer a no-op exec before giving up.
const ReadinessTimeout = 30 * time.Second

// DrainGrace is the default time Teardown waits for in-flight execs to
// finish before a Draining session is torn down.
const DrainGrace = 5 * time.Second

// ImageResolver maps a toolchain kind to the image reference the
// session should launch it from. The config package supplies the
// concrete implementation; session stays decoupled from viper.
type ImageResolver func(kind sidecar.Kind) (string, error)

// SecurityOptions carries the launch-time security flags §4.5 step 4
// requires for every sidecar. AppArmorProfile is empty when AppArmor
// isn't available or was disabled.
type SecurityOptions struct {
	AppArmorProfile string
}

// Manager drives the docker/podman CLI to stand up and tear down one
// session's network and sidecar containers.
type Manager struct {
	RuntimePath string
	Logger      *slog.Logger
	Images      ImageResolver
	Security    SecurityOptions
}

// NewManager constructs a Manager, defaulting Logger if nil.
func NewManager(runtimePath string, images ImageResolver, sec SecurityOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{RuntimePath: runtimePath, Images: images, Security: sec, Logger: logger}
}

// CreateNetwork creates the session's isolated network (§4.5 step 3).
func (m *Manager) CreateNetwork(ctx context.Context, sess *Session) error {
	args := []string{"network", "create", "--internal", "--label", containerLabel,
		"--label", sessionLabel(sess.ID), sess.NetworkName}
	if err := m.run(ctx, args...); err != nil {
		return fmt.Errorf("session: creating network %s: %w", sess.NetworkName, err)
	}
	return nil
}

// StartSidecars launches every planned sidecar concurrently and
// waits for each to answer a readiness probe (§4.5 step 4).
func (m *Manager) StartSidecars(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	kinds := make([]sidecar.Kind, 0, len(sess.sidecars))
	for k := range sess.sidecars {
		kinds = append(kinds, k)
	}
	sess.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(kinds))
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind sidecar.Kind) {
			defer wg.Done()
			errs[i] = m.startOneSidecar(ctx, sess, kind)
		}(i, kind)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) startOneSidecar(ctx context.Context, sess *Session, kind sidecar.Kind) error {
	image, err := m.Images(kind)
	if err != nil {
		return fmt.Errorf("session: resolving image for %s: %w", kind, err)
	}

	sess.mu.Lock()
	sc := sess.sidecars[kind]
	sess.mu.Unlock()

	layout := mounts.SidecarLayout(sess.WorkspacePath, "", "")
	prefix, err := mounts.VolumePrefix()
	if err != nil {
		return fmt.Errorf("session: determining volume prefix for %s: %w", kind, err)
	}
	cacheMounts := cacheMountsFor(prefix, string(kind))

	args := []string{
		"run", "-d",
		"--name", sc.ContainerName,
		"--network", sess.NetworkName,
		"--network-alias", string(kind),
		"--label", containerLabel,
		"--label", sessionLabel(sess.ID),
	}
	if runtime.GOOS != "windows" {
		uid, gid, err := currentUIDGID()
		if err != nil {
			return fmt.Errorf("session: resolving invoking user for %s: %w", kind, err)
		}
		args = append(args, "--user", uid+":"+gid)
	}
	args = append(args, "--cap-drop", "ALL", "--security-opt", "no-new-privileges:true")
	if m.Security.AppArmorProfile != "" {
		args = append(args, "--security-opt", "apparmor="+m.Security.AppArmorProfile)
	}
	args = append(args, "--read-only", "--tmpfs", "/tmp", "--tmpfs", "/var/tmp")
	args = append(args, mounts.RuntimeArgs(layout)...)
	args = append(args, mounts.RuntimeArgs(cacheMounts)...)
	args = append(args, image, "sleep", "infinity")

	m.Logger.Debug("starting sidecar", "kind", kind, "container", sc.ContainerName, "image", image)
	if err := m.run(ctx, args...); err != nil {
		return fmt.Errorf("session: starting sidecar %s: %w", kind, err)
	}

	if err := m.waitReady(ctx, sc.ContainerName); err != nil {
		return fmt.Errorf("session: sidecar %s did not become ready: %w", kind, err)
	}

	sess.mu.Lock()
	sc.Ready = true
	sess.mu.Unlock()
	return nil
}

// waitReady polls `docker exec <name> true` until it succeeds or
// ReadinessTimeout elapses.
func (m *Manager) waitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(ReadinessTimeout)
	for {
		if m.run(ctx, "exec", name, "true") == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Teardown implements §4.5 step 7: mark the session Draining, wait
// drainGrace, then forcibly remove every sidecar and the network.
// Teardown is idempotent: an already-Terminated session is a no-op,
// and removal failures for containers/networks that no longer exist
// are swallowed rather than surfaced.
func (m *Manager) Teardown(ctx context.Context, sess *Session, drainGrace time.Duration) error {
	if sess.State() == Terminated {
		return nil
	}
	sess.setState(Draining)
	if drainGrace <= 0 {
		drainGrace = DrainGrace
	}
	select {
	case <-ctx.Done():
	case <-time.After(drainGrace):
	}

	sess.mu.Lock()
	names := make([]string, 0, len(sess.sidecars))
	for _, sc := range sess.sidecars {
		names = append(names, sc.ContainerName)
	}
	sess.mu.Unlock()

	for _, name := range names {
		if err := m.run(context.Background(), "rm", "-f", name); err != nil {
			m.Logger.Warn("removing sidecar during teardown", "container", name, "err", err)
		}
	}
	if err := m.run(context.Background(), "network", "rm", sess.NetworkName); err != nil {
		m.Logger.Warn("removing session network during teardown", "network", sess.NetworkName, "err", err)
	}

	sess.setState(Terminated)
	return nil
}

// cacheMountsFor converts one kind's named cache volumes into mount
// descriptors RuntimeArgs can render as --mount flags.
func cacheMountsFor(prefix, kind string) []mounts.Mount {
	cvs := mounts.CacheVolumesForKind(prefix, kind)
	out := make([]mounts.Mount, 0, len(cvs))
	for _, cv := range cvs {
		out = append(out, mounts.Mount{
			Type:        "volume",
			Source:      cv.VolumeName,
			Target:      cv.ContainerPath,
			Options:     "rw,nosuid,nodev",
			Description: cv.Description,
		})
	}
	return out
}

// currentUIDGID returns the invoking user's uid:gid, mirroring
// internal/launcher's agent-container wiring so sidecars also run as
// the invoking user rather than root (§4.5 step 4).
func currentUIDGID() (string, string, error) {
	u, err := user.Current()
	if err != nil {
		return "", "", err
	}
	return u.Uid, u.Gid, nil
}

func (m *Manager) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, m.RuntimePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w: %s", m.RuntimePath, args, err, stderr.String())
	}
	return nil
}
