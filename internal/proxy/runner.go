package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/aifo-coder/aifo-coder/internal/router"
)

// DockerRunner executes routed commands via `docker exec` (or
// `podman exec`, same CLI surface) against the sidecar the router
// selected, or directly on the host for the say tool.
type DockerRunner struct {
	RuntimePath string
	CancelGrace time.Duration
	Logger      *slog.Logger
}

// Run implements Server.Runner.
func (d *DockerRunner) Run(ctx context.Context, route *router.Route, env []string, stdin ReadCloser, stdout, stderr Writer) (int, error) {
	var cmd *exec.Cmd
	if route.HostNotify {
		cmd = exec.Command(route.Command[0], route.Command[1:]...)
	} else {
		args := []string{"exec", "-i"}
		if route.TTY {
			args = append(args, "-t")
		}
		for k, v := range route.ExtraEnv {
			args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
		}
		for _, kv := range env {
			args = append(args, "-e", kv)
		}
		if route.Cwd != "" {
			args = append(args, "-w", route.Cwd)
		}
		args = append(args, route.ContainerName)
		args = append(args, route.Command...)
		cmd = exec.Command(d.RuntimePath, args...)
	}

	cmd.Stdin = ioReaderAdapter{stdin}
	cmd.Stdout = ioWriterAdapter{stdout}
	cmd.Stderr = ioWriterAdapter{stderr}
	cmd.SysProcAttr = setpgidAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("proxy: starting exec: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	grace := d.CancelGrace
	if grace <= 0 {
		grace = DefaultCancelGrace
	}

	select {
	case err := <-waitErr:
		return exitCodeOf(cmd, err)
	case <-ctx.Done():
		d.terminate(cmd, grace, waitErr)
		return 0, ctx.Err()
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after
// grace if the process hasn't exited, matching §4.3's cancellation
// policy for a disconnected client.
func (d *DockerRunner) terminate(cmd *exec.Cmd, grace time.Duration, waitErr <-chan error) {
	if cmd.Process != nil {
		_ = signalGroup(cmd.Process.Pid, syscall.SIGTERM)
	}
	select {
	case <-waitErr:
		return
	case <-time.After(grace):
	}
	if cmd.Process != nil {
		_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	<-waitErr
}

func exitCodeOf(cmd *exec.Cmd, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("proxy: exec: %w", err)
}

type ioReaderAdapter struct{ r ReadCloser }

func (a ioReaderAdapter) Read(p []byte) (int, error) { return a.r.Read(p) }

type ioWriterAdapter struct{ w Writer }

func (a ioWriterAdapter) Write(p []byte) (int, error) { return a.w.Write(p) }

var _ io.Reader = ioReaderAdapter{}
var _ io.Writer = ioWriterAdapter{}
