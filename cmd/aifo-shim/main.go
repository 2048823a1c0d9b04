// aifo-shim is installed once per agent image and symlinked under
// every tool name the session's sidecars can serve (cargo, node,
// python, gcc, go, say, ...). It never runs the named tool itself;
// it forwards the invocation to the host proxy over AIFO_TOOLEXEC_URL
// and replays the proxy's response onto its own stdio.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/aifo-coder/aifo-coder/internal/shim"
)

func main() {
	os.Exit(run())
}

func run() int {
	client, token, ok := shim.NewClientFromEnv()
	if !ok {
		fmt.Fprintf(os.Stderr, "aifo-shim: %s or %s not set; not running inside an aifo-coder session\n",
			shim.EnvEndpointVar, shim.EnvTokenVar)
		return shim.UnwiredExitCode
	}

	execID := uuid.NewString()
	tty := isTTY(os.Stdin)

	req, err := shim.BuildRequest(os.Args[0], os.Args[1:], os.Environ(), execID, tty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aifo-shim: %v\n", err)
		return shim.UnwiredExitCode
	}

	home, _ := os.UserHomeDir()
	scratch := shim.ScratchDir(home, execID)
	if err := shim.DropBreadcrumbs(scratch, tty); err != nil {
		// A failed breadcrumb only degrades the wrapper shells' ability
		// to exit promptly; it must not block the tool invocation.
		fmt.Fprintf(os.Stderr, "aifo-shim: warning: %v\n", err)
	}
	defer shim.CleanupScratchDir(scratch)

	code, err := client.Exec(req, token, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aifo-shim: %v\n", err)
		return shim.TransportErrorExitCode
	}
	return code
}

// isTTY reports whether f is connected to a terminal. Best-effort:
// it only affects the breadcrumb hint the shim drops for wrapper
// shells, never the routing decision itself.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
