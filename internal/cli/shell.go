package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aifo-coder/aifo-coder/internal/launcher"
	"github.com/aifo-coder/aifo-coder/internal/lockregistry"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell [workspace]",
	Short: "Open an interactive shell in a running agent container",
	Long: `Shell attaches an interactive shell to the agent container of the
session already running for a workspace (started separately with
'aifo-coder start').`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	workspace := "."
	if len(args) > 0 {
		workspace = args[0]
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}

	reg, err := lockregistry.Load()
	if err != nil {
		return fmt.Errorf("loading session registry: %w", err)
	}

	var entry *lockregistry.SessionEntry
	for i := range reg.Sessions {
		if reg.Sessions[i].Workspace == absWorkspace {
			entry = &reg.Sessions[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("no running session for workspace %s; run 'aifo-coder start' first", absWorkspace)
	}
	if !processAlive(entry.PID) {
		return fmt.Errorf("session %s is no longer running (stale registry entry); run 'aifo-coder stop' to clear it", entry.SessionID)
	}

	name := launcher.ContainerName(entry.SessionID, "")
	shell := Cfg.Shell
	if shell == "" {
		shell = "bash"
	}

	execCmd := exec.Command(Cfg.Runtime, "exec", "-it", name, shell)
	execCmd.Stdin = os.Stdin
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	return execCmd.Run()
}
