package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aifo-coder/aifo-coder/internal/auditlog"
	"github.com/aifo-coder/aifo-coder/internal/lockregistry"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [workspace]",
	Short: "Stop a running sandboxed AI coding agent",
	Long: `Stop signals the aifo-coder start process owning a workspace's session
to begin its normal teardown (sidecars, network, exec proxy). If that
process is no longer alive, stop reaps its containers and network
directly and clears the stale registry entry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("no running session for workspace %s", absWorkspace)
	}

	logDecisionEntry(Cfg, absWorkspace, entry.SessionID, "session_stop", "stop requested")

	if processAlive(entry.PID) {
		if err := syscall.Kill(entry.PID, syscall.SIGTERM); err != nil {
			return fmt.Errorf("signaling session owner (pid %d): %w", entry.PID, err)
		}
		fmt.Printf("Stopping session %s (pid %d)...\n", entry.SessionID, entry.PID)
		return nil
	}

	fmt.Printf("Session %s's owning process is gone; reaping containers directly.\n", entry.SessionID)
	reapSessionContainers(Cfg.Runtime, entry.SessionID)
	logAuditEvent(Cfg, entry.SessionID, auditlog.EventSessionStop, auditlog.SeverityWarning,
		map[string]any{"reason": "owner process gone, reaped orphaned session"})
	return reg.Remove(entry.SessionID)
}

// reapSessionContainers force-removes every container and network
// labeled for a session whose owning process has already died,
// matching §4.7's orphan-reaping requirement.
func reapSessionContainers(runtimePath, sessionID string) {
	label := "label=aifo.session=" + sessionID
	out, err := exec.Command(runtimePath, "ps", "-aq", "--filter", label).Output()
	if err == nil {
		for _, id := range strings.Fields(string(out)) {
			_ = exec.Command(runtimePath, "rm", "-f", id).Run()
		}
	}
	_ = exec.Command(runtimePath, "network", "rm", "aifo-net-"+sessionID).Run()
}

// processAlive reports whether pid refers to a live process, matching
// internal/lockregistry's own staleness check.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
