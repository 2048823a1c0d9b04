package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/aifo-coder/aifo-coder/internal/lockregistry"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running sessions and configuration",
	Long: `Status lists every session currently tracked in the workspace
registry, its containers' runtime state, and a summary of the active
policy and credentials configuration.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	reg, err := lockregistry.Load()
	if err != nil {
		return fmt.Errorf("loading session registry: %w", err)
	}

	fmt.Println("Sessions:")
	if len(reg.Sessions) == 0 {
		fmt.Println("  (none)")
	}
	for _, entry := range reg.Sessions {
		state := "running"
		if !processAlive(entry.PID) {
			state = "stale (owner process gone)"
		}
		fmt.Printf("  %s  workspace=%s  pid=%d  started=%s  [%s]\n",
			entry.SessionID, entry.Workspace, entry.PID, entry.StartedAt, state)

		containers := sessionContainers(Cfg.Runtime, entry.SessionID)
		for _, c := range containers {
			fmt.Printf("    - %s\n", c)
		}
	}

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  runtime:              %s\n", Cfg.Runtime)
	fmt.Printf("  agent image:          %s\n", Cfg.Images.Agent)
	fmt.Printf("  org policy:           %s\n", Cfg.Policy.OrgBaselinePath)
	fmt.Printf("  project policy:       %s\n", Cfg.Policy.ProjectPolicyPath)
	fmt.Printf("  decision log:         %s\n", resolveDecisionLogPath(Cfg))
	fmt.Printf("  audit log:            %s (enabled=%v)\n", Cfg.Audit.LogPath, Cfg.Audit.Enabled)
	fmt.Printf("  credentials mode:     %s\n", Cfg.Credentials.Mode)
	fmt.Printf("  network gating:       %v\n", Cfg.Network.Enabled)

	return nil
}

// sessionContainers lists the container names labeled for a session,
// using the docker/podman CLI directly since status is read-only
// diagnostics and doesn't need the full session.Manager.
func sessionContainers(runtimePath, sessionID string) []string {
	out, err := exec.Command(runtimePath, "ps", "-a",
		"--filter", "label=aifo.session="+sessionID,
		"--format", "{{.Names}} ({{.Status}})").Output()
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return result
}
