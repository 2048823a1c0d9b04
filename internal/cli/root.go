package cli

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/aifo-coder/aifo-coder/internal/config"
	"github.com/aifo-coder/aifo-coder/internal/logging"
	"github.com/aifo-coder/aifo-coder/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Global flag values.
var (
	cfgFile   string
	verbose   bool
	logFormat string
)

// Cfg holds the loaded configuration, available to all subcommands.
var Cfg *config.Config

// SetVersionInfo is called from main to inject build-time version info.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	buildDate = d
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(fmt.Sprintf("aifo-coder version {{.Version}} (commit: %s, built: %s)\n", c, d))
}

var rootCmd = &cobra.Command{
	Use:   "aifo-coder",
	Short: "aifo-coder: sandboxed AI coding agent launcher",
	Long: `aifo-coder runs AI coding agents inside a per-invocation container
sandbox. Toolchain commands the agent needs (cargo, npm, pip, go, ...)
are routed through a PATH shim to a host-side proxy, which dispatches
them into per-language sidecar containers rather than the agent's own
environment.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging first.
		logging.Setup(logFormat, verbose)

		// Load configuration.
		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Auto-detect runtime if the configured one is not available.
		if _, lookErr := exec.LookPath(Cfg.Runtime); lookErr != nil {
			if info, err := runtime.Detect(); err == nil && info.Name != Cfg.Runtime {
				slog.Info("configured runtime not found, falling back", "configured", Cfg.Runtime, "using", info.Name)
				Cfg.Runtime = info.Name
			}
		}

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/aifo-coder/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text or json)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("aifo-coder version {{.Version}} (commit: %s, built: %s)\n", commit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
