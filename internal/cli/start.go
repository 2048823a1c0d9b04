package cli

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aifo-coder/aifo-coder/internal/auditlog"
	"github.com/aifo-coder/aifo-coder/internal/config"
	"github.com/aifo-coder/aifo-coder/internal/container"
	"github.com/aifo-coder/aifo-coder/internal/credentials"
	"github.com/aifo-coder/aifo-coder/internal/launcher"
	"github.com/aifo-coder/aifo-coder/internal/lockregistry"
	"github.com/aifo-coder/aifo-coder/internal/policy"
	"github.com/aifo-coder/aifo-coder/internal/proxy"
	"github.com/aifo-coder/aifo-coder/internal/router"
	"github.com/aifo-coder/aifo-coder/internal/security"
	"github.com/aifo-coder/aifo-coder/internal/session"
	"github.com/aifo-coder/aifo-coder/internal/sidecar"
	"github.com/aifo-coder/aifo-coder/internal/transport"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [workspace] -- [agent args...]",
	Short: "Start a sandboxed AI coding agent",
	Long: `Start brings up a per-invocation container sandbox for an AI coding
agent: it stands up an isolated network, launches the toolchain sidecars
named by --toolchain, starts the host-resident exec proxy, and runs the
agent container attached to the current terminal. Everything is torn
down again when the agent exits.`,
	Args: cobra.ArbitraryArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringSlice("toolchain", nil, "toolchain sidecar(s) to start: rust, node, python, cpp, go (repeatable)")
	startCmd.Flags().String("image", "", "agent container image (overrides config)")
	startCmd.Flags().String("apparmor", "", "AppArmor mode: auto, none, docker-default, or a custom profile name")

	rootCmd.AddCommand(startCmd)
}

// splitStartArgs separates the optional leading workspace path from
// the agent's own argv, which starts after a literal "--" separator
// (dash is cobra's ArgsLenAtDash, -1 when no "--" was present).
func splitStartArgs(args []string, dash int) (workspace string, agentArgv []string) {
	workspace = "."
	if dash >= 0 {
		if dash > 0 {
			workspace = args[0]
		}
		return workspace, args[dash:]
	}
	if len(args) > 0 {
		workspace = args[0]
	}
	return workspace, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	workspace, agentArgv := splitStartArgs(args, cmd.Flags().ArgsLenAtDash())

	absWorkspace, err := container.ValidateWorkspace(workspace)
	if err != nil {
		return err
	}

	toolchainFlag, _ := cmd.Flags().GetStringSlice("toolchain")
	kinds := make([]sidecar.Kind, 0, len(toolchainFlag))
	for _, name := range toolchainFlag {
		k, err := sidecar.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return fmt.Errorf("--toolchain: %w", err)
		}
		kinds = append(kinds, k)
	}

	image, _ := cmd.Flags().GetString("image")
	if image == "" {
		image = Cfg.Images.Agent
	}
	apparmorMode, _ := cmd.Flags().GetString("apparmor")
	if apparmorMode == "" {
		apparmorMode = os.Getenv("AIFO_APPARMOR_PROFILE")
	}

	sess, err := session.New(absWorkspace, kinds)
	if err != nil {
		return fmt.Errorf("planning session: %w", err)
	}

	lock, err := lockregistry.Acquire(absWorkspace, sess.ID)
	if err != nil {
		return fmt.Errorf("acquiring workspace lock: %w", err)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credEnvVars, err := injectCredentials(ctx)
	if err != nil {
		slog.Warn("credential injection failed, starting without credentials", "error", err)
	} else {
		logAuditEvent(Cfg, sess.ID, auditlog.EventCredentialIssue, auditlog.SeverityInfo,
			map[string]any{"mode": Cfg.Credentials.Mode})
	}

	policyHash, policyErr := loadAndMergePolicy(Cfg, absWorkspace)
	if policyErr != nil {
		return fmt.Errorf("policy validation failed: %w", policyErr)
	}

	logDecisionEntry(Cfg, absWorkspace, sess.ID, "session_start",
		fmt.Sprintf("toolchains=%v image=%s policy=%s", kinds, image, policyHash))
	logAuditEvent(Cfg, sess.ID, auditlog.EventSessionStart, auditlog.SeverityInfo,
		map[string]any{"workspace": absWorkspace, "toolchains": kinds, "image": image})

	mgr := session.NewManager(Cfg.Runtime, resolveSidecarImage, session.SecurityOptions{
		AppArmorProfile: resolveSidecarAppArmorProfile(apparmorMode),
	}, slog.Default())

	if err := mgr.CreateNetwork(ctx, sess); err != nil {
		return err
	}
	teardown := func() {
		logDecisionEntry(Cfg, absWorkspace, sess.ID, "session_drain", "")
		_ = mgr.Teardown(context.Background(), sess, session.DrainGrace)
		if reg, err := lockregistry.Load(); err == nil {
			_ = reg.Remove(sess.ID)
		}
		logDecisionEntry(Cfg, absWorkspace, sess.ID, "session_terminate", "")
		logAuditEvent(Cfg, sess.ID, auditlog.EventSessionStop, auditlog.SeverityInfo, nil)
	}

	if err := mgr.StartSidecars(ctx, sess); err != nil {
		teardown()
		return fmt.Errorf("starting sidecars: %w", err)
	}

	if reg, err := lockregistry.Load(); err == nil {
		_ = reg.Add(lockregistry.SessionEntry{
			SessionID: sess.ID,
			Workspace: absWorkspace,
			PID:       os.Getpid(),
			StartedAt: time.Now().Format(time.RFC3339),
		})
	}
	logDecisionEntry(Cfg, absWorkspace, sess.ID, "session_ready", "")

	sockDir := filepath.Join(lockregistry.BaseDir(), "sock-"+sess.ID)
	if err := os.MkdirAll(sockDir, 0o700); err != nil {
		teardown()
		return fmt.Errorf("creating transport socket directory: %w", err)
	}
	defer os.RemoveAll(sockDir)
	sockPath := filepath.Join(sockDir, "toolexec.sock")
	sess.Endpoint = transport.Endpoint{Scheme: transport.SchemeUnix, Address: sockPath}

	srv := proxy.New(sess.Endpoint, sess.AuthToken,
		router.Session{WorkspacePath: sess.WorkspacePath, Sidecars: sess.Sidecars()},
		router.SayAllowlist{},
		&proxy.DockerRunner{RuntimePath: Cfg.Runtime, CancelGrace: proxy.DefaultCancelGrace, Logger: slog.Default()},
		slog.Default())

	proxyErrs := make(chan error, 1)
	go func() { proxyErrs <- srv.Start() }()

	hostEnv := os.Environ()
	if len(credEnvVars) > 0 {
		hostEnv = append(hostEnv, credEnvVars...)
	}

	opts := launcher.Options{
		RuntimePath:      Cfg.Runtime,
		Image:            image,
		Workspace:        absWorkspace,
		SessionID:        sess.ID,
		NetworkName:      sess.NetworkName,
		AppArmorMode:     apparmorMode,
		ToolExecURL:      "unix:///run/aifo/toolexec.sock",
		ToolExecToken:    sess.AuthToken,
		HostEnv:          hostEnv,
		UnixTransportDir: sockDir,
		TmpSize:          Cfg.Resources.TmpSize,
		VarTmpSize:       Cfg.Resources.TmpSize,
		Argv:             agentArgv,
	}

	containerID, err := launcher.Launch(ctx, opts)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		teardown()
		return fmt.Errorf("starting agent container: %w", err)
	}

	exitCode := runAgentContainer(ctx, Cfg.Runtime, launcher.ContainerName(sess.ID, ""))
	slog.Debug("agent container exited", "container_id", containerID, "exit_code", exitCode)

	_ = exec.Command(Cfg.Runtime, "rm", "-f", launcher.ContainerName(sess.ID, "")).Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	teardown()

	if exitCode != 0 {
		return fmt.Errorf("agent exited with status %d", exitCode)
	}
	return nil
}

// runAgentContainer attaches to the already-started (detached) agent
// container's stdio and blocks until it exits, then reads back its
// exit code. The agent container always launches with `docker run -d`
// (internal/launcher.Build's doc comment), so start owns attach+wait
// the way the teacher's container.Manager owns its own exec lifecycle.
func runAgentContainer(ctx context.Context, runtimePath, name string) int {
	attach := exec.CommandContext(ctx, runtimePath, "attach", "--sig-proxy=false", name)
	attach.Stdin = os.Stdin
	attach.Stdout = os.Stdout
	attach.Stderr = os.Stderr
	_ = attach.Run()

	out, err := exec.Command(runtimePath, "inspect", "--format", "{{.State.ExitCode}}", name).Output()
	if err != nil {
		return 1
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 1
	}
	return code
}

// injectCredentials mints a fallback or vault-backed credential
// provider per Cfg.Credentials.Mode and returns the env vars the
// agent container should receive, grounded on the teacher's
// credentials.Broker wiring in the original start command.
func injectCredentials(ctx context.Context) ([]string, error) {
	var provider credentials.Provider
	switch Cfg.Credentials.Mode {
	case "vault":
		vp, err := credentials.NewVaultProvider(credentials.VaultConfig{Address: Cfg.Credentials.VaultAddr})
		if err != nil {
			return nil, err
		}
		provider = vp
	default:
		kp, err := credentials.NewKeychainProvider()
		if err != nil {
			slog.Debug("keychain provider unavailable, using in-memory fallback", "error", err)
			provider = credentials.NewMemoryProvider()
		} else {
			provider = kp
		}
	}

	broker := credentials.NewBroker(provider)
	return broker.InjectEnvVars(ctx)
}

// resolveSidecarImage adapts config.ImagesConfig.ForKind to
// session.ImageResolver, surfacing an unconfigured image as an error
// instead of silently launching a sidecar with an empty image name.
func resolveSidecarImage(kind sidecar.Kind) (string, error) {
	image := Cfg.Images.ForKind(kind)
	if image == "" {
		return "", fmt.Errorf("no image configured for sidecar kind %s", kind)
	}
	return image, nil
}

// resolveSidecarAppArmorProfile mirrors internal/launcher's own profile
// selection so sidecar containers (started by internal/session, not
// internal/launcher) get the same security posture as the agent
// container.
func resolveSidecarAppArmorProfile(mode string) string {
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

// logDecisionEntry appends a session lifecycle event to the decision
// audit log (§6's session_start/session_ready/session_drain/
// session_terminate events), matching the teacher's
// policy.DecisionLogger usage in the original start command.
func logDecisionEntry(cfg *config.Config, workspace, sessionID, action, reason string) {
	if !cfg.Audit.Enabled {
		return
	}
	logger, err := policy.NewDecisionLogger(policy.DecisionLogConfig{
		Path:          resolveDecisionLogPath(cfg),
		FlushInterval: 5 * time.Second,
	})
	if err != nil {
		slog.Debug("decision logger unavailable", "error", err)
		return
	}
	defer logger.Close()

	entry := policy.DecisionEntry{
		Timestamp: time.Now(),
		Action:    action,
		User:      currentUser(),
		Workspace: workspace,
		SandboxID: sessionID,
		Decision:  "allow",
		RiskClass: policy.RiskSafe,
		Rule:      "lifecycle",
		Reason:    reason,
	}
	if err := logger.Log(entry); err != nil {
		slog.Warn("failed to log decision entry", "action", action, "error", err)
		return
	}
	_ = logger.Flush()
}

// logAuditEvent appends a tamper-evident event to the hash-chained
// audit trail at Cfg.Audit.LogPath, distinct from the per-action
// decision log above: the decision log records *why* a policy allowed
// something, the audit trail records *that* a session/credential event
// happened, with a hash chain so later tampering is detectable.
func logAuditEvent(cfg *config.Config, sessionID string, eventType auditlog.EventType, severity auditlog.Severity, details map[string]any) {
	if !cfg.Audit.Enabled {
		return
	}
	path := cfg.Audit.LogPath
	if path == "" || !isWritable(filepath.Dir(path)) {
		home, err := config.ResolveHomeDir()
		if err != nil {
			return
		}
		path = filepath.Join(home, ".local", "share", "aifo-coder", "log", "audit.jsonl")
	}

	logger, err := auditlog.NewFileLogger(auditlog.FileLoggerConfig{Path: path})
	if err != nil {
		slog.Debug("audit logger unavailable", "error", err)
		return
	}
	defer logger.Close()

	event := auditlog.Event{
		Timestamp: time.Now(),
		EventType: eventType,
		SessionID: sessionID,
		UserID:    currentUser(),
		Source:    auditlog.SourceCLI,
		Severity:  severity,
		Details:   details,
	}
	if err := logger.Log(context.Background(), event); err != nil {
		slog.Warn("failed to log audit event", "event_type", eventType, "error", err)
	}
}

// resolveDecisionLogPath returns a user-writable decision log path,
// falling back to a per-user location when the configured directory
// isn't writable (e.g. the default /var/log path without root).
func resolveDecisionLogPath(cfg *config.Config) string {
	cfgPath := cfg.Policy.DecisionLogPath
	if cfgPath != "" && isWritable(filepath.Dir(cfgPath)) {
		return cfgPath
	}
	home, err := config.ResolveHomeDir()
	if err != nil {
		return cfgPath
	}
	return filepath.Join(home, ".local", "share", "aifo-coder", "log", "decisions.jsonl")
}

func isWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	tmp := filepath.Join(dir, ".aifo-coder-write-test")
	f, err := os.Create(tmp)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(tmp)
	return true
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

// policyDigest returns a short stable fingerprint of an effective
// policy document, used by start.
func policyDigest(p *policy.Policy) string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// loadAndMergePolicy loads the org/team/project policy hierarchy (if
// an org baseline is configured and present), validates each level,
// and merges them with tighten-only semantics. A missing org baseline
// is not an error: aifo-coder runs fine as a single-user tool with no
// policy hierarchy configured at all (see internal/doctor's
// minimal-config check). Returns "" when no policy was loaded.
func loadAndMergePolicy(cfg *config.Config, workspace string) (string, error) {
	orgPath := cfg.Policy.OrgBaselinePath
	if orgPath == "" {
		return "", nil
	}
	if _, err := os.Stat(orgPath); err != nil {
		slog.Debug("org policy not found, skipping policy enforcement", "path", orgPath)
		return "", nil
	}

	var projectPath string
	if cfg.Policy.ProjectPolicyPath != "" {
		candidate := filepath.Join(workspace, cfg.Policy.ProjectPolicyPath)
		if _, err := os.Stat(candidate); err == nil {
			projectPath = candidate
		}
	}

	org, team, project, err := policy.LoadPolicyHierarchy(orgPath, cfg.Policy.TeamPolicyPath, projectPath)
	if err != nil {
		return "", fmt.Errorf("loading policy files: %w", err)
	}

	var validationErrs []policy.ValidationError
	if org != nil {
		validationErrs = append(validationErrs, policy.ValidatePolicy(org)...)
	}
	if team != nil {
		validationErrs = append(validationErrs, policy.ValidatePolicy(team)...)
	}
	if project != nil {
		validationErrs = append(validationErrs, policy.ValidatePolicy(project)...)
	}
	if len(validationErrs) > 0 {
		msgs := make([]string, len(validationErrs))
		for i, e := range validationErrs {
			msgs[i] = e.Error()
		}
		return "", fmt.Errorf("policy schema errors:\n  %s", strings.Join(msgs, "\n  "))
	}

	effective, err := policy.MergePolicies(org, team, project)
	if err != nil {
		return "", err
	}
	return policyDigest(effective), nil
}
