package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aifo-coder/aifo-coder/internal/config"
	"github.com/aifo-coder/aifo-coder/internal/host"
	"github.com/aifo-coder/aifo-coder/internal/launcher"
	"github.com/aifo-coder/aifo-coder/internal/network"
	"github.com/aifo-coder/aifo-coder/internal/runtime"
	"github.com/aifo-coder/aifo-coder/internal/security"
	"github.com/aifo-coder/aifo-coder/internal/sidecar"
)

// Status values a CheckResult can carry.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
	StatusInfo = "info"
)

// CheckResult represents the outcome of a single diagnostic check.
type CheckResult struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// Report is a collection of check results.
type Report struct {
	Results []CheckResult `json:"results"`
}

// HasFailures returns true if any check failed. Warn and info never
// count, only fail does.
func (r *Report) HasFailures() bool {
	for _, c := range r.Results {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// JSON returns the report as formatted JSON.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RunOptions tunes RunAllWithOptions' behavior.
type RunOptions struct {
	// Strict promotes info-level results to warnings, for CI-style runs
	// that want every diagnostic to carry weight.
	Strict bool
}

// RunAll executes all diagnostic checks with default options.
func RunAll(cfg *config.Config) *Report {
	return RunAllWithOptions(cfg, RunOptions{})
}

// RunAllWithOptions executes every check this core owns: container
// runtime detection, seccomp/AppArmor availability, per-kind image
// presence, and a read-only "plan" check that assembles the agent
// launcher's argv without executing it. Sidecar-egress checks
// (nftables/Squid/CoreDNS) only run when network gating is enabled.
func RunAllWithOptions(cfg *config.Config, opts RunOptions) *Report {
	hostInfo := host.Detect()

	checks := []func() CheckResult{
		func() CheckResult { return CheckContainerRuntime(cfg.Runtime) },
		func() CheckResult { return CheckAppArmor(hostInfo) },
		CheckSeccomp,
		func() CheckResult { return CheckImages(cfg) },
		CheckDiskSpace,
		func() CheckResult { return CheckPolicyFiles(cfg) },
		func() CheckResult { return CheckCredentials(cfg) },
		func() CheckResult { return CheckPlan(cfg) },
	}

	if cfg.Network.Enabled {
		checks = append(checks,
			CheckNFTables,
			func() CheckResult { return CheckSquidProxy(cfg) },
			func() CheckResult { return CheckCoreDNS(cfg) },
		)
	}

	if hostInfo.IsWSL2 {
		checks = append(checks, func() CheckResult { return CheckWSL2(hostInfo) })
	}

	report := &Report{}
	for _, check := range checks {
		result := check()
		if opts.Strict && result.Status == StatusInfo {
			result.Status = StatusWarn
		}
		report.Results = append(report.Results, result)
	}

	return report
}

// CheckContainerRuntime verifies that a container runtime is installed,
// reachable, and matches (or safely falls back from) the configured one.
func CheckContainerRuntime(configuredRuntime string) CheckResult {
	result := CheckResult{Name: "Container Runtime"}

	info, err := runtime.Detect()
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Remediation = "Install Docker: https://docs.docker.com/engine/install/\n" +
			"  Or install Podman: https://podman.io/docs/installation"
		return result
	}

	var infoCmd *exec.Cmd
	if info.Name == "docker" {
		infoCmd = exec.Command(info.Path, "info", "--format", "{{.OSType}}")
	} else {
		infoCmd = exec.Command(info.Path, "info", "--format", "{{.Host.OS}}")
	}
	if err := infoCmd.Run(); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s installed (%s) but 'info' command failed -- service may not be running", info.Name, info.Version)
		result.Remediation = "Ensure the runtime daemon is running, e.g. sudo systemctl start docker"
		return result
	}

	result.Status = StatusPass
	if _, lookErr := exec.LookPath(configuredRuntime); info.Name != configuredRuntime && lookErr != nil {
		result.Message = fmt.Sprintf("%s: %s (configured runtime %q not found, using %s as fallback)", info.Name, info.Version, configuredRuntime, info.Name)
	} else {
		result.Message = fmt.Sprintf("%s: %s", info.Name, info.Version)
	}
	return result
}

// CheckAppArmor verifies AppArmor availability and whether the
// aifo-coder profile is loaded. AppArmor is commonly absent on WSL2, so
// that combination is reported as informational rather than a warning.
func CheckAppArmor(hostInfo host.HostInfo) CheckResult {
	result := CheckResult{Name: "AppArmor Profile"}

	if !security.IsAppArmorAvailable() {
		if hostInfo.IsWSL2 {
			result.Status = StatusInfo
			result.Message = "AppArmor is not available (expected on WSL2) -- seccomp and container defaults still apply"
			return result
		}
		result.Status = StatusWarn
		result.Message = "AppArmor is not available on this system"
		result.Remediation = "AppArmor provides an additional isolation layer on the agent container.\n" +
			"  Ubuntu: AppArmor is enabled by default. Check: sudo aa-status"
		return result
	}

	loaded, err := security.IsProfileLoaded("aifo-coder")
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("could not check AppArmor profile status: %v", err)
		return result
	}

	if !loaded {
		result.Status = StatusWarn
		result.Message = "aifo-coder AppArmor profile is not loaded; the agent container will fall back to docker-default"
		result.Remediation = "Load the bundled profile, e.g.:\n" +
			"  sudo apparmor_parser -r -W /etc/apparmor.d/aifo-coder"
		return result
	}

	result.Status = StatusPass
	result.Message = "aifo-coder profile loaded"
	return result
}

// CheckSeccomp reports whether a seccomp profile is present. The agent
// launcher never mandates one -- it leaves seccomp at the runtime
// default -- so a missing profile is a warning, not a failure.
func CheckSeccomp() CheckResult {
	result := CheckResult{Name: "Seccomp Profile"}

	candidates := []string{"/etc/aifo-coder/seccomp.json"}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "configs", "seccomp.json"),
			filepath.Join(filepath.Dir(dir), "configs", "seccomp.json"),
		)
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, "configs", "seccomp.json"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			result.Status = StatusPass
			result.Message = fmt.Sprintf("seccomp profile found: %s", p)
			return result
		}
	}

	result.Status = StatusWarn
	result.Message = "no custom seccomp profile found; the agent container runs with the runtime's default profile"
	result.Remediation = "Install a hardened profile at /etc/aifo-coder/seccomp.json for a stronger syscall filter"
	return result
}

// CheckImages verifies the agent image and every configured sidecar
// image are cached locally.
func CheckImages(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Container Images"}

	info, err := runtime.Detect()
	if err != nil {
		result.Status = StatusWarn
		result.Message = "cannot check images: no container runtime found"
		return result
	}

	type entry struct {
		name string
		ref  string
	}
	entries := []entry{{"agent", cfg.Images.Agent}}
	for _, k := range sidecar.AllKinds {
		entries = append(entries, entry{string(k), cfg.Images.ForKind(k)})
	}

	var missing []string
	for _, e := range entries {
		if e.ref == "" {
			missing = append(missing, e.name+" (unconfigured)")
			continue
		}
		if err := exec.Command(info.Path, "image", "inspect", e.ref).Run(); err != nil {
			missing = append(missing, e.name)
		}
	}

	if len(missing) == 0 {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d images cached locally", len(entries))
		return result
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("%d/%d images not cached locally: %s", len(missing), len(entries), strings.Join(missing, ", "))
	result.Remediation = fmt.Sprintf("Pull the missing images:\n  %s pull <image>", filepath.Base(info.Path))
	return result
}

// CheckPlan assembles the agent launcher's docker run argv without
// executing it, the read-only plan check this core adds over the
// teacher's doctor.
func CheckPlan(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Launch Plan"}

	info, err := runtime.Detect()
	if err != nil {
		result.Status = StatusWarn
		result.Message = "cannot assemble a launch plan: no container runtime found"
		return result
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	args, err := launcher.Build(launcher.Options{
		RuntimePath:   info.Path,
		Image:         cfg.Images.Agent,
		Workspace:     wd,
		SessionID:     "doctor-plan",
		NetworkName:   "aifo-coder-plan",
		AppArmorMode:  "auto",
		ToolExecURL:   "http://127.0.0.1:0",
		ToolExecToken: "plan-token",
		TmpSize:       cfg.Resources.TmpSize,
		VarTmpSize:    cfg.Resources.TmpSize,
		Argv:          []string{"true"},
	})
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("launcher.Build failed: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("assembled %d-argument launch plan for %s", len(args), cfg.Images.Agent)
	return result
}

// CheckDiskSpace verifies sufficient disk space for images, caches, and
// workspaces.
func CheckDiskSpace() CheckResult {
	result := CheckResult{Name: "Disk Space"}

	home, err := config.ResolveHomeDir()
	if err != nil {
		result.Status = StatusWarn
		result.Message = "could not determine home directory"
		return result
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(home, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("could not check disk space: %v", err)
		return result
	}

	freeGB := (uint64(stat.Bavail) * uint64(stat.Bsize)) / (1024 * 1024 * 1024)

	if freeGB < 10 {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("only %d GB free in %s (minimum 10 GB recommended)", freeGB, home)
		result.Remediation = "Free up disk space; images, caches, and workspaces need at least 10 GB."
		return result
	}

	if freeGB < 20 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d GB free in %s (20+ GB recommended)", freeGB, home)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d GB free in %s", freeGB, home)
	return result
}

// CheckWSL2 runs WSL2-specific diagnostics.
func CheckWSL2(hostInfo host.HostInfo) CheckResult {
	result := CheckResult{Name: "WSL2 Environment"}

	parts := strings.Fields(hostInfo.KernelVersion)
	kernelVer := "unknown"
	if len(parts) >= 3 {
		kernelVer = parts[2]
	}

	major, minor := parseKernelVersion(kernelVer)
	if major < 5 || (major == 5 && minor < 15) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("WSL2 kernel %s is older than the recommended 5.15+", kernelVer)
		result.Remediation = "Update WSL2: wsl --update"
		return result
	}

	memGB := getAvailableMemoryGB()
	if memGB > 0 && memGB < 8 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("WSL2 has ~%d GB RAM allocated (8+ GB recommended)", memGB)
		result.Remediation = "Increase WSL2 memory in %USERPROFILE%\\.wslconfig:\n  [wsl2]\n  memory=12GB"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("WSL2 kernel %s, ~%d GB RAM available", kernelVer, memGB)
	return result
}

func parseKernelVersion(ver string) (int, int) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	minorStr := strings.SplitN(parts[1], "-", 2)[0]
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}

func getAvailableMemoryGB() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, _ := strconv.ParseInt(fields[1], 10, 64)
				return int(kb / (1024 * 1024))
			}
		}
	}
	return 0
}

// CheckNFTables verifies that the sidecar-egress nftables rules are
// active on the host, when network gating is enabled.
func CheckNFTables() CheckResult {
	result := CheckResult{Name: "nftables Rules"}

	mgr := network.NewNFTablesManager(network.DefaultNFTablesConfig())
	if !mgr.IsActive() {
		result.Status = StatusFail
		result.Message = "nftables egress table not found"
		result.Remediation = "Apply the sidecar-egress ruleset, e.g.:\n  sudo nft -f /etc/aifo-coder/nftables.conf"
		return result
	}

	if err := mgr.Verify(); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("nftables table exists but verification incomplete: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = "nftables egress rules active"
	return result
}

// CheckSquidProxy verifies that the sidecar-egress proxy is reachable.
func CheckSquidProxy(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Egress Proxy"}

	addr := net.JoinHostPort(cfg.Network.ProxyAddr, strconv.Itoa(cfg.Network.ProxyPort))
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("egress proxy not reachable at %s", addr)
		return result
	}
	conn.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("egress proxy listening at %s", addr)
	return result
}

// CheckCoreDNS verifies that the sidecar-egress DNS resolver is
// reachable.
func CheckCoreDNS(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Egress DNS Resolver"}

	addr := net.JoinHostPort(cfg.Network.DNSAddr, strconv.Itoa(cfg.Network.DNSPort))
	conn, err := net.DialTimeout("udp", addr, 3*time.Second)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("egress DNS resolver not reachable at %s", addr)
		return result
	}
	conn.Close()

	result.Status = StatusPass
	result.Message = fmt.Sprintf("egress DNS resolver listening at %s", addr)
	return result
}

// CheckPolicyFiles verifies that policy files referenced in the config
// exist. A missing org baseline under an unchanged default path with
// network gating disabled is informational -- a minimal single-user
// setup may never configure org policy. Any other missing path is a
// warning.
func CheckPolicyFiles(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Policy Files"}

	const defaultOrgBaseline = "/etc/aifo-coder/org-policy.yaml"

	var missing, found []string

	if cfg.Policy.OrgBaselinePath != "" {
		if _, err := os.Stat(cfg.Policy.OrgBaselinePath); err != nil {
			missing = append(missing, "org baseline: "+cfg.Policy.OrgBaselinePath)
		} else {
			found = append(found, "org baseline")
		}
	}

	if cfg.Policy.TeamPolicyPath != "" {
		if _, err := os.Stat(cfg.Policy.TeamPolicyPath); err != nil {
			missing = append(missing, "team policy: "+cfg.Policy.TeamPolicyPath)
		} else {
			found = append(found, "team policy")
		}
	}

	if len(missing) > 0 && len(found) == 0 {
		minimal := cfg.Policy.OrgBaselinePath == defaultOrgBaseline && !cfg.Network.Enabled
		if minimal {
			result.Status = StatusInfo
		} else {
			result.Status = StatusWarn
		}
		result.Message = fmt.Sprintf("policy files not found: %s", strings.Join(missing, "; "))
		result.Remediation = "Create an org baseline policy at: " + cfg.Policy.OrgBaselinePath
		return result
	}

	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("some policy files missing: %s (found: %s)", strings.Join(missing, "; "), strings.Join(found, ", "))
		return result
	}

	result.Status = StatusPass
	if len(found) > 0 {
		result.Message = fmt.Sprintf("policy files found: %s", strings.Join(found, ", "))
	} else {
		result.Message = "no policy paths configured"
	}
	return result
}

// CheckCredentials verifies the credential broker's mode is usable.
func CheckCredentials(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Credential Broker"}

	mode := cfg.Credentials.Mode
	if mode == "" {
		mode = "fallback"
	}

	switch mode {
	case "fallback":
		result.Status = StatusPass
		result.Message = "credential mode: fallback (OS keychain / encrypted file)"
	case "vault":
		if cfg.Credentials.VaultAddr == "" {
			result.Status = StatusFail
			result.Message = "credential mode: vault, but vault_addr is not configured"
			result.Remediation = "Set credentials.vault_addr in config or AIFO_CREDENTIALS_VAULT_ADDR"
			return result
		}
		result.Status = StatusPass
		result.Message = fmt.Sprintf("credential mode: vault (%s)", cfg.Credentials.VaultAddr)
	default:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unknown credential mode: %s", mode)
		result.Remediation = "Set credentials.mode to \"fallback\" or \"vault\""
	}

	return result
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
