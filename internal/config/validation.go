package config

import (
	"fmt"
	"strings"
)

// ValidationIssue describes a single validation problem.
type ValidationIssue struct {
	Field   string // dotted config path, e.g. "resources.cpus"
	Value   string // the invalid value as a string
	Message string // human-readable description
}

func (i ValidationIssue) String() string {
	if i.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", i.Field, i.Message, i.Value)
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationResult collects errors and warnings from config validation.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a formatted summary of all errors and warnings.
func (r *ValidationResult) String() string {
	if !r.HasErrors() && !r.HasWarnings() {
		return "config validation passed"
	}

	var b strings.Builder
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "ERROR  %s\n", e.String())
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "WARN   %s\n", w.String())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *ValidationResult) addError(field, value, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Value: value, Message: message})
}

func (r *ValidationResult) addWarning(field, value, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Value: value, Message: message})
}

// Validate checks cfg against all known rules and returns a ValidationResult.
// Structurally invalid settings are errors (fatal at load); malformed-but-
// recoverable settings are warnings that fall back to the default.
func Validate(cfg *Config) *ValidationResult {
	r := &ValidationResult{}

	// --- ERROR checks ---

	if cfg.Resources.CPUs <= 0 {
		r.addError("resources.cpus", fmt.Sprintf("%d", cfg.Resources.CPUs), "must be greater than 0")
	}

	if cfg.Resources.Memory == "" {
		r.addError("resources.memory", "", "must not be empty")
	} else if !isValidMemorySize(cfg.Resources.Memory) {
		r.addError("resources.memory", cfg.Resources.Memory, "must be a valid size (e.g. \"8g\", \"16384m\")")
	}

	if cfg.Resources.TmpSize != "" && !isValidMemorySize(cfg.Resources.TmpSize) {
		r.addError("resources.tmp_size", cfg.Resources.TmpSize, "must be a valid size (e.g. \"2g\", \"1024m\")")
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		r.addError("logging.format", cfg.Logging.Format, "must be \"text\" or \"json\"")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		r.addError("logging.level", cfg.Logging.Level, "must be \"debug\", \"info\", \"warn\", or \"error\"")
	}

	switch cfg.Credentials.Mode {
	case "fallback", "vault", "":
	default:
		r.addError("credentials.mode", cfg.Credentials.Mode, "must be \"fallback\" or \"vault\"")
	}

	switch cfg.Shell {
	case "bash", "zsh", "pwsh":
	default:
		r.addError("shell", cfg.Shell, "must be \"bash\", \"zsh\", or \"pwsh\"")
	}

	switch cfg.Runtime {
	case "docker", "podman":
	default:
		r.addError("runtime", cfg.Runtime, "must be \"docker\" or \"podman\"")
	}

	if cfg.Network.ProxyPort < 1 || cfg.Network.ProxyPort > 65535 {
		r.addError("network.proxy_port", fmt.Sprintf("%d", cfg.Network.ProxyPort), "must be between 1 and 65535")
	}

	if cfg.Network.DNSPort < 1 || cfg.Network.DNSPort > 65535 {
		r.addError("network.dns_port", fmt.Sprintf("%d", cfg.Network.DNSPort), "must be between 1 and 65535")
	}

	// --- WARNING checks ---

	if cfg.Policy.HotReloadSecs < 0 {
		r.addWarning("policy.hot_reload_secs", fmt.Sprintf("%d", cfg.Policy.HotReloadSecs), "should not be negative, disabling hot reload")
		cfg.Policy.HotReloadSecs = 0
	}

	if cfg.Credentials.Mode == "vault" && cfg.Credentials.VaultAddr == "" {
		r.addWarning("credentials.vault_addr", "", "should be set when credentials.mode is \"vault\"")
	}

	if cfg.Audit.RetentionDays < 0 {
		r.addWarning("audit.retention_days", fmt.Sprintf("%d", cfg.Audit.RetentionDays), "should not be negative, falling back to default")
		cfg.Audit.RetentionDays = 90
	}

	return r
}
