package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/aifo-coder/aifo-coder/internal/sidecar"
)

// ResolveHomeDir returns the home directory of the real (non-root) user.
// When running under sudo, os.UserHomeDir() returns /root, which won't
// contain the user's config. This function checks SUDO_USER and resolves
// the invoking user's home directory instead.
func ResolveHomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err != nil {
			slog.Debug("SUDO_USER lookup failed, falling back", "sudo_user", sudoUser, "error", err)
		} else {
			slog.Debug("resolved home via SUDO_USER", "user", sudoUser, "home", u.HomeDir)
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// Config is the top-level configuration for aifo-coder.
type Config struct {
	ConfigVersion int               `yaml:"config_version" mapstructure:"config_version"`
	Runtime       string            `yaml:"runtime" mapstructure:"runtime"`
	Images        ImagesConfig      `yaml:"images" mapstructure:"images"`
	Resources     ResourceConfig    `yaml:"resources" mapstructure:"resources"`
	Workspace     WorkspaceConfig   `yaml:"workspace" mapstructure:"workspace"`
	Registry      RegistryConfig    `yaml:"registry" mapstructure:"registry"`
	Network       NetworkConfig     `yaml:"network" mapstructure:"network"`
	Policy        PolicyConfig      `yaml:"policy" mapstructure:"policy"`
	Credentials   CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Logging       LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Audit         AuditConfig       `yaml:"audit" mapstructure:"audit"`
	Shell         string            `yaml:"shell" mapstructure:"shell"`
}

// ImagesConfig names the agent image and the per-kind sidecar images,
// all registry-prefixed (spec.md §3's "Image per kind").
type ImagesConfig struct {
	Agent  string `yaml:"agent" mapstructure:"agent"`
	Rust   string `yaml:"rust" mapstructure:"rust"`
	Node   string `yaml:"node" mapstructure:"node"`
	Python string `yaml:"python" mapstructure:"python"`
	Cpp    string `yaml:"cpp" mapstructure:"cpp"`
	Go     string `yaml:"go" mapstructure:"go"`
}

// ForKind returns the configured image reference for a toolchain kind.
func (i ImagesConfig) ForKind(k sidecar.Kind) string {
	switch k {
	case sidecar.Rust:
		return i.Rust
	case sidecar.Node:
		return i.Node
	case sidecar.Python:
		return i.Python
	case sidecar.CppCpp:
		return i.Cpp
	case sidecar.Go:
		return i.Go
	}
	return ""
}

// All returns every configured image (agent plus all sidecar kinds),
// keyed by "agent" and by kind name. Map iteration order is not defined.
func (i ImagesConfig) All() map[string]string {
	out := map[string]string{"agent": i.Agent}
	for _, k := range sidecar.AllKinds {
		out[string(k)] = i.ForKind(k)
	}
	return out
}

// ResourceConfig holds container resource limits.
type ResourceConfig struct {
	CPUs    int    `yaml:"cpus" mapstructure:"cpus"`
	Memory  string `yaml:"memory" mapstructure:"memory"`
	TmpSize string `yaml:"tmp_size" mapstructure:"tmp_size"`
}

// WorkspaceConfig holds workspace mount settings.
type WorkspaceConfig struct {
	DefaultPath string `yaml:"default_path" mapstructure:"default_path"`
	ValidateFS  bool   `yaml:"validate_fs" mapstructure:"validate_fs"`
}

// RegistryConfig holds the container registry images are pulled from.
type RegistryConfig struct {
	URL              string `yaml:"url" mapstructure:"url"`
	VerifySignatures bool   `yaml:"verify_signatures" mapstructure:"verify_signatures"`
}

// NetworkConfig controls sidecar egress gating: when enabled, sidecar
// outbound traffic is routed through the proxy/DNS pair named here
// instead of going straight to the internet (spec.md §3's repurposing
// of the teacher's network-security config to the sidecar, not the
// agent, network path).
type NetworkConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	ProxyAddr      string   `yaml:"proxy_addr" mapstructure:"proxy_addr"`
	ProxyPort      int      `yaml:"proxy_port" mapstructure:"proxy_port"`
	DNSAddr        string   `yaml:"dns_addr" mapstructure:"dns_addr"`
	DNSPort        int      `yaml:"dns_port" mapstructure:"dns_port"`
	AllowedDomains []string `yaml:"allowed_domains" mapstructure:"allowed_domains"`
}

// PolicyConfig holds policy engine settings.
type PolicyConfig struct {
	OrgBaselinePath   string `yaml:"org_baseline_path" mapstructure:"org_baseline_path"`
	TeamPolicyPath    string `yaml:"team_policy_path" mapstructure:"team_policy_path"`
	ProjectPolicyPath string `yaml:"project_policy_path" mapstructure:"project_policy_path"`
	DecisionLogPath   string `yaml:"decision_log_path" mapstructure:"decision_log_path"`
	HotReloadSecs     int    `yaml:"hot_reload_secs" mapstructure:"hot_reload_secs"`
}

// CredentialsConfig holds credential broker settings.
type CredentialsConfig struct {
	Mode      string `yaml:"mode" mapstructure:"mode"` // "fallback" or "vault"
	VaultAddr string `yaml:"vault_addr" mapstructure:"vault_addr"`
}

// LoggingConfig holds logging preferences.
type LoggingConfig struct {
	Format string `yaml:"format" mapstructure:"format"` // text or json
	Level  string `yaml:"level" mapstructure:"level"`
}

// AuditConfig holds decision-audit-log settings (internal/auditlog).
// Trimmed from the teacher's much larger compliance-oriented AuditConfig:
// storage backends, Vector/Falco/recording fields belong to subsystems
// this core doesn't carry (see DESIGN.md).
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	LogPath         string `yaml:"log_path" mapstructure:"log_path"`
	RetentionDays   int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// setDefaults registers sensible default values for open-source / personal use.
func setDefaults(v *viper.Viper) {
	v.SetDefault("config_version", 1)
	v.SetDefault("runtime", "docker")
	v.SetDefault("images.agent", "ghcr.io/aifo-coder/agent:latest")
	v.SetDefault("images.rust", "ghcr.io/aifo-coder/sidecar-rust:latest")
	v.SetDefault("images.node", "ghcr.io/aifo-coder/sidecar-node:latest")
	v.SetDefault("images.python", "ghcr.io/aifo-coder/sidecar-python:latest")
	v.SetDefault("images.cpp", "ghcr.io/aifo-coder/sidecar-cpp:latest")
	v.SetDefault("images.go", "ghcr.io/aifo-coder/sidecar-go:latest")
	v.SetDefault("resources.cpus", 4)
	v.SetDefault("resources.memory", "8g")
	v.SetDefault("resources.tmp_size", "2g")
	v.SetDefault("workspace.default_path", ".")
	v.SetDefault("workspace.validate_fs", true)
	v.SetDefault("registry.url", "ghcr.io/aifo-coder")
	v.SetDefault("registry.verify_signatures", false)
	v.SetDefault("network.enabled", false)
	v.SetDefault("network.proxy_addr", "127.0.0.1")
	v.SetDefault("network.proxy_port", 3128)
	v.SetDefault("network.dns_addr", "127.0.0.1")
	v.SetDefault("network.dns_port", 53)
	v.SetDefault("network.allowed_domains", []string{})
	v.SetDefault("policy.org_baseline_path", "/etc/aifo-coder/org-policy.yaml")
	v.SetDefault("policy.team_policy_path", "")
	v.SetDefault("policy.project_policy_path", ".aifo/policy.yaml")
	v.SetDefault("policy.decision_log_path", "/var/log/aifo-coder/decisions.jsonl")
	v.SetDefault("policy.hot_reload_secs", 0)
	v.SetDefault("credentials.mode", "fallback")
	v.SetDefault("credentials.vault_addr", "")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_path", "/var/log/aifo-coder/audit.jsonl")
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("shell", "bash")
}

// bindEnvVars binds environment variable overrides with the AIFO_ prefix.
// Viper's AutomaticEnv only works for top-level keys by default, so nested
// keys are bound explicitly to their AIFO_ equivalents.
func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"config_version":             "AIFO_CONFIG_VERSION",
		"runtime":                    "AIFO_RUNTIME",
		"images.agent":               "AIFO_IMAGES_AGENT",
		"images.rust":                "AIFO_IMAGES_RUST",
		"images.node":                "AIFO_IMAGES_NODE",
		"images.python":              "AIFO_IMAGES_PYTHON",
		"images.cpp":                 "AIFO_IMAGES_CPP",
		"images.go":                  "AIFO_IMAGES_GO",
		"resources.cpus":             "AIFO_RESOURCES_CPUS",
		"resources.memory":           "AIFO_RESOURCES_MEMORY",
		"resources.tmp_size":         "AIFO_RESOURCES_TMP_SIZE",
		"workspace.default_path":     "AIFO_WORKSPACE_DEFAULT_PATH",
		"workspace.validate_fs":      "AIFO_WORKSPACE_VALIDATE_FS",
		"registry.url":               "AIFO_REGISTRY_URL",
		"registry.verify_signatures": "AIFO_REGISTRY_VERIFY_SIGNATURES",
		"network.enabled":            "AIFO_NETWORK_ENABLED",
		"network.proxy_addr":         "AIFO_NETWORK_PROXY_ADDR",
		"network.proxy_port":         "AIFO_NETWORK_PROXY_PORT",
		"network.dns_addr":           "AIFO_NETWORK_DNS_ADDR",
		"network.dns_port":           "AIFO_NETWORK_DNS_PORT",
		"policy.org_baseline_path":   "AIFO_POLICY_ORG_BASELINE_PATH",
		"policy.team_policy_path":    "AIFO_POLICY_TEAM_POLICY_PATH",
		"policy.project_policy_path": "AIFO_POLICY_PROJECT_POLICY_PATH",
		"policy.decision_log_path":   "AIFO_POLICY_DECISION_LOG_PATH",
		"policy.hot_reload_secs":     "AIFO_POLICY_HOT_RELOAD_SECS",
		"credentials.mode":           "AIFO_CREDENTIALS_MODE",
		"credentials.vault_addr":     "AIFO_CREDENTIALS_VAULT_ADDR",
		"logging.format":             "AIFO_LOGGING_FORMAT",
		"logging.level":              "AIFO_LOGGING_LEVEL",
		"audit.enabled":              "AIFO_AUDIT_ENABLED",
		"audit.log_path":             "AIFO_AUDIT_LOG_PATH",
		"audit.retention_days":       "AIFO_AUDIT_RETENTION_DAYS",
		"shell":                      "AIFO_SHELL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() (string, error) {
	home, err := ResolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "aifo-coder"), nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the aifo-coder configuration from disk, env vars, and
// defaults. If configPath is empty, it looks in
// ~/.config/aifo-coder/config.yaml, overridable via AIFO_CONFIG.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	v.SetEnvPrefix("AIFO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("AIFO_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := ResolveHomeDir()
		if err != nil {
			slog.Warn("could not determine home directory", "error", err)
		} else {
			cfgDir := filepath.Join(home, ".config", "aifo-coder")
			v.AddConfigPath(cfgDir)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if configPath != "" {
				return nil, err
			}
			slog.Debug("no config file found, using defaults", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	result := Validate(&cfg)
	if result.HasWarnings() {
		for _, w := range result.Warnings {
			slog.Warn("config warning", "field", w.Field, "message", w.Message, "value", w.Value)
		}
	}
	if result.HasErrors() {
		return nil, fmt.Errorf("config validation failed:\n%s", result.String())
	}

	return &cfg, nil
}

// WriteDefault creates a default config file at the given path (or the
// default location if path is empty). It does not overwrite an existing file.
func WriteDefault(path string) (string, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	content, err := GetTemplate("minimal")
	if err != nil {
		return "", fmt.Errorf("reading default template: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}

	return path, nil
}
