package config

import (
	"strings"
	"testing"
)

// fullValidConfig returns a Config that passes all validation rules.
func fullValidConfig() *Config {
	return &Config{
		ConfigVersion: 1,
		Runtime:       "docker",
		Images: ImagesConfig{
			Agent:  "ghcr.io/aifo-coder/agent:latest",
			Rust:   "ghcr.io/aifo-coder/sidecar-rust:latest",
			Node:   "ghcr.io/aifo-coder/sidecar-node:latest",
			Python: "ghcr.io/aifo-coder/sidecar-python:latest",
			Cpp:    "ghcr.io/aifo-coder/sidecar-cpp:latest",
			Go:     "ghcr.io/aifo-coder/sidecar-go:latest",
		},
		Resources: ResourceConfig{
			CPUs:    4,
			Memory:  "8g",
			TmpSize: "2g",
		},
		Workspace: WorkspaceConfig{
			DefaultPath: ".",
			ValidateFS:  true,
		},
		Registry: RegistryConfig{
			URL: "ghcr.io/aifo-coder",
		},
		Network: NetworkConfig{
			Enabled:   false,
			ProxyPort: 3128,
			DNSPort:   53,
		},
		Policy: PolicyConfig{
			HotReloadSecs: 0,
		},
		Credentials: CredentialsConfig{
			Mode: "fallback",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
		Shell: "bash",
	}
}

func TestValidateValidConfigPasses(t *testing.T) {
	result := Validate(fullValidConfig())
	if result.HasErrors() {
		t.Errorf("valid config should have no errors, got:\n%s", result.String())
	}
	if result.HasWarnings() {
		t.Errorf("valid config should have no warnings, got:\n%s", result.String())
	}
}

func TestValidateErrorChecks(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		field   string
		wantErr bool
	}{
		{
			name:    "resources.cpus zero",
			modify:  func(c *Config) { c.Resources.CPUs = 0 },
			field:   "resources.cpus",
			wantErr: true,
		},
		{
			name:    "resources.cpus negative",
			modify:  func(c *Config) { c.Resources.CPUs = -1 },
			field:   "resources.cpus",
			wantErr: true,
		},
		{
			name:    "resources.memory empty",
			modify:  func(c *Config) { c.Resources.Memory = "" },
			field:   "resources.memory",
			wantErr: true,
		},
		{
			name:    "resources.memory invalid",
			modify:  func(c *Config) { c.Resources.Memory = "not-a-size" },
			field:   "resources.memory",
			wantErr: true,
		},
		{
			name:    "resources.tmp_size invalid",
			modify:  func(c *Config) { c.Resources.TmpSize = "bad" },
			field:   "resources.tmp_size",
			wantErr: true,
		},
		{
			name:    "logging.format invalid",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			field:   "logging.format",
			wantErr: true,
		},
		{
			name:    "logging.level invalid",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			field:   "logging.level",
			wantErr: true,
		},
		{
			name:    "credentials.mode invalid",
			modify:  func(c *Config) { c.Credentials.Mode = "plaintext" },
			field:   "credentials.mode",
			wantErr: true,
		},
		{
			name:    "shell invalid",
			modify:  func(c *Config) { c.Shell = "fish" },
			field:   "shell",
			wantErr: true,
		},
		{
			name:    "runtime invalid",
			modify:  func(c *Config) { c.Runtime = "containerd" },
			field:   "runtime",
			wantErr: true,
		},
		{
			name:    "network.proxy_port zero",
			modify:  func(c *Config) { c.Network.ProxyPort = 0 },
			field:   "network.proxy_port",
			wantErr: true,
		},
		{
			name:    "network.dns_port too high",
			modify:  func(c *Config) { c.Network.DNSPort = 100000 },
			field:   "network.dns_port",
			wantErr: true,
		},
		// Valid values should not produce errors.
		{
			name:    "valid resources.memory 16g",
			modify:  func(c *Config) { c.Resources.Memory = "16g" },
			field:   "resources.memory",
			wantErr: false,
		},
		{
			name:    "valid logging.format json",
			modify:  func(c *Config) { c.Logging.Format = "json" },
			field:   "logging.format",
			wantErr: false,
		},
		{
			name:    "valid credentials.mode vault with addr",
			modify: func(c *Config) {
				c.Credentials.Mode = "vault"
				c.Credentials.VaultAddr = "https://vault.internal:8200"
			},
			field:   "credentials.mode",
			wantErr: false,
		},
		{
			name:    "valid shell zsh",
			modify:  func(c *Config) { c.Shell = "zsh" },
			field:   "shell",
			wantErr: false,
		},
		{
			name:    "valid runtime podman",
			modify:  func(c *Config) { c.Runtime = "podman" },
			field:   "runtime",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fullValidConfig()
			tt.modify(cfg)
			result := Validate(cfg)

			hasFieldError := false
			for _, e := range result.Errors {
				if e.Field == tt.field {
					hasFieldError = true
					break
				}
			}

			if tt.wantErr && !hasFieldError {
				t.Errorf("expected error for field %q, got none. Result:\n%s", tt.field, result.String())
			}
			if !tt.wantErr && hasFieldError {
				t.Errorf("did not expect error for field %q, got:\n%s", tt.field, result.String())
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{
			name:   "policy.hot_reload_secs negative",
			modify: func(c *Config) { c.Policy.HotReloadSecs = -5 },
			field:  "policy.hot_reload_secs",
		},
		{
			name: "credentials.vault_addr missing in vault mode",
			modify: func(c *Config) {
				c.Credentials.Mode = "vault"
				c.Credentials.VaultAddr = ""
			},
			field: "credentials.vault_addr",
		},
		{
			name:   "audit.retention_days negative",
			modify: func(c *Config) { c.Audit.RetentionDays = -1 },
			field:  "audit.retention_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fullValidConfig()
			tt.modify(cfg)
			result := Validate(cfg)

			hasWarning := false
			for _, w := range result.Warnings {
				if w.Field == tt.field {
					hasWarning = true
					break
				}
			}
			if !hasWarning {
				t.Errorf("expected warning for field %q, got none. Result:\n%s", tt.field, result.String())
			}
		})
	}
}

func TestValidateNoWarningsForHotReload(t *testing.T) {
	for _, secs := range []int{0, 5, 60} {
		cfg := fullValidConfig()
		cfg.Policy.HotReloadSecs = secs
		result := Validate(cfg)
		if result.HasWarnings() {
			t.Errorf("policy.hot_reload_secs=%d should not produce warnings, got:\n%s", secs, result.String())
		}
	}
}

func TestValidationResultString(t *testing.T) {
	r := &ValidationResult{}
	if r.String() != "config validation passed" {
		t.Errorf("empty result String() = %q, want %q", r.String(), "config validation passed")
	}

	r.addError("shell", "fish", "must be bash, zsh, or pwsh")
	r.addWarning("policy.hot_reload_secs", "-5", "should not be negative")

	s := r.String()
	if !strings.Contains(s, "ERROR") {
		t.Error("String() should contain ERROR prefix")
	}
	if !strings.Contains(s, "WARN") {
		t.Error("String() should contain WARN prefix")
	}
	if !strings.Contains(s, "shell") {
		t.Error("String() should mention shell field")
	}
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Field: "shell", Value: "fish", Message: "invalid"}
	s := issue.String()
	if !strings.Contains(s, "shell") || !strings.Contains(s, "fish") {
		t.Errorf("ValidationIssue.String() = %q, should contain field and value", s)
	}

	issue2 := ValidationIssue{Field: "credentials.vault_addr", Message: "should be set"}
	s2 := issue2.String()
	if strings.Contains(s2, "got") {
		t.Errorf("ValidationIssue.String() with empty value should not contain 'got', got %q", s2)
	}
}

func TestValidateMultipleErrorsAndWarnings(t *testing.T) {
	cfg := &Config{
		Runtime: "invalid",
		Shell:   "fish",
		Resources: ResourceConfig{
			CPUs:   0,
			Memory: "",
		},
		Logging: LoggingConfig{
			Format: "xml",
			Level:  "trace",
		},
		Credentials: CredentialsConfig{
			Mode: "plaintext",
		},
		Policy: PolicyConfig{
			HotReloadSecs: -1,
		},
		Network: NetworkConfig{
			ProxyPort: 0,
			DNSPort:   0,
		},
		Audit: AuditConfig{
			RetentionDays: -1,
		},
	}

	result := Validate(cfg)
	if !result.HasErrors() {
		t.Fatal("expected errors for fully invalid config")
	}

	expectedErrors := []string{
		"resources.cpus", "resources.memory", "logging.format", "logging.level",
		"credentials.mode", "shell", "runtime",
		"network.proxy_port", "network.dns_port",
	}
	for _, field := range expectedErrors {
		found := false
		for _, e := range result.Errors {
			if e.Field == field {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected error for field %q, not found in result", field)
		}
	}

	if !result.HasWarnings() {
		t.Error("expected warnings")
	}
}
