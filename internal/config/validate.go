package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// memoryPattern matches common memory size strings like "4g", "512m", "8Gi", "2048".
var memoryPattern = regexp.MustCompile(`(?i)^[1-9]\d*\s*([kmg]i?b?)?$`)

// imagePattern matches a container image reference.
// Simplified: registry/repo:tag or registry/repo@sha256:...
var imagePattern = regexp.MustCompile(`^[a-zA-Z0-9][\w.\-/]*[a-zA-Z0-9](:[a-zA-Z0-9][\w.\-]*)?(@sha256:[a-f0-9]{64})?$`)

// Validate checks the configuration for invalid values and returns a
// descriptive error if any field is incorrect.
func (c *Config) Validate() error {
	var errs []string

	switch c.Runtime {
	case "docker", "podman":
		// ok
	default:
		errs = append(errs, fmt.Sprintf("invalid runtime %q: must be \"docker\" or \"podman\"", c.Runtime))
	}

	for name, ref := range c.Images.All() {
		if ref == "" {
			errs = append(errs, fmt.Sprintf("images.%s must not be empty", name))
		} else if !imagePattern.MatchString(ref) {
			errs = append(errs, fmt.Sprintf("invalid images.%s reference %q", name, ref))
		}
	}

	if c.Resources.CPUs < 1 {
		errs = append(errs, fmt.Sprintf("resources.cpus must be >= 1, got %d", c.Resources.CPUs))
	}

	if c.Resources.Memory == "" {
		errs = append(errs, "resources.memory must not be empty")
	} else if !isValidMemorySize(c.Resources.Memory) {
		errs = append(errs, fmt.Sprintf("invalid resources.memory %q: use format like \"4g\", \"8Gi\", or \"2048\"", c.Resources.Memory))
	}

	if c.Resources.TmpSize != "" && !isValidMemorySize(c.Resources.TmpSize) {
		errs = append(errs, fmt.Sprintf("invalid resources.tmp_size %q: use format like \"2g\" or \"1024m\"", c.Resources.TmpSize))
	}

	if c.Registry.URL == "" {
		errs = append(errs, "registry.url must not be empty")
	}

	switch c.Logging.Format {
	case "text", "json":
		// ok
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.format %q: must be \"text\" or \"json\"", c.Logging.Format))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		// ok
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.level %q: must be debug, info, warn, or error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return nil
}

// isValidMemorySize checks whether s looks like a valid memory size.
func isValidMemorySize(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return true
	}
	return memoryPattern.MatchString(s)
}
