package launcher

import "strings"

// passthroughNames are host environment variables the agent container
// inherits unchanged, per spec §4.6.
var passthroughNames = map[string]bool{
	"TERM":   true,
	"TZ":     true,
	"VISUAL": true,
	"EDITOR": true,
	"LANG":   true,

	"OPENAI_API_TYPE": true,
}

// BuildEnv filters the host environment down to the passthrough
// allowlist and AIFO_*-prefixed variables, then applies the provider
// abstraction translation and the Aider git-sign override, returning
// "KEY=VALUE" pairs ready for -e flags.
func BuildEnv(hostEnv []string) []string {
	vars := make(map[string]string)
	for _, kv := range hostEnv {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if passthroughNames[key] || strings.HasPrefix(key, "AIFO_") {
			vars[key] = val
		}
	}

	translateProviderVars(vars)
	applyGitSignOverride(vars)

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}

// translateProviderVars implements the AIFO_API_* -> OPENAI_API_* and
// AZURE_OPENAI_* translation spec §4.6 requires.
func translateProviderVars(vars map[string]string) {
	if key, ok := vars["AIFO_API_KEY"]; ok {
		vars["OPENAI_API_KEY"] = key
	}
	if base, ok := vars["AIFO_API_BASE"]; ok {
		vars["OPENAI_API_BASE"] = base
	}
	if version, ok := vars["AIFO_API_VERSION"]; ok {
		vars["OPENAI_API_VERSION"] = version
	}

	if vars["OPENAI_API_TYPE"] == "azure" {
		if key, ok := vars["OPENAI_API_KEY"]; ok {
			vars["AZURE_OPENAI_API_KEY"] = key
		}
		if base, ok := vars["OPENAI_API_BASE"]; ok {
			vars["AZURE_OPENAI_API_BASE"] = base
		}
		if version, ok := vars["OPENAI_API_VERSION"]; ok {
			vars["AZURE_OPENAI_API_VERSION"] = version
		}
	}
}

// applyGitSignOverride implements AIFO_CODER_GIT_SIGN=0's GIT_CONFIG_*
// triplet, which Aider reads to disable commit signing without
// touching the workspace's .git/config.
func applyGitSignOverride(vars map[string]string) {
	if vars["AIFO_CODER_GIT_SIGN"] != "0" {
		return
	}
	vars["GIT_CONFIG_COUNT"] = "1"
	vars["GIT_CONFIG_KEY_0"] = "commit.gpgsign"
	vars["GIT_CONFIG_VALUE_0"] = "false"
}
