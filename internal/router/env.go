package router

import "github.com/aifo-coder/aifo-coder/internal/sidecar"

// volumeMount describes one named volume a kind's environment
// additions point into. Path is the mountpoint inside the sidecar;
// the session manager is responsible for actually mounting the
// volume there (see internal/mounts), router only emits the env var
// pointing at it.
const (
	cargoHomePath   = "/var/cache/aifo/cargo"
	rustupHomePath  = "/var/cache/aifo/rustup"
	sccacheDirPath  = "/var/cache/aifo/sccache"
	cargoTargetPath = "/var/tmp/aifo-target"

	npmCacheDirPath   = "/var/cache/aifo/npm"
	yarnCacheDirPath  = "/var/cache/aifo/yarn"
	pnpmStoreDirPath  = "/var/cache/aifo/pnpm"

	pipCacheDirPath = "/var/cache/aifo/pip"
	uvCacheDirPath  = "/var/cache/aifo/uv"

	goPathPath    = "/var/cache/aifo/gopath"
	goModCacheDir = "/var/cache/aifo/gomodcache"
	goCacheDir    = "/var/cache/aifo/gocache"

	ccacheDirPath = "/var/cache/aifo/ccache"
)

// EnvAdditions returns the per-kind environment variables §4.4
// requires the router attach to a routed command, pointing each
// toolchain's cache/state directories at the named volumes the
// session manager mounted for this kind.
func EnvAdditions(kind sidecar.Kind) map[string]string {
	switch kind {
	case sidecar.Rust:
		return map[string]string{
			"CARGO_HOME":       cargoHomePath,
			"RUSTUP_HOME":      rustupHomePath,
			"SCCACHE_DIR":      sccacheDirPath,
			"CARGO_TARGET_DIR": cargoTargetPath,
		}
	case sidecar.Node:
		return map[string]string{
			"NPM_CONFIG_CACHE": npmCacheDirPath,
			"YARN_CACHE_FOLDER": yarnCacheDirPath,
			"PNPM_STORE_DIR":   pnpmStoreDirPath,
		}
	case sidecar.Python:
		return map[string]string{
			"PIP_CACHE_DIR": pipCacheDirPath,
			"UV_CACHE_DIR":  uvCacheDirPath,
		}
	case sidecar.Go:
		return map[string]string{
			"GOPATH":     goPathPath,
			"GOMODCACHE": goModCacheDir,
			"GOCACHE":    goCacheDir,
		}
	case sidecar.CppCpp:
		return map[string]string{
			"CCACHE_DIR": ccacheDirPath,
		}
	default:
		return nil
	}
}
