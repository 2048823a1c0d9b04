package mounts

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CacheVolume describes a build cache named volume.
type CacheVolume struct {
	VolumeName    string
	ContainerPath string
	Description   string
}

// CacheVolumes returns the full catalog of per-toolchain build cache
// volumes for a given prefix, across every sidecar kind. Used by
// RemoveCacheVolumes, which operates over the whole set rather than
// one session's subset.
func CacheVolumes(prefix string) []CacheVolume {
	var all []CacheVolume
	for _, kind := range []string{"rust", "node", "python", "go", "cpp"} {
		all = append(all, cacheVolumesForKindName(prefix, kind)...)
	}
	return all
}

// CacheVolumesForKind returns the named volumes and their sidecar
// mount points for one toolchain kind, matching the env vars
// internal/router's EnvAdditions points at those same paths.
func CacheVolumesForKind(prefix string, kind string) []CacheVolume {
	return cacheVolumesForKindName(prefix, kind)
}

func cacheVolumesForKindName(prefix, kind string) []CacheVolume {
	switch kind {
	case "rust":
		return []CacheVolume{
			{VolumeName: prefix + "-cargo-cache", ContainerPath: "/var/cache/aifo/cargo", Description: "Cargo registry cache"},
			{VolumeName: prefix + "-rustup-cache", ContainerPath: "/var/cache/aifo/rustup", Description: "rustup toolchains"},
			{VolumeName: prefix + "-sccache", ContainerPath: "/var/cache/aifo/sccache", Description: "sccache compilation cache"},
		}
	case "node":
		return []CacheVolume{
			{VolumeName: prefix + "-npm-cache", ContainerPath: "/var/cache/aifo/npm", Description: "npm cache"},
			{VolumeName: prefix + "-yarn-cache", ContainerPath: "/var/cache/aifo/yarn", Description: "Yarn cache"},
			{VolumeName: prefix + "-pnpm-store", ContainerPath: "/var/cache/aifo/pnpm", Description: "pnpm content-addressable store"},
		}
	case "python":
		return []CacheVolume{
			{VolumeName: prefix + "-pip-cache", ContainerPath: "/var/cache/aifo/pip", Description: "pip wheel cache"},
			{VolumeName: prefix + "-uv-cache", ContainerPath: "/var/cache/aifo/uv", Description: "uv package cache"},
		}
	case "go":
		return []CacheVolume{
			{VolumeName: prefix + "-gopath", ContainerPath: "/var/cache/aifo/gopath", Description: "GOPATH"},
			{VolumeName: prefix + "-gomodcache", ContainerPath: "/var/cache/aifo/gomodcache", Description: "Go module cache"},
			{VolumeName: prefix + "-gocache", ContainerPath: "/var/cache/aifo/gocache", Description: "Go build cache"},
		}
	case "cpp":
		return []CacheVolume{
			{VolumeName: prefix + "-ccache", ContainerPath: "/var/cache/aifo/ccache", Description: "ccache compilation cache"},
		}
	default:
		return nil
	}
}

// EnsureVolumes creates any missing named volumes using the container runtime.
func EnsureVolumes(rtPath string, mounts []Mount) error {
	for _, m := range mounts {
		if m.Type != "volume" {
			continue
		}
		if volumeExists(rtPath, m.Source) {
			slog.Debug("volume already exists", "name", m.Source)
			continue
		}
		slog.Info("creating volume", "name", m.Source)
		out, err := exec.Command(rtPath, "volume", "create", m.Source).CombinedOutput()
		if err != nil {
			return fmt.Errorf("creating volume %s: %w\n%s", m.Source, err, string(out))
		}
	}
	return nil
}

// ListVolumes returns the names of all volumes that start with prefix.
func ListVolumes(rtPath, prefix string) ([]string, error) {
	out, err := exec.Command(rtPath, "volume", "ls", "--format", "{{.Name}}").Output()
	if err != nil {
		return nil, fmt.Errorf("listing volumes: %w", err)
	}

	var result []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		name := strings.TrimSpace(line)
		if name != "" && strings.HasPrefix(name, prefix) {
			result = append(result, name)
		}
	}
	return result, nil
}

// RemoveCacheVolumes removes all build cache volumes for the given prefix.
// The home volume is not removed.
func RemoveCacheVolumes(rtPath, prefix string) error {
	for _, cv := range CacheVolumes(prefix) {
		if !volumeExists(rtPath, cv.VolumeName) {
			continue
		}
		slog.Info("removing cache volume", "name", cv.VolumeName)
		out, err := exec.Command(rtPath, "volume", "rm", cv.VolumeName).CombinedOutput()
		if err != nil {
			return fmt.Errorf("removing volume %s: %w\n%s", cv.VolumeName, err, string(out))
		}
	}
	return nil
}

func volumeExists(rtPath, name string) bool {
	err := exec.Command(rtPath, "volume", "inspect", name).Run()
	return err == nil
}
