package mounts

import (
	"fmt"
	"os/user"
)

// Mount describes a single container mount point.
type Mount struct {
	Type        string // "bind", "volume", "tmpfs"
	Source      string // host path (bind) or volume name (volume); empty for tmpfs
	Target      string // container path
	Options     string // mount options
	Description string // human-readable purpose
}

// Layout builds the agent container's mount points: the workspace
// bind mount, its persistent home volume, and ephemeral tmpfs
// mounts, using the naming convention aifo-<username>-<purpose>.
// Sidecar containers use SidecarLayout instead, which omits the home
// volume a toolchain container has no use for.
func Layout(workspacePath, tmpSize, varTmpSize string) ([]Mount, error) {
	prefix, err := volumePrefix()
	if err != nil {
		return nil, fmt.Errorf("determining volume prefix: %w", err)
	}

	base := sharedMounts(workspacePath, tmpSize, varTmpSize)
	home := Mount{
		Type:        "volume",
		Source:      prefix + "-home",
		Target:      "/home/dev",
		Options:     "rw,nosuid,nodev",
		Description: "persistent home",
	}
	return append(base, home), nil
}

// SidecarLayout builds the mount points common to every toolchain
// sidecar: the workspace bind mount and ephemeral tmpfs, matching
// §4.5 step 4's run command. Per-kind cache volumes come from
// CacheVolumesForKind and are appended by the caller.
func SidecarLayout(workspacePath, tmpSize, varTmpSize string) []Mount {
	return sharedMounts(workspacePath, tmpSize, varTmpSize)
}

func sharedMounts(workspacePath, tmpSize, varTmpSize string) []Mount {
	if tmpSize == "" {
		tmpSize = "2g"
	}
	if varTmpSize == "" {
		varTmpSize = "1g"
	}

	return []Mount{
		{
			Type:        "bind",
			Source:      workspacePath,
			Target:      "/workspace",
			Options:     "rw,nosuid,nodev",
			Description: "developer workspace",
		},
		{
			Type:        "tmpfs",
			Target:      "/tmp",
			Options:     fmt.Sprintf("rw,noexec,nosuid,size=%s", tmpSize),
			Description: "ephemeral temp",
		},
		{
			Type:        "tmpfs",
			Target:      "/var/tmp",
			Options:     fmt.Sprintf("rw,noexec,nosuid,size=%s", varTmpSize),
			Description: "ephemeral var temp",
		},
	}
}

// RuntimeArgs converts the mount layout into container runtime CLI arguments
// (for podman/docker).
func RuntimeArgs(mounts []Mount) []string {
	var args []string
	for _, m := range mounts {
		switch m.Type {
		case "bind":
			args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=%s,%s", m.Source, m.Target, m.Options))
		case "volume":
			args = append(args, "--mount", fmt.Sprintf("type=volume,source=%s,target=%s,%s", m.Source, m.Target, m.Options))
		case "tmpfs":
			args = append(args, "--mount", fmt.Sprintf("type=tmpfs,target=%s,tmpfs-mode=1777,%s", m.Target, m.Options))
		}
	}
	return args
}

// volumePrefix returns the naming prefix for aifo-coder volumes:
// aifo-<username>.
func volumePrefix() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return "aifo-" + u.Username, nil
}

// VolumePrefix is exported for use by other packages that need to
// reference aifo-coder volumes by name.
func VolumePrefix() (string, error) {
	return volumePrefix()
}
