//go:build unix

package proxy

import "syscall"

// setpgidAttr starts the routed command in its own process group so
// terminate can signal the whole group (docker exec plus whatever
// the tool itself forked) rather than only the direct child.
func setpgidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}
