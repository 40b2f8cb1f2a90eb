//go:build !windows

package backend

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so that a signal
// to the group reaches every descendant the toolchain spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree signals the child's process group: SIGTERM for a graceful
// stop, SIGKILL when forced. A group that already exited is not an error.
func terminateTree(cmd *exec.Cmd, forced bool) error {
	if cmd.Process == nil {
		return nil
	}
	sig := syscall.SIGTERM
	if forced {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
