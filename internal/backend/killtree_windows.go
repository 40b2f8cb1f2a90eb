//go:build windows

package backend

import (
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {}

// terminateTree kills the child and its descendants via taskkill, since
// Windows has no process-group signalling.
func terminateTree(cmd *exec.Cmd, forced bool) error {
	if cmd.Process == nil {
		return nil
	}
	args := []string{"/T", "/PID", strconv.Itoa(cmd.Process.Pid)}
	if forced {
		args = append(args, "/F")
	}
	return exec.Command("taskkill", args...).Run()
}
