//go:build unix

package dispatch

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so a timeout
// kills everything the shell started, not just the shell.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
