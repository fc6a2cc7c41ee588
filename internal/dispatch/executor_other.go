//go:build !unix

package dispatch

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
