//go:build !windows

package service

import (
	"os"
	"os/exec"
	"syscall"
)

// detach starts the core in its own session so it survives the invoking
// shell and never receives its terminal's signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

func isExecutable(info os.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
