//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// setProcAttributes puts the child in its own process group so that
// termination signals reach any grandchildren it spawns.
func setProcAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGraceful sends SIGTERM to the process group and reports that a
// grace period applies before force kill.
func signalGraceful(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	return true
}

func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
