//go:build windows

package process

import "os/exec"

func setProcAttributes(cmd *exec.Cmd) {}

// signalGraceful reports false: Windows has no SIGTERM equivalent for
// arbitrary console processes, so termination is immediate with no
// grace window. Call sites must not assume a graceful phase exists.
func signalGraceful(cmd *exec.Cmd) bool {
	return false
}

func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
