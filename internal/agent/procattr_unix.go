//go:build !windows

package agent

import (
	"os/exec"
	"syscall"
)

// setProcAttr places the child in its own process group so a timeout kill
// can take down the whole subtree.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
