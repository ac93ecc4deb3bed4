//go:build unix

package launch

import (
	"os/exec"
	"syscall"
)

// detach puts the slave in its own process group so signals aimed at the
// master's group do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
