//go:build unix

package proc

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in its own process group so the whole
// tree can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends SIGKILL to the process group rooted at pid. Errors are
// ignored: ESRCH means the group is already gone, which is the idempotent
// no-op the callers rely on.
func killTree(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	// If the group signal failed for any other reason, fall back to the
	// process itself.
	_ = syscall.Kill(pid, syscall.SIGKILL)
}
