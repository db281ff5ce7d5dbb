//go:build windows

package proc

import (
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {
	// No process-group setup on Windows; taskkill walks the tree itself.
}

// killTree terminates the process tree rooted at pid via taskkill.
func killTree(pid int) {
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
