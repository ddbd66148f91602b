//go:build !windows

package process

import (
	"io/fs"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var pathExts = []string{""}

func isExecutable(fi fs.FileInfo) bool {
	return fi.Mode().IsRegular() && fi.Mode()&0o111 != 0
}

// setProcessGroup makes the child the leader of a new process group
// (setpgid(0,0) in the child before exec), mirroring
// EXTRA_KWARGS = {'preexec_fn': lambda: os.setpgid(0, 0)} in the original.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func groupIDOf(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		// The process may have already exited; that's fine, we simply
		// won't have a group id to signal later.
		return 0
	}
	return pgid
}

// terminateGroup sends SIGTERM to the whole process group, the polite half
// of spec.md §4.A's graceful termination.
func terminateGroup(cmd *exec.Cmd, gid int) {
	signalGroup(cmd, gid, syscall.SIGTERM)
}

// killGroup sends SIGKILL to the whole process group, the forceful half.
func killGroup(cmd *exec.Cmd, gid int) {
	signalGroup(cmd, gid, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, gid int, sig syscall.Signal) {
	if gid > 0 {
		_ = unix.Kill(-gid, sig)
		return
	}
	if cmd.Process != nil {
		_ = cmd.Process.Signal(sig)
	}
}
