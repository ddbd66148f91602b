//go:build windows

package process

import (
	"io/fs"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/windows"
)

var pathExts = []string{".exe", ".bat"}

// suppressCrashDialogsOnce implements the original's one-time
// SetErrorMode(SEM_FAILCRITICALERRORS|SEM_NOGPFAULTERRORBOX|SEM_NOOPENFILEERRORBOX)
// call, which keeps a crashing child from popping a blocking dialog instead
// of just exiting (so we find out immediately rather than at the timeout).
var suppressCrashDialogsOnce sync.Once

const (
	semFailCriticalErrors = 0x0001
	semNoGPFaultErrorBox  = 0x0002
	semNoOpenFileErrorBox = 0x8000
)

func suppressCrashDialogs() {
	suppressCrashDialogsOnce.Do(func() {
		proc := windows.NewLazySystemDLL("kernel32.dll").NewProc("SetErrorMode")
		_, _, _ = proc.Call(uintptr(semFailCriticalErrors | semNoGPFaultErrorBox | semNoOpenFileErrorBox))
	})
}

func isExecutable(fi fs.FileInfo) bool {
	return fi.Mode().IsRegular()
}

// setProcessGroup creates the child in a new process group so that
// CTRL_BREAK_EVENT can later be targeted at it without affecting our own
// console group.
func setProcessGroup(cmd *exec.Cmd) {
	suppressCrashDialogs()
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func groupIDOf(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

// terminateGroup sends CTRL_BREAK_EVENT to the group, the polite half.
func terminateGroup(cmd *exec.Cmd, gid int) {
	if gid <= 0 {
		return
	}
	_ = windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(gid))
}

// killGroup force-terminates the direct child only; other group members
// may leak, as documented in spec.md §4.A.
func killGroup(cmd *exec.Cmd, gid int) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
