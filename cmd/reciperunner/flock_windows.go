//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile and unlockFile mirror flock_unix.go using LockFileEx/UnlockFileEx,
// since flock(2) has no Windows equivalent.
func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol)
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
