//go:build windows

package reclaim

import (
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// processAlive checks if a process with the given PID is still running
func processAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}

	// STILL_ACTIVE means the process is still running
	return exitCode == 259
}

// GroupAlive reports whether the group leader is running. Windows has no
// POSIX process groups.
func GroupAlive(pgid int) bool {
	return pgid > 0 && processAlive(pgid)
}

// Terminate kills pid. Windows has no graceful termination signal for
// console processes, so it goes straight to the forced kill.
func Terminate(pid int, group bool, grace time.Duration) (forced bool, err error) {
	if pid <= 0 || !processAlive(pid) {
		return false, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	return true, proc.Kill()
}

// KillGroup kills the group leader.
func KillGroup(pgid int) error {
	_, err := Terminate(pgid, true, 0)
	return err
}
