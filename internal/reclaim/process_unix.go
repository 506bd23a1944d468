//go:build !windows

package reclaim

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// processAlive checks if a process with the given PID is still running
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// GroupAlive reports whether any process remains in process group pgid.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func signalTarget(pid int, group bool, sig unix.Signal) error {
	if group {
		pid = -pid
	}
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Terminate stops pid (or its whole process group when group is set): SIGTERM,
// wait up to grace, then SIGKILL. forced reports whether SIGKILL was sent.
func Terminate(pid int, group bool, grace time.Duration) (forced bool, err error) {
	if pid <= 0 {
		return false, nil
	}

	alive := func() bool {
		if group {
			return GroupAlive(pid)
		}
		return processAlive(pid)
	}

	if err := signalTarget(pid, group, unix.SIGTERM); err != nil {
		return false, err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !alive() {
			return false, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !alive() {
		return false, nil
	}

	if err := signalTarget(pid, group, unix.SIGKILL); err != nil {
		return true, err
	}
	return true, nil
}

// KillGroup sends SIGKILL to every process in group pgid.
func KillGroup(pgid int) error {
	if pgid <= 0 {
		return nil
	}
	return signalTarget(pgid, true, unix.SIGKILL)
}
