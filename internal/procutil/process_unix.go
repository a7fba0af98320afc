//go:build !windows

package procutil

import (
	"os"
	"syscall"
)

// GracefulTerminate asks the process to exit via SIGTERM.
func GracefulTerminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// TerminateByPID sends SIGTERM to the process identified by pid.
func TerminateByPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// IsProcessAlive reports whether pid names a live process, probed with
// signal 0. Used by the daemon to tell a held lock file from a stale one.
func IsProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
