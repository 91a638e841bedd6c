//go:build !windows

package ptyproc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killTree signals the child's process group. pty.Start makes the child a
// session leader, so its PGID equals its PID.
func killTree(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return proc.Kill()
	}
	return nil
}

func exitCodeOf(state *os.ProcessState, err error) int {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return NormalizeExitCode(state.ExitCode())
}

func isPTYClosed(err error) bool {
	return errors.Is(err, syscall.EIO)
}
