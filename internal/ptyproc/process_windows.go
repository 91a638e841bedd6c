//go:build windows

package ptyproc

import (
	"errors"
	"os"
	"os/exec"
)

func killTree(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
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
	return NormalizeExitCode(state.ExitCode())
}

func isPTYClosed(err error) bool {
	return false
}
