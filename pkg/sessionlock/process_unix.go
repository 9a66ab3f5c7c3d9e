//go:build !windows

package sessionlock

import (
	"errors"
	"os"
	"syscall"
)

func isProcessRunning(pid int) (bool, error) {
	// FindProcess always succeeds on Unix; signal 0 probes for existence
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, err
}
