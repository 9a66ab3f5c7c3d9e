package sessionlock

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
)

const DefaultAppName = "hsu-pilot"

// ServiceContext selects the OS directory used for the lock file
type ServiceContext string

const (
	// SystemService runs from a system timer or init script
	SystemService ServiceContext = "system"

	// UserService runs from a user crontab or shell
	UserService ServiceContext = "user"
)

// Config holds the lock file location
type Config struct {
	// Path of the lock file. If empty, an OS-appropriate default is used
	Path string

	ServiceContext ServiceContext
}

// Lock is a PID file that marks a running startup or shutdown session
type Lock struct {
	path   string
	pid    int
	logger logging.Logger
}

// DefaultPath returns the lock file path for the given context
func DefaultPath(context ServiceContext) string {
	var baseDir string
	switch context {
	case SystemService:
		baseDir = systemDirectory()
	default:
		baseDir = userDirectory()
	}
	return filepath.Join(baseDir, DefaultAppName+".pid")
}

func systemDirectory() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return filepath.Join(programData, DefaultAppName)
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return os.TempDir()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support", DefaultAppName)
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

// Acquire creates the lock file with the current PID. A lock left behind by a
// process that no longer runs is replaced; a live one is an error.
func Acquire(config Config, logger logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	path := config.Path
	if path == "" {
		path = DefaultPath(config.ServiceContext)
	}

	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	pid := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		err := writeExclusive(path, pid)
		if err == nil {
			logger.Debugf("Session lock acquired, pid: %d, path: %s", pid, path)
			return &Lock{path: path, pid: pid, logger: logger}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.NewIOError("failed to create lock file", err).WithContext("path", path)
		}

		holder, running := readHolder(path)
		if running {
			return nil, errors.NewValidationError(
				fmt.Sprintf("another session is running, pid: %d", holder), nil,
			).WithContext("path", path)
		}

		logger.Warnf("Removing stale session lock, pid: %d, path: %s", holder, path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.NewIOError("failed to remove stale lock file", err).WithContext("path", path)
		}
	}
	return nil, errors.NewIOError("failed to acquire session lock", nil).WithContext("path", path)
}

func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file if it still belongs to this process
func (l *Lock) Release() error {
	holder, _ := readHolder(l.path)
	if holder != l.pid {
		l.logger.Warnf("Session lock taken over, pid: %d, path: %s", holder, l.path)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove lock file", err).WithContext("path", l.path)
	}
	l.logger.Debugf("Session lock released, path: %s", l.path)
	return nil
}

func ensureDirectory(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access lock directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("failed to create lock directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("lock path parent is not a directory", nil).WithContext("path", dir)
	}
	return nil
}

func writeExclusive(path string, pid int) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, writeErr := fmt.Fprintf(file, "%d\n", pid)
	closeErr := file.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// readHolder returns the PID stored in the lock file and whether it still runs.
// Unreadable or malformed files count as stale.
func readHolder(path string) (int, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	running, err := isProcessRunning(pid)
	if err != nil {
		return pid, false
	}
	return pid, running
}
