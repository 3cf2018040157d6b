package flasher

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// DefaultLockDir is where device locks live. Lock files survive a crash
// on disk (they are path-scoped, not held in memory), so stale locks
// from dead processes are detected and reclaimed.
const DefaultLockDir = "/run/usbfreedom"

// LockHeldError means another flash operation currently owns the device.
type LockHeldError struct {
	Device      string
	OperationID string
	PID         int
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("device %s is locked by operation %s (pid %d)", e.Device, e.OperationID, e.PID)
}

// LockManager hands out advisory, device-path-keyed locks so at most one
// flash operation targets a given device at a time.
type LockManager struct {
	Dir string
}

// Lock is one held device lock.
type Lock struct {
	path string
}

func lockFileName(devicePath string) string {
	name := strings.ReplaceAll(strings.TrimPrefix(devicePath, "/"), "/", "-")
	return name + ".lock"
}

// Acquire takes the lock for a device. A lock left behind by a dead
// process is reclaimed; a lock held by a live process fails with
// LockHeldError.
func (m *LockManager) Acquire(devicePath, operationID string) (*Lock, error) {
	dir := m.Dir
	if dir == "" {
		dir = DefaultLockDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	path := filepath.Join(dir, lockFileName(devicePath))
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%s %d\n", operationID, os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, werr
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		holderOp, holderPID, perr := readLock(path)
		if perr != nil {
			// unreadable or half-written lock file, treat as stale
			logrus.WithField("lock", path).Warnf("removing unreadable lock file: %v", perr)
			os.Remove(path)
			continue
		}
		if processAlive(holderPID) {
			return nil, &LockHeldError{Device: devicePath, OperationID: holderOp, PID: holderPID}
		}
		logrus.WithField("lock", path).Infof("reclaiming stale lock from dead pid %d", holderPID)
		os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire lock for %s", devicePath)
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}

func readLock(path string) (operationID string, pid int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("malformed lock content %q", string(data))
	}
	pid, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("malformed lock pid: %w", err)
	}
	return fields[0], pid, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// signal 0 probes for existence without sending anything
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
