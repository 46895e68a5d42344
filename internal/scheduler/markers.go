package scheduler

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"docsync/internal/config"

	"github.com/gofrs/flock"
)

var ErrAlreadyRunning = errors.New("synchronization process already running")

// Markers manages the files a synchronization process leaves in the
// configuration directory: a lock held while running, the pid of the owner
// and stop requests addressed to that pid.
type Markers struct {
	cfg  *config.Config
	lock *flock.Flock
}

func NewMarkers(cfg *config.Config) *Markers {
	return &Markers{cfg: cfg, lock: flock.New(cfg.LockFile())}
}

// Acquire takes the single-instance lock and records pid.
func (m *Markers) Acquire(pid int) error {
	locked, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		if owner, _ := m.readPid(); owner != 0 {
			return fmt.Errorf("%w (pid=%d)", ErrAlreadyRunning, owner)
		}
		return ErrAlreadyRunning
	}

	// a stop request left over from a crashed process with the same pid
	_ = os.Remove(m.cfg.StopMarker(pid))

	if err := os.WriteFile(m.cfg.PidFile(), []byte(strconv.Itoa(pid)), 0644); err != nil {
		_ = m.lock.Unlock()
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func (m *Markers) Release(pid int) error {
	_ = os.Remove(m.cfg.StopMarker(pid))
	if err := os.Remove(m.cfg.PidFile()); err != nil && !os.IsNotExist(err) {
		_ = m.lock.Unlock()
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return m.lock.Unlock()
}

// TryHold takes the lock for a change made while no loop runs. ok is false
// when a loop holds it.
func (m *Markers) TryHold() (release func(), ok bool, err error) {
	l := flock.New(m.cfg.LockFile())
	locked, err := l.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}
	return func() { _ = l.Unlock() }, true, nil
}

// RunningPid returns the pid of the live synchronization process, or 0. A pid
// file without a held lock is stale.
func (m *Markers) RunningPid() (int, error) {
	pid, err := m.readPid()
	if err != nil || pid == 0 {
		return 0, err
	}

	held := flock.New(m.cfg.LockFile())
	locked, err := held.TryLock()
	if err != nil {
		return 0, fmt.Errorf("failed to check sync lock: %w", err)
	}
	if locked {
		_ = held.Unlock()
		return 0, nil
	}
	return pid, nil
}

func (m *Markers) readPid() (int, error) {
	data, err := os.ReadFile(m.cfg.PidFile())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", m.cfg.PidFile(), err)
	}
	return pid, nil
}

// RequestStop asks the process with pid to stop after its current pass.
func (m *Markers) RequestStop(pid int) error {
	f, err := os.Create(m.cfg.StopMarker(pid))
	if err != nil {
		return fmt.Errorf("failed to create stop marker: %w", err)
	}
	return f.Close()
}

// StopRequested reports and consumes a stop request for pid.
func (m *Markers) StopRequested(pid int) (bool, error) {
	err := os.Remove(m.cfg.StopMarker(pid))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to consume stop marker: %w", err)
	}
}
