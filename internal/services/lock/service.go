// Package lock provides the file-based mutual exclusion primitive that
// serializes backup-affecting operations across process invocations.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// Service defines the interface for lock operations.
type Service interface {
	Acquire(op models.Operation) (bool, error)
	Release(op models.Operation) error
	CurrentHolder(op models.Operation) (*models.LockRecord, error)
}

// LivenessProbe reports whether a process id belongs to a running process.
type LivenessProbe interface {
	Alive(pid int) bool
}

// DefaultProbe is the default liveness probe using gopsutil.
type DefaultProbe struct{}

// Alive reports whether the pid exists. Errors from the probe count as
// alive so an ambiguous lock is never reclaimed.
func (p *DefaultProbe) Alive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return exists
}

// Impl implements the lock Service interface.
type Impl struct {
	dir    string
	pid    int
	probe  LivenessProbe
	logger zerolog.Logger
}

// New creates a new lock service writing lock files under dir.
func New(logger zerolog.Logger, dir string) *Impl {
	return &Impl{
		dir:    dir,
		pid:    os.Getpid(),
		probe:  &DefaultProbe{},
		logger: logger,
	}
}

// NewWithProbe creates a new lock service with a custom liveness probe
// and owner pid (for testing).
func NewWithProbe(logger zerolog.Logger, dir string, pid int, probe LivenessProbe) *Impl {
	return &Impl{
		dir:    dir,
		pid:    pid,
		probe:  probe,
		logger: logger,
	}
}

func (s *Impl) path(op models.Operation) string {
	return filepath.Join(s.dir, string(op)+".lock")
}

// Acquire attempts to take the lock for the given operation class.
// It returns false when a live process already holds it. Any filesystem
// error is treated as "could not acquire".
func (s *Impl) Acquire(op models.Operation) (bool, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return false, fmt.Errorf("creating lock dir: %w", err)
	}

	// Two passes: the second one runs after a stale lock was reclaimed.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.tryCreate(op)
		if err != nil {
			return false, err
		}
		if ok {
			s.logger.Debug().Str("operation", string(op)).Int("pid", s.pid).Msg("lock acquired")
			return true, nil
		}

		holder, err := s.CurrentHolder(op)
		if err != nil {
			// Unreadable record: never assume it is safe to steal.
			return false, fmt.Errorf("reading lock record: %w", err)
		}
		if holder == nil {
			// Holder released between our create attempt and the read.
			continue
		}

		if s.probe.Alive(holder.PID) {
			s.logger.Warn().
				Str("operation", string(op)).
				Int("holder_pid", holder.PID).
				Time("held_since", holder.StartTime).
				Msg("lock held by live process")
			return false, nil
		}

		s.logger.Warn().
			Str("operation", string(op)).
			Int("holder_pid", holder.PID).
			Msg("removing stale lock")
		if err := os.Remove(s.path(op)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("removing stale lock: %w", err)
		}
	}

	return false, nil
}

// tryCreate writes the lock record with O_EXCL so exactly one process
// wins, in a single write call so a concurrent reader never observes a
// half-written record.
func (s *Impl) tryCreate(op models.Operation) (bool, error) {
	record := models.LockRecord{
		PID:       s.pid,
		StartTime: time.Now(),
		Operation: op,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encoding lock record: %w", err)
	}

	f, err := os.OpenFile(s.path(op), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(s.path(op))
		return false, fmt.Errorf("writing lock record: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(s.path(op))
		return false, fmt.Errorf("closing lock file: %w", err)
	}

	return true, nil
}

// Release removes the lock if this process owns it. A release attempt
// by a non-owner is a warning, never an error that aborts the caller.
func (s *Impl) Release(op models.Operation) error {
	holder, err := s.CurrentHolder(op)
	if err != nil {
		return fmt.Errorf("reading lock record: %w", err)
	}
	if holder == nil {
		s.logger.Warn().Str("operation", string(op)).Msg("release requested but no lock exists")
		return nil
	}
	if holder.PID != s.pid {
		s.logger.Warn().
			Str("operation", string(op)).
			Int("holder_pid", holder.PID).
			Int("caller_pid", s.pid).
			Msg("release requested by non-owner, ignoring")
		return nil
	}

	if err := os.Remove(s.path(op)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}

	s.logger.Debug().Str("operation", string(op)).Msg("lock released")
	return nil
}

// CurrentHolder returns the lock record for the operation, or nil when
// no lock exists.
func (s *Impl) CurrentHolder(op models.Operation) (*models.LockRecord, error) {
	data, err := os.ReadFile(s.path(op))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var record models.LockRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parsing lock record: %w", err)
	}

	return &record, nil
}
