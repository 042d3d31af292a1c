// Package validation proves a backup file is restorable by restoring it
// into an ephemeral database and running the integrity battery.
package validation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/integrity"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// RestoreTimeout bounds the restore step; a dump that cannot load
	// within it counts as failed.
	RestoreTimeout = 10 * time.Minute

	// EphemeralPrefix names throwaway databases so a leaked one is
	// recognizable.
	EphemeralPrefix = "restore_test_"

	cleanupTimeout = 2 * time.Minute
)

// Service defines the interface for backup validation.
type Service interface {
	Validate(ctx context.Context, file models.BackupFile) (*models.ValidationResult, error)
}

// Impl implements the validation Service interface.
type Impl struct {
	lockSvc        lock.Service
	db             postgres.Service
	checks         integrity.Service
	logger         zerolog.Logger
	restoreTimeout time.Duration
}

// New creates a new validation service.
func New(logger zerolog.Logger, lockSvc lock.Service, db postgres.Service, checks integrity.Service) *Impl {
	return &Impl{
		lockSvc:        lockSvc,
		db:             db,
		checks:         checks,
		logger:         logger,
		restoreTimeout: RestoreTimeout,
	}
}

// NewWithTimeout creates a validation service with a custom restore
// timeout (for testing).
func NewWithTimeout(logger zerolog.Logger, lockSvc lock.Service, db postgres.Service, checks integrity.Service, timeout time.Duration) *Impl {
	svc := New(logger, lockSvc, db, checks)
	svc.restoreTimeout = timeout
	return svc
}

// EphemeralName returns a unique throwaway database name.
func EphemeralName() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return EphemeralPrefix + suffix
}

// Validate restores the backup into an ephemeral database and runs the
// check battery. The ephemeral database is dropped and the lock
// released no matter how the run ends.
func (s *Impl) Validate(ctx context.Context, file models.BackupFile) (*models.ValidationResult, error) {
	start := time.Now()
	result := &models.ValidationResult{File: file.Path}

	// Fail fast before taking the lock.
	info, err := os.Stat(file.Path)
	if err != nil {
		result.Error = fmt.Errorf("backup file %s does not exist: %w", file.Path, err)
		result.TotalDuration = time.Since(start)
		return result, nil
	}
	if info.Size() == 0 {
		result.Error = fmt.Errorf("backup file %s is empty", file.Path)
		result.TotalDuration = time.Since(start)
		return result, nil
	}

	acquired, err := s.lockSvc.Acquire(models.OpValidation)
	if err != nil {
		return nil, fmt.Errorf("acquiring validation lock: %w", err)
	}
	if !acquired {
		result.Error = fmt.Errorf("validation lock is held by another process")
		result.TotalDuration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := s.lockSvc.Release(models.OpValidation); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release validation lock")
		}
	}()

	dbName := EphemeralName()
	result.EphemeralDB = dbName

	s.logger.Info().Str("file", file.Name).Str("database", dbName).Msg("starting validation")

	if err := s.db.CreateDatabase(ctx, dbName); err != nil {
		result.Error = fmt.Errorf("creating ephemeral database: %w", err)
		result.TotalDuration = time.Since(start)
		return result, nil
	}
	// The drop runs on a fresh context: the caller's may already be
	// expired by the time cleanup runs.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := s.db.DropDatabase(cleanupCtx, dbName); err != nil {
			s.logger.Error().Err(err).Str("database", dbName).Msg("failed to drop ephemeral database")
		}
	}()

	restoreStart := time.Now()
	err = s.restoreWithTimeout(ctx, dbName, file.Path)
	result.RestoreDuration = time.Since(restoreStart)
	if err != nil {
		result.Error = fmt.Errorf("restore failed: %w", err)
		result.TotalDuration = time.Since(start)
		return result, nil
	}

	result.Checks = s.checks.CoreChecks(ctx, dbName)
	result.Passed = integrity.AllPassed(result.Checks)
	result.TotalDuration = time.Since(start)

	s.logger.Info().
		Bool("passed", result.Passed).
		Int("checks", len(result.Checks)).
		Dur("restore", result.RestoreDuration).
		Dur("total", result.TotalDuration).
		Msg("validation completed")

	return result, nil
}

// restoreWithTimeout races the restore against the timeout. On timeout
// the context kills the in-flight client process; it is not awaited
// further.
func (s *Impl) restoreWithTimeout(ctx context.Context, dbName, dumpPath string) error {
	restoreCtx, cancel := context.WithTimeout(ctx, s.restoreTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.db.RestoreDump(restoreCtx, dbName, dumpPath)
	}()

	select {
	case err := <-done:
		return err
	case <-restoreCtx.Done():
		return fmt.Errorf("restore did not finish within %s: %w", s.restoreTimeout, restoreCtx.Err())
	}
}
