// Package drill runs the timed disaster-recovery exercise: restore a
// backup into a throwaway database, verify it, and measure the result
// against the recovery-time objective.
package drill

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/integrity"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/campuskeep/drbackup/internal/services/validation"
	"github.com/rs/zerolog"
)

const cleanupTimeout = 2 * time.Minute

// Service defines the interface for DR drills.
type Service interface {
	Run(ctx context.Context, file models.BackupFile, opts models.DrillOptions) (*models.DrillResult, error)
}

// Impl implements the drill Service interface.
type Impl struct {
	lockSvc        lock.Service
	db             postgres.Service
	checks         integrity.Service
	rtoTarget      time.Duration
	restoreTimeout time.Duration
	logger         zerolog.Logger
}

// New creates a new drill service. rtoTarget is the configured recovery
// time objective.
func New(logger zerolog.Logger, lockSvc lock.Service, db postgres.Service, checks integrity.Service, rtoTarget time.Duration) *Impl {
	return &Impl{
		lockSvc:        lockSvc,
		db:             db,
		checks:         checks,
		rtoTarget:      rtoTarget,
		restoreTimeout: validation.RestoreTimeout,
		logger:         logger,
	}
}

// Run performs the drill. The ephemeral database is dropped on
// completion unless opts.Keep is set; the lock is always released.
//
//nolint:gocognit // drill workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, file models.BackupFile, opts models.DrillOptions) (*models.DrillResult, error) {
	start := time.Now()

	target := s.rtoTarget
	if opts.RTOTarget > 0 {
		target = opts.RTOTarget
	}
	result := &models.DrillResult{
		File:      file.Path,
		RTOTarget: target,
		Kept:      opts.Keep,
	}

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

	dbName := validation.EphemeralName()
	result.EphemeralDB = dbName

	s.logger.Info().
		Str("file", file.Name).
		Str("database", dbName).
		Dur("rto_target", target).
		Msg("starting DR drill")

	if err := s.db.CreateDatabase(ctx, dbName); err != nil {
		result.Error = fmt.Errorf("creating ephemeral database: %w", err)
		result.TotalDuration = time.Since(start)
		return result, nil
	}
	defer func() {
		if opts.Keep {
			s.logger.Info().Str("database", dbName).Msg("keeping ephemeral database for inspection")
			return
		}
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
		result.PassedRTO = false
		return result, nil
	}

	result.Checks = s.checks.CoreChecks(ctx, dbName)

	refChecks, warnings := s.checks.ReferentialChecks(ctx, dbName)
	result.Checks = append(result.Checks, refChecks...)
	result.Warnings = warnings
	for _, w := range warnings {
		s.logger.Warn().Str("database", dbName).Msg(w)
	}

	result.Passed = integrity.AllPassed(result.Checks)

	// The clock stops when verification finishes; cleanup is not part
	// of the recovery time.
	result.TotalDuration = time.Since(start)
	result.PassedRTO = result.TotalDuration <= target

	s.logger.Info().
		Bool("passed", result.Passed).
		Bool("passed_rto", result.PassedRTO).
		Dur("restore", result.RestoreDuration).
		Dur("total", result.TotalDuration).
		Dur("rto_target", target).
		Msg("DR drill completed")

	return result, nil
}

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
