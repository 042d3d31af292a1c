// Package restore performs guarded restores into named databases. The
// default mode is a dry run; every mutation sits behind explicit flags.
package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/integrity"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/rs/zerolog"
)

// Safety gate failures. Each one is named so callers can report exactly
// which gate refused the restore.
var (
	ErrReplicaTarget     = errors.New("target server is a read replica and can never be a restore target")
	ErrProductionGuard   = errors.New("environment is production; pass --allow-production to proceed")
	ErrDropRequiresForce = errors.New("dropping an existing database requires both --drop and --force")
	ErrNotConfirmed      = errors.New("restore was not confirmed")
	ErrLockBusy          = errors.New("restore lock is held by another process")
)

// Service defines the interface for restore orchestration.
type Service interface {
	Restore(ctx context.Context, opts models.RestoreOptions) (*models.RestoreResult, error)
}

// Impl implements the restore Service interface.
type Impl struct {
	lockSvc     lock.Service
	db          postgres.Service
	checks      integrity.Service
	environment string
	confirmIn   io.Reader
	confirmOut  io.Writer
	logger      zerolog.Logger
}

// New creates a new restore service. environment is the runtime
// environment name used by the production guard.
func New(logger zerolog.Logger, lockSvc lock.Service, db postgres.Service, checks integrity.Service, environment string) *Impl {
	return &Impl{
		lockSvc:     lockSvc,
		db:          db,
		checks:      checks,
		environment: environment,
		confirmIn:   os.Stdin,
		confirmOut:  os.Stdout,
		logger:      logger,
	}
}

// NewWithConfirm creates a restore service with custom confirmation
// streams (for testing).
func NewWithConfirm(logger zerolog.Logger, lockSvc lock.Service, db postgres.Service, checks integrity.Service, environment string, in io.Reader, out io.Writer) *Impl {
	svc := New(logger, lockSvc, db, checks, environment)
	svc.confirmIn = in
	svc.confirmOut = out
	return svc
}

// Restore runs the orchestration. Without opts.Execute it reports what
// would happen and mutates nothing; it does not even take the lock.
//
//nolint:gocognit,gocyclo // restore workflow has multiple gates by design
func (s *Impl) Restore(ctx context.Context, opts models.RestoreOptions) (*models.RestoreResult, error) {
	start := time.Now()
	result := &models.RestoreResult{
		DryRun:   !opts.Execute,
		TargetDB: opts.TargetDB,
	}

	if opts.TargetDB == "" {
		result.Error = fmt.Errorf("target database is required")
		result.Duration = time.Since(start)
		return result, nil
	}

	info, err := os.Stat(opts.File)
	if err != nil {
		result.Error = fmt.Errorf("backup file %s does not exist: %w", opts.File, err)
		result.Duration = time.Since(start)
		return result, nil
	}
	if info.Size() == 0 {
		result.Error = fmt.Errorf("backup file %s is empty", opts.File)
		result.Duration = time.Since(start)
		return result, nil
	}

	if result.DryRun {
		s.logger.Info().
			Str("file", opts.File).
			Str("target", opts.TargetDB).
			Bool("drop", opts.Drop).
			Bool("create", opts.Create).
			Msg("dry run: would restore (pass --execute to apply)")
		result.Passed = true
		result.Duration = time.Since(start)
		return result, nil
	}

	// Safety gates, each with its own named failure.
	replica, err := s.db.IsReplica(ctx)
	if err != nil {
		result.Error = fmt.Errorf("replica probe failed: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	if replica {
		result.Error = ErrReplicaTarget
		result.Duration = time.Since(start)
		return result, nil
	}

	if strings.EqualFold(s.environment, "production") && !opts.AllowProduction {
		result.Error = ErrProductionGuard
		result.Duration = time.Since(start)
		return result, nil
	}

	if opts.Drop && !opts.Force {
		result.Error = ErrDropRequiresForce
		result.Duration = time.Since(start)
		return result, nil
	}

	if !opts.NonInteractive {
		if !s.confirm(opts) {
			result.Error = ErrNotConfirmed
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	acquired, err := s.lockSvc.Acquire(models.OpRestore)
	if err != nil {
		return nil, fmt.Errorf("acquiring restore lock: %w", err)
	}
	if !acquired {
		result.Error = ErrLockBusy
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := s.lockSvc.Release(models.OpRestore); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release restore lock")
		}
	}()

	if opts.Drop {
		if err := s.db.TerminateConnections(ctx, opts.TargetDB); err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			return result, nil
		}
		if err := s.db.DropDatabase(ctx, opts.TargetDB); err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			return result, nil
		}
		result.Dropped = true

		if opts.Create {
			if err := s.db.CreateDatabase(ctx, opts.TargetDB); err != nil {
				result.Error = err
				result.Duration = time.Since(start)
				return result, nil
			}
			result.Created = true
		}
	}

	if err := s.db.RestoreDump(ctx, opts.TargetDB, opts.File); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Restored = true

	if opts.SkipVerify {
		result.Passed = true
	} else {
		result.Checks = s.checks.CoreChecks(ctx, opts.TargetDB)
		result.Passed = integrity.AllPassed(result.Checks)
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("target", opts.TargetDB).
		Bool("passed", result.Passed).
		Dur("duration", result.Duration).
		Msg("restore completed")

	return result, nil
}

// confirm asks for a typed "yes" before any destructive path runs.
func (s *Impl) confirm(opts models.RestoreOptions) bool {
	fmt.Fprintf(s.confirmOut, "About to restore %s into %q", opts.File, opts.TargetDB)
	if opts.Drop {
		fmt.Fprintf(s.confirmOut, ", DROPPING the existing database first")
	}
	fmt.Fprintf(s.confirmOut, ".\nType 'yes' to continue: ")

	scanner := bufio.NewScanner(s.confirmIn)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}
