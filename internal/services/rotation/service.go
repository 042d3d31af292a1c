// Package rotation implements the tiered retention algorithm for the
// backup directory.
package rotation

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/rs/zerolog"
)

// ForceThreshold is the largest deletion batch allowed without --force.
const ForceThreshold = 10

// ApplyOptions gate the destructive half of a rotation run.
type ApplyOptions struct {
	DryRun bool
	Force  bool
}

// Service defines the interface for retention rotation.
type Service interface {
	Plan(files []models.BackupFile, now time.Time, policy models.RetentionPolicy) *models.RetentionDecision
	Apply(decision *models.RetentionDecision, opts ApplyOptions) (*models.RotationResult, error)
}

// Impl implements the rotation Service interface.
type Impl struct {
	lockSvc lock.Service
	logger  zerolog.Logger
}

// New creates a new rotation service.
func New(logger zerolog.Logger, lockSvc lock.Service) *Impl {
	return &Impl{lockSvc: lockSvc, logger: logger}
}

// Plan computes the keep/delete decision for the given listing. It is a
// pure function of (files, now, policy) and touches nothing on disk.
func (s *Impl) Plan(files []models.BackupFile, now time.Time, policy models.RetentionPolicy) *models.RetentionDecision {
	decision := &models.RetentionDecision{}

	sorted := make([]models.BackupFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Tier 1: everything inside the detailed window is kept.
	// Tier 2: older files survive only as the daily snapshot, up to MaxAge.
	for _, f := range sorted {
		switch {
		case f.InDetailedWindow(now, policy.DetailedWindow):
			decision.Keep = append(decision.Keep, f)
		case f.IsDailySnapshot(policy.DailyHour) && f.Age(now) <= policy.MaxAge:
			decision.Keep = append(decision.Keep, f)
		default:
			decision.Delete = append(decision.Delete, f)
		}
	}

	for _, f := range decision.Keep {
		decision.KeepBytes += f.SizeBytes
	}

	// Cap enforcement: prune oldest daily snapshots first. Files inside
	// the detailed window are never pruned to satisfy the cap.
	if decision.KeepBytes > policy.StorageCap {
		var kept []models.BackupFile
		for _, f := range decision.Keep {
			if decision.KeepBytes <= policy.StorageCap || f.InDetailedWindow(now, policy.DetailedWindow) {
				kept = append(kept, f)
				continue
			}
			decision.Delete = append(decision.Delete, f)
			decision.KeepBytes -= f.SizeBytes
		}
		decision.Keep = kept
	}

	if decision.KeepBytes > policy.StorageCap {
		decision.Warnings = append(decision.Warnings, fmt.Sprintf(
			"keep-set is %d bytes, over the %d byte cap; refusing to prune backups inside the %s detailed window",
			decision.KeepBytes, policy.StorageCap, policy.DetailedWindow))
	}

	s.logger.Debug().
		Int("keep", len(decision.Keep)).
		Int("delete", len(decision.Delete)).
		Int64("keep_bytes", decision.KeepBytes).
		Msg("retention plan computed")

	return decision
}

// Apply executes the deletions of a plan. Dry runs report without
// deleting; batches over ForceThreshold require the force flag.
// Individual delete failures do not abort the remaining batch.
func (s *Impl) Apply(decision *models.RetentionDecision, opts ApplyOptions) (*models.RotationResult, error) {
	start := time.Now()
	result := &models.RotationResult{
		Requested: len(decision.Delete),
		DryRun:    opts.DryRun,
	}

	for _, warning := range decision.Warnings {
		s.logger.Warn().Msg(warning)
	}

	if opts.DryRun {
		for _, f := range decision.Delete {
			s.logger.Info().Str("file", f.Name).Int64("size", f.SizeBytes).Msg("would delete")
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	if result.Requested > ForceThreshold && !opts.Force {
		result.Error = fmt.Errorf("refusing to delete %d files (threshold %d) without force", result.Requested, ForceThreshold)
		result.Duration = time.Since(start)
		return result, nil
	}

	acquired, err := s.lockSvc.Acquire(models.OpRotation)
	if err != nil {
		return nil, fmt.Errorf("acquiring rotation lock: %w", err)
	}
	if !acquired {
		result.Error = fmt.Errorf("rotation lock is held by another process")
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := s.lockSvc.Release(models.OpRotation); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release rotation lock")
		}
	}()

	for _, f := range decision.Delete {
		if err := os.Remove(f.Path); err != nil {
			s.logger.Error().Err(err).Str("file", f.Name).Msg("failed to delete backup")
			result.Failed = append(result.Failed, f.Name)
			continue
		}
		result.Deleted++
		result.FreedBytes += f.SizeBytes
		s.logger.Info().Str("file", f.Name).Int64("size", f.SizeBytes).Msg("backup deleted")
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Int("requested", result.Requested).
		Int("deleted", result.Deleted).
		Int64("freed_bytes", result.FreedBytes).
		Dur("duration", result.Duration).
		Msg("rotation completed")

	return result, nil
}
