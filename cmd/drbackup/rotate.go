package main

import (
	"fmt"
	"time"

	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/rotation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rotateDryRun bool
	rotateForce  bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Apply the tiered retention policy",
	Long: `Plan and apply retention: keep everything inside the detailed
window, keep only the daily snapshot for older backups, and enforce the
storage cap oldest-first. Use --dry-run to see the plan without
deleting anything.`,
	RunE: runRotate,
}

func init() {
	rotateCmd.Flags().BoolVar(&rotateDryRun, "dry-run", false, "report the plan without deleting")
	rotateCmd.Flags().BoolVar(&rotateForce, "force", false, "allow deletion batches larger than the safety threshold")
}

func runRotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	catalog := backups.New(log.Logger, cfg.Backup.Dir)
	files, err := catalog.List()
	if err != nil {
		log.Error().Err(err).Msg("could not list backups")
		return err
	}

	lockSvc := lock.New(log.Logger, cfg.Backup.LockDir)
	rotateSvc := rotation.New(log.Logger, lockSvc)

	decision := rotateSvc.Plan(files, time.Now(), cfg.Retention)

	fmt.Printf("Retention plan: keep %d (%d bytes), delete %d\n",
		len(decision.Keep), decision.KeepBytes, len(decision.Delete))
	for _, w := range decision.Warnings {
		fmt.Printf("  WARNING: %s\n", w)
	}

	result, err := rotateSvc.Apply(decision, rotation.ApplyOptions{
		DryRun: rotateDryRun,
		Force:  rotateForce,
	})
	if err != nil {
		log.Error().Err(err).Msg("rotation failed")
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("rotation failed")
		return result.Error
	}

	if result.DryRun {
		fmt.Printf("Dry run: %d file(s) would be deleted.\n", result.Requested)
		return nil
	}

	fmt.Printf("Deleted %d of %d file(s), freed %d bytes.\n", result.Deleted, result.Requested, result.FreedBytes)
	if len(result.Failed) > 0 {
		return fmt.Errorf("failed to delete %d file(s): %v", len(result.Failed), result.Failed)
	}
	return nil
}
