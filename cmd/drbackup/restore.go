package main

import (
	"fmt"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/campuskeep/drbackup/internal/services/integrity"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/campuskeep/drbackup/internal/services/restore"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	restoreFile       string
	restoreTarget     string
	restoreExecute    bool
	restoreAllowProd  bool
	restoreDrop       bool
	restoreForce      bool
	restoreCreate     bool
	restoreNonInter   bool
	restoreSkipVerify bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup into a named database",
	Long: `Restore a backup into a named, possibly production database.
Without --execute this is a dry run: it validates the inputs and
reports what would happen without touching anything. Destructive paths
sit behind --drop, --force, --allow-production and a typed
confirmation.`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "backup file to restore (default: latest)")
	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "target database name (required)")
	restoreCmd.Flags().BoolVar(&restoreExecute, "execute", false, "actually perform the restore")
	restoreCmd.Flags().BoolVar(&restoreAllowProd, "allow-production", false, "permit restoring in a production environment")
	restoreCmd.Flags().BoolVar(&restoreDrop, "drop", false, "drop the target database first (requires --force)")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "confirm destructive drop")
	restoreCmd.Flags().BoolVar(&restoreCreate, "create", false, "recreate the target database after dropping")
	restoreCmd.Flags().BoolVar(&restoreNonInter, "non-interactive", false, "skip the typed confirmation")
	restoreCmd.Flags().BoolVar(&restoreSkipVerify, "skip-verify", false, "skip the post-restore check battery")
	_ = restoreCmd.MarkFlagRequired("target")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	catalog := backups.New(log.Logger, cfg.Backup.Dir)
	file, err := selectBackup(catalog, restoreFile)
	if err != nil {
		log.Error().Err(err).Msg("could not select backup")
		return err
	}

	lockSvc := lock.New(log.Logger, cfg.Backup.LockDir)
	dbSvc := postgres.New(log.Logger, cfg.Postgres)
	checkSvc := integrity.New(log.Logger, dbSvc)
	restoreSvc := restore.New(log.Logger, lockSvc, dbSvc, checkSvc, cfg.Environment)

	result, err := restoreSvc.Restore(ctx, models.RestoreOptions{
		File:            file.Path,
		TargetDB:        restoreTarget,
		Execute:         restoreExecute,
		AllowProduction: restoreAllowProd,
		Drop:            restoreDrop,
		Force:           restoreForce,
		Create:          restoreCreate,
		NonInteractive:  restoreNonInter,
		SkipVerify:      restoreSkipVerify,
	})
	if err != nil {
		log.Error().Err(err).Msg("restore failed")
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Str("target", restoreTarget).Msg("restore refused")
		return result.Error
	}

	if result.DryRun {
		fmt.Printf("Dry run: would restore %s into %q", file.Name, restoreTarget)
		if restoreDrop {
			fmt.Printf(" after dropping it")
		}
		fmt.Println(". Pass --execute to apply.")
		return nil
	}

	for _, check := range result.Checks {
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %-28s %s\n", status, check.Name, check.Detail)
	}

	if !result.Passed {
		return fmt.Errorf("restore completed but verification failed")
	}

	fmt.Printf("Restored %s into %q in %s.\n", file.Name, restoreTarget, result.Duration.Round(timeRound))
	return nil
}
