package main

import (
	"fmt"

	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/campuskeep/drbackup/internal/services/integrity"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/campuskeep/drbackup/internal/services/validation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Prove a backup is restorable",
	Long: `Restore a backup into an ephemeral database, run the integrity
check battery against it, and drop the database again. Uses the newest
backup unless --file selects one.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "backup file to validate (default: latest)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	catalog := backups.New(log.Logger, cfg.Backup.Dir)
	file, err := selectBackup(catalog, validateFile)
	if err != nil {
		log.Error().Err(err).Msg("could not select backup")
		return err
	}

	lockSvc := lock.New(log.Logger, cfg.Backup.LockDir)
	dbSvc := postgres.New(log.Logger, cfg.Postgres)
	checkSvc := integrity.New(log.Logger, dbSvc)
	validateSvc := validation.New(log.Logger, lockSvc, dbSvc, checkSvc)

	result, err := validateSvc.Validate(ctx, *file)
	if err != nil {
		log.Error().Err(err).Msg("validation failed")
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("validation failed")
		return result.Error
	}

	fmt.Printf("Validation of %s\n\n", file.Name)
	for _, check := range result.Checks {
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %-28s %s\n", status, check.Name, check.Detail)
	}
	fmt.Printf("\nRestore took %s, total %s\n", result.RestoreDuration.Round(timeRound), result.TotalDuration.Round(timeRound))

	if !result.Passed {
		return fmt.Errorf("validation failed: one or more checks did not pass")
	}

	fmt.Println("Backup is restorable.")
	return nil
}
