package main

import (
	"fmt"

	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/campuskeep/drbackup/internal/services/crypto"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/offsite"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var syncFile string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Encrypt and upload backups to offsite storage",
	Long: `Encrypt backups that have no encrypted sibling yet and upload
them to the configured bucket with retry. Syncs every backup unless
--file selects one.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncFile, "file", "f", "", "backup file to sync (default: all)")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Offsite == nil {
		log.Error().Msg("offsite storage is not configured")
		return fmt.Errorf("offsite storage is not configured")
	}
	if cfg.Encryption.Secret == "" {
		log.Error().Msg("encryption.secret is required for offsite sync")
		return fmt.Errorf("encryption.secret is required for offsite sync")
	}

	ctx, cancel := signalContext()
	defer cancel()

	lockSvc := lock.New(log.Logger, cfg.Backup.LockDir)
	catalog := backups.New(log.Logger, cfg.Backup.Dir)
	cryptoSvc := crypto.New(log.Logger)
	syncSvc := offsite.New(log.Logger, *cfg.Offsite, lockSvc, catalog, cryptoSvc, cfg.Encryption.Secret)

	if syncFile != "" {
		file, err := selectBackup(catalog, syncFile)
		if err != nil {
			log.Error().Err(err).Msg("could not select backup")
			return err
		}
		result, err := syncSvc.Sync(ctx, *file)
		if err != nil {
			log.Error().Err(err).Msg("sync failed")
			return err
		}
		if result.Error != nil {
			log.Error().Err(result.Error).Str("file", result.File).Msg("sync failed")
			return result.Error
		}
		fmt.Printf("Uploaded %s (%d attempt(s)).\n", result.Key, result.Attempts)
		return nil
	}

	results, err := syncSvc.SyncAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sync failed")
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
			fmt.Printf("  FAIL %s: %v\n", r.File, r.Error)
			continue
		}
		fmt.Printf("  OK   %s -> %s\n", r.File, r.Key)
	}
	fmt.Printf("Synced %d of %d file(s).\n", len(results)-failed, len(results))

	if failed > 0 {
		return fmt.Errorf("%d of %d upload(s) failed", failed, len(results))
	}
	return nil
}
