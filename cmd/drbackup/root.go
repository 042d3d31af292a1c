package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/campuskeep/drbackup/internal/config"
	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errConfigRequired = errors.New("config file is required")

// timeRound trims durations for human-readable output.
const timeRound = 10 * time.Millisecond

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "drbackup",
	Short: "Backup validation and disaster-recovery tooling for the leasing platform",
	Long: `drbackup operates on the shared PostgreSQL backup directory:
  - validate: restore a backup into an ephemeral database and verify it
  - rotate:   apply the tiered retention policy under the storage cap
  - restore:  guarded restore into a named database (dry-run by default)
  - drill:    timed end-to-end recovery exercise against the RTO target
  - sync:     encrypt and upload backups to offsite object storage
  - locks:    show which operations are currently locked

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(drillCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(locksCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig loads and validates the configuration file.
func loadConfig() (*models.DRConfig, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, errConfigRequired
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}

// selectBackup resolves the --file flag, defaulting to the newest
// backup in the directory.
func selectBackup(catalog backups.Service, fileFlag string) (*models.BackupFile, error) {
	if fileFlag == "" {
		latest, err := catalog.Latest()
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", latest.Name).Msg("using latest backup")
		return latest, nil
	}

	files, err := catalog.List()
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].Name == fileFlag || files[i].Path == fileFlag {
			return &files[i], nil
		}
	}
	return nil, fmt.Errorf("backup file %s not found in backup directory", fileFlag)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
