package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/campuskeep/drbackup/internal/services/drill"
	"github.com/campuskeep/drbackup/internal/services/integrity"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	drillFile   string
	drillKeep   bool
	drillRTO    time.Duration
	drillReport string
)

var drillCmd = &cobra.Command{
	Use:   "drill",
	Short: "Run a timed disaster-recovery exercise",
	Long: `Restore a backup into a throwaway database, verify row counts,
referential integrity and unique keys, and measure the elapsed time
against the recovery-time objective. --report writes a JSON report.`,
	RunE: runDrill,
}

func init() {
	drillCmd.Flags().StringVarP(&drillFile, "file", "f", "", "backup file to drill with (default: latest)")
	drillCmd.Flags().BoolVar(&drillKeep, "keep", false, "keep the ephemeral database for inspection")
	drillCmd.Flags().DurationVar(&drillRTO, "rto", 0, "override the configured RTO target")
	drillCmd.Flags().StringVar(&drillReport, "report", "", "write a JSON report to this path ('-' for stdout)")
}

func runDrill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	catalog := backups.New(log.Logger, cfg.Backup.Dir)
	file, err := selectBackup(catalog, drillFile)
	if err != nil {
		log.Error().Err(err).Msg("could not select backup")
		return err
	}

	lockSvc := lock.New(log.Logger, cfg.Backup.LockDir)
	dbSvc := postgres.New(log.Logger, cfg.Postgres)
	checkSvc := integrity.New(log.Logger, dbSvc)
	drillSvc := drill.New(log.Logger, lockSvc, dbSvc, checkSvc, cfg.Drill.RTOTarget)

	result, err := drillSvc.Run(ctx, *file, models.DrillOptions{
		Keep:       drillKeep,
		RTOTarget:  drillRTO,
		ReportPath: drillReport,
	})
	if err != nil {
		log.Error().Err(err).Msg("drill failed")
		return err
	}

	if drillReport != "" {
		if err := writeReport(result, drillReport); err != nil {
			log.Error().Err(err).Msg("failed to write drill report")
			return err
		}
	}

	if result.Error != nil {
		log.Error().Err(result.Error).Msg("drill failed")
		return result.Error
	}

	fmt.Printf("DR drill with %s\n\n", file.Name)
	for _, check := range result.Checks {
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %-28s %s\n", status, check.Name, check.Detail)
	}
	for _, w := range result.Warnings {
		fmt.Printf("  [WARN] %s\n", w)
	}

	rtoStatus := "PASS"
	if !result.PassedRTO {
		rtoStatus = "FAIL"
	}
	fmt.Printf("\n  [%s] RTO: %s elapsed, target %s\n", rtoStatus,
		result.TotalDuration.Round(timeRound), result.RTOTarget)

	if !result.Passed {
		return fmt.Errorf("drill failed: one or more checks did not pass")
	}
	if !result.PassedRTO {
		return fmt.Errorf("drill exceeded the RTO target of %s", result.RTOTarget)
	}

	fmt.Println("Drill passed.")
	return nil
}

func writeReport(result *models.DrillResult, path string) error {
	report := result.Report(time.Now())
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding drill report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o640)
}
