package main

import (
	"fmt"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show which operations are currently locked",
	Long:  `List the current holder of each operation lock, if any.`,
	RunE:  runLocks,
}

func runLocks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lockSvc := lock.New(log.Logger, cfg.Backup.LockDir)

	fmt.Println("Operation locks:")
	for _, op := range models.Operations {
		holder, err := lockSvc.CurrentHolder(op)
		if err != nil {
			fmt.Printf("  %-13s unreadable: %v\n", op, err)
			continue
		}
		if holder == nil {
			fmt.Printf("  %-13s free\n", op)
			continue
		}
		fmt.Printf("  %-13s held by pid %d since %s\n", op, holder.PID, holder.StartTime.Format("2006-01-02 15:04:05"))
	}

	return nil
}
