package models

import "time"

// RetentionPolicy defines the tiered retention rules for the backup directory.
type RetentionPolicy struct {
	DetailedWindow time.Duration // keep everything younger than this (default 48h)
	DailyHour      int           // hour-of-day of the canonical daily snapshot (default 0)
	MaxAge         time.Duration // drop daily snapshots older than this (default 30d)
	StorageCap     int64         // absolute size cap for the keep-set in bytes (default 8GiB)
}

// RetentionDecision is the pure output of a rotation planning run.
// It is recomputed from the current file listing on every run and
// never persisted.
type RetentionDecision struct {
	Keep      []BackupFile
	Delete    []BackupFile
	KeepBytes int64
	Warnings  []string
}

// RotationResult holds the outcome of applying a retention decision.
type RotationResult struct {
	Requested  int // deletions the plan asked for
	Deleted    int // deletions that actually succeeded
	Failed     []string
	FreedBytes int64
	DryRun     bool
	Duration   time.Duration
	Error      error
}
