package models

import "time"

// RestoreOptions selects the source, target and safety flags for a restore.
// The zero value is a dry run against an existing database.
type RestoreOptions struct {
	File            string
	TargetDB        string
	Execute         bool // without this, nothing is mutated
	AllowProduction bool
	Drop            bool // drop the target before restoring
	Force           bool // required together with Drop
	Create          bool // recreate the target after dropping
	NonInteractive  bool // skip the typed "yes" confirmation
	SkipVerify      bool
}

// RestoreResult holds the outcome of a restore run.
type RestoreResult struct {
	DryRun   bool
	TargetDB string
	Dropped  bool
	Created  bool
	Restored bool
	Checks   []CheckResult
	Passed   bool
	Duration time.Duration
	Error    error
}
