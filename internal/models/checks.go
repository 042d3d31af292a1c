package models

import "time"

// CheckResult is one named integrity check with its outcome.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail"`
	Duration time.Duration `json:"duration_ns"`
}

// ValidationResult holds the outcome of restoring a backup into an
// ephemeral database and running the check battery against it.
type ValidationResult struct {
	File            string
	EphemeralDB     string
	Checks          []CheckResult
	Passed          bool
	RestoreDuration time.Duration
	TotalDuration   time.Duration
	Error           error
}
