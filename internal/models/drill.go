package models

import "time"

// DrillOptions selects the input and behavior of a DR drill run.
type DrillOptions struct {
	File       string
	Keep       bool          // preserve the ephemeral database for inspection
	RTOTarget  time.Duration // 0 means use the configured target
	ReportPath string        // write a JSON DrillReport here when set
}

// DrillResult holds the outcome of a timed restore-and-verify exercise.
type DrillResult struct {
	File            string
	EphemeralDB     string
	Checks          []CheckResult
	Warnings        []string // non-fatal findings, e.g. orphaned rows
	Passed          bool
	RestoreDuration time.Duration
	TotalDuration   time.Duration
	RTOTarget       time.Duration
	PassedRTO       bool
	Kept            bool
	Error           error
}

// DrillReport is the machine-readable form of a DrillResult.
type DrillReport struct {
	File           string        `json:"file"`
	EphemeralDB    string        `json:"ephemeral_db"`
	Checks         []CheckResult `json:"checks"`
	Warnings       []string      `json:"warnings,omitempty"`
	Passed         bool          `json:"passed"`
	RestoreSeconds float64       `json:"restore_seconds"`
	TotalSeconds   float64       `json:"total_seconds"`
	RTOTargetSecs  float64       `json:"rto_target_seconds"`
	PassedRTO      bool          `json:"passed_rto"`
	Kept           bool          `json:"kept"`
	Error          string        `json:"error,omitempty"`
	GeneratedAtUTC time.Time     `json:"generated_at_utc"`
}

// Report converts the result into its serializable form.
func (r DrillResult) Report(now time.Time) DrillReport {
	rep := DrillReport{
		File:           r.File,
		EphemeralDB:    r.EphemeralDB,
		Checks:         r.Checks,
		Warnings:       r.Warnings,
		Passed:         r.Passed,
		RestoreSeconds: r.RestoreDuration.Seconds(),
		TotalSeconds:   r.TotalDuration.Seconds(),
		RTOTargetSecs:  r.RTOTarget.Seconds(),
		PassedRTO:      r.PassedRTO,
		Kept:           r.Kept,
		GeneratedAtUTC: now.UTC(),
	}
	if r.Error != nil {
		rep.Error = r.Error.Error()
	}
	return rep
}
