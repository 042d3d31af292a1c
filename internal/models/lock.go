package models

import "time"

// Operation names the closed set of lock classes. Exactly one lock may
// exist per operation class at a time.
type Operation string

// Lockable operation classes.
const (
	OpBackup      Operation = "backup"
	OpRestore     Operation = "restore"
	OpValidation  Operation = "validation"
	OpOffsiteSync Operation = "offsite-sync"
	OpRotation    Operation = "rotation"
)

// Operations lists every lock class, for status reporting.
var Operations = []Operation{OpBackup, OpRestore, OpValidation, OpOffsiteSync, OpRotation}

// LockRecord is the JSON payload written to a lock file on acquire.
type LockRecord struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Operation Operation `json:"operation"`
}
