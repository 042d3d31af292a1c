// Package models contains the data structures used throughout drbackup.
package models

import "time"

// DRConfig holds the complete configuration for the DR subsystem.
type DRConfig struct {
	Backup      BackupDirConfig
	Retention   RetentionPolicy
	Postgres    PostgresConfig
	Encryption  EncryptionConfig
	Offsite     *OffsiteConfig // nil if not configured
	Drill       DrillSettings
	Environment string // "production" enables the production restore guard
}

// BackupDirConfig locates the shared backup directory and the lock directory.
type BackupDirConfig struct {
	Dir     string
	LockDir string
}

// PostgresConfig holds connection settings for the database CLI client.
type PostgresConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	MaintenanceDB string // database to connect to for create/drop, default "postgres"
}

// EncryptionConfig holds the backup encryption secret.
type EncryptionConfig struct {
	Secret string
}

// OffsiteConfig holds remote object storage settings.
type OffsiteConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores
	AccessKey string
	SecretKey string
	Prefix    string // key prefix inside the bucket
}

// DrillSettings holds DR drill tuning.
type DrillSettings struct {
	RTOTarget time.Duration
}
