// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/spf13/viper"
)

// Defaults for non-secret knobs. Secrets never have defaults.
const (
	DefaultDetailedWindow = 48 * time.Hour
	DefaultDailyHour      = 0
	DefaultMaxAge         = 30 * 24 * time.Hour
	DefaultStorageCap     = 8 << 30 // 8 GiB
	DefaultRTOTarget      = 900 * time.Second
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.DRConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.DRConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.DRConfig, error) {
	cfg := &models.DRConfig{}

	// Parse backup directory settings (required).
	cfg.Backup = models.BackupDirConfig{
		Dir:     p.expandEnv(p.v.GetString("backup.dir")),
		LockDir: p.expandEnv(p.v.GetString("backup.lock_dir")),
	}

	if cfg.Backup.Dir == "" {
		return nil, fmt.Errorf("backup.dir is required")
	}
	if cfg.Backup.LockDir == "" {
		cfg.Backup.LockDir = filepath.Join(cfg.Backup.Dir, ".locks")
	}

	// Parse retention policy.
	cfg.Retention = models.RetentionPolicy{
		DetailedWindow: p.v.GetDuration("retention.detailed_window"),
		DailyHour:      p.v.GetInt("retention.daily_hour"),
		MaxAge:         p.v.GetDuration("retention.max_age"),
		StorageCap:     p.v.GetInt64("retention.storage_cap_bytes"),
	}

	if cfg.Retention.DetailedWindow == 0 {
		cfg.Retention.DetailedWindow = DefaultDetailedWindow
	}
	if !p.v.IsSet("retention.daily_hour") {
		cfg.Retention.DailyHour = DefaultDailyHour
	}
	if cfg.Retention.DailyHour < 0 || cfg.Retention.DailyHour > 23 {
		return nil, fmt.Errorf("retention.daily_hour must be between 0 and 23")
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = DefaultMaxAge
	}
	if cfg.Retention.StorageCap == 0 {
		cfg.Retention.StorageCap = DefaultStorageCap
	}

	// Parse database client settings.
	cfg.Postgres = models.PostgresConfig{
		Host:          p.v.GetString("postgres.host"),
		Port:          p.v.GetInt("postgres.port"),
		Username:      p.v.GetString("postgres.username"),
		Password:      p.expandEnv(p.v.GetString("postgres.password")),
		MaintenanceDB: p.v.GetString("postgres.maintenance_db"),
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Username == "" {
		cfg.Postgres.Username = "postgres"
	}
	if cfg.Postgres.MaintenanceDB == "" {
		cfg.Postgres.MaintenanceDB = "postgres"
	}

	// Parse encryption settings. The secret only ever arrives via env
	// expansion; its strength is checked where it is used.
	cfg.Encryption = models.EncryptionConfig{
		Secret: p.expandEnv(p.v.GetString("encryption.secret")),
	}

	// Parse optional offsite storage config.
	if p.v.IsSet("offsite") {
		cfg.Offsite = &models.OffsiteConfig{
			Bucket:    p.v.GetString("offsite.bucket"),
			Region:    p.v.GetString("offsite.region"),
			Endpoint:  p.expandEnv(p.v.GetString("offsite.endpoint")),
			AccessKey: p.expandEnv(p.v.GetString("offsite.access_key")),
			SecretKey: p.expandEnv(p.v.GetString("offsite.secret_key")),
			Prefix:    p.v.GetString("offsite.prefix"),
		}

		if cfg.Offsite.Bucket == "" {
			return nil, fmt.Errorf("offsite.bucket is required when offsite is configured")
		}
		if cfg.Offsite.Region == "" {
			cfg.Offsite.Region = "us-east-1"
		}
		if cfg.Offsite.AccessKey == "" || cfg.Offsite.SecretKey == "" {
			return nil, fmt.Errorf("offsite.access_key and offsite.secret_key are required when offsite is configured")
		}
		if cfg.Offsite.Prefix == "" {
			cfg.Offsite.Prefix = "backups"
		}
	}

	// Parse drill settings.
	cfg.Drill = models.DrillSettings{
		RTOTarget: p.v.GetDuration("drill.rto_target"),
	}
	if cfg.Drill.RTOTarget == 0 {
		cfg.Drill.RTOTarget = DefaultRTOTarget
	}

	// Runtime environment, used by the production restore guard.
	cfg.Environment = p.expandEnv(p.v.GetString("environment"))
	if cfg.Environment == "" {
		cfg.Environment = os.Getenv("APP_ENV")
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.DRConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}

	if cfg.Retention.StorageCap <= 0 {
		return fmt.Errorf("retention.storage_cap_bytes must be positive")
	}

	return nil
}
