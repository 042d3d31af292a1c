// Package postgres wraps the PostgreSQL command-line client. The
// subsystem never links a database driver; everything goes through the
// psql/pg_restore contract so the store stays an external collaborator.
package postgres

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the database operations the DR subsystem needs.
type Service interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	TerminateConnections(ctx context.Context, name string) error
	RestoreDump(ctx context.Context, name, dumpPath string) error
	ScalarQuery(ctx context.Context, database, query string) (string, error)
	IsReplica(ctx context.Context) (bool, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs a command with additional environment variables.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Impl implements the postgres Service interface.
type Impl struct {
	cfg      models.PostgresConfig
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new postgres service.
func New(logger zerolog.Logger, cfg models.PostgresConfig) *Impl {
	return &Impl{
		cfg:      cfg,
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new postgres service with a custom executor
// (for testing).
func NewWithExecutor(logger zerolog.Logger, cfg models.PostgresConfig, executor CommandExecutor) *Impl {
	return &Impl{
		cfg:      cfg,
		executor: executor,
		logger:   logger,
	}
}

func (s *Impl) env() []string {
	env := []string{}
	if s.cfg.Password != "" {
		env = append(env, fmt.Sprintf("PGPASSWORD=%s", s.cfg.Password))
	}
	return env
}

func (s *Impl) baseArgs(database string) []string {
	return []string{
		"-h", s.cfg.Host,
		"-p", fmt.Sprintf("%d", s.cfg.Port),
		"-U", s.cfg.Username,
		"-d", database,
		"-v", "ON_ERROR_STOP=1",
	}
}

// CreateDatabase creates a named database via the maintenance connection.
func (s *Impl) CreateDatabase(ctx context.Context, name string) error {
	s.logger.Info().Str("database", name).Msg("creating database")

	args := append(s.baseArgs(s.cfg.MaintenanceDB), "-c", fmt.Sprintf(`CREATE DATABASE %q`, name))
	output, err := s.executor.ExecuteWithEnv(ctx, s.env(), "psql", args...)
	if err != nil {
		return fmt.Errorf("creating database %s: %w, output: %s", name, err, string(output))
	}
	return nil
}

// DropDatabase drops a named database if it exists.
func (s *Impl) DropDatabase(ctx context.Context, name string) error {
	s.logger.Info().Str("database", name).Msg("dropping database")

	args := append(s.baseArgs(s.cfg.MaintenanceDB), "-c", fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, name))
	output, err := s.executor.ExecuteWithEnv(ctx, s.env(), "psql", args...)
	if err != nil {
		return fmt.Errorf("dropping database %s: %w, output: %s", name, err, string(output))
	}
	return nil
}

// DatabaseExists reports whether a named database exists.
func (s *Impl) DatabaseExists(ctx context.Context, name string) (bool, error) {
	out, err := s.ScalarQuery(ctx, s.cfg.MaintenanceDB,
		fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname = '%s'", name))
	if err != nil {
		return false, err
	}
	return out == "1", nil
}

// TerminateConnections kicks every other session off the named database
// so a drop cannot hang on active connections.
func (s *Impl) TerminateConnections(ctx context.Context, name string) error {
	s.logger.Info().Str("database", name).Msg("terminating active connections")

	_, err := s.ScalarQuery(ctx, s.cfg.MaintenanceDB, fmt.Sprintf(
		"SELECT count(pg_terminate_backend(pid)) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()", name))
	if err != nil {
		return fmt.Errorf("terminating connections to %s: %w", name, err)
	}
	return nil
}

// RestoreDump loads a dump file into the named database. Plain SQL
// dumps go through psql -f; custom-format dumps through pg_restore.
func (s *Impl) RestoreDump(ctx context.Context, name, dumpPath string) error {
	s.logger.Info().Str("database", name).Str("dump", dumpPath).Msg("restoring dump")

	var cmd string
	var args []string
	if strings.HasSuffix(dumpPath, ".dump") {
		cmd = "pg_restore"
		args = []string{
			"-h", s.cfg.Host,
			"-p", fmt.Sprintf("%d", s.cfg.Port),
			"-U", s.cfg.Username,
			"-d", name,
			"--no-owner",
			dumpPath,
		}
	} else {
		cmd = "psql"
		args = append(s.baseArgs(name), "-q", "-f", dumpPath)
	}

	output, err := s.executor.ExecuteWithEnv(ctx, s.env(), cmd, args...)
	if err != nil {
		return fmt.Errorf("restoring %s into %s: %w, output: %s", dumpPath, name, err, string(output))
	}
	return nil
}

// ScalarQuery runs a query via psql in tuples-only mode and returns the
// trimmed plain-text output.
func (s *Impl) ScalarQuery(ctx context.Context, database, query string) (string, error) {
	args := append(s.baseArgs(database), "-t", "-A", "-c", query)
	output, err := s.executor.ExecuteWithEnv(ctx, s.env(), "psql", args...)
	if err != nil {
		return "", fmt.Errorf("query failed: %w, output: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// IsReplica reports whether the server is in recovery, i.e. a read
// replica that can never be a restore target.
func (s *Impl) IsReplica(ctx context.Context) (bool, error) {
	out, err := s.ScalarQuery(ctx, s.cfg.MaintenanceDB, "SELECT pg_is_in_recovery()")
	if err != nil {
		return false, err
	}
	return out == "t", nil
}
