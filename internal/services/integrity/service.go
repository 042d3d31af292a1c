// Package integrity runs the verification battery shared by the backup
// validator, the restore orchestrator and the DR drill.
package integrity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/postgres"
	"github.com/rs/zerolog"
)

// rowCountMinimums lists the core application tables and the minimum
// rows a restorable backup must contain. Operator accounts can never be
// empty; the rest only need to exist.
var rowCountMinimums = []struct {
	table string
	min   int
}{
	{"users", 1},
	{"campuses", 0},
	{"blocks", 0},
	{"units", 0},
	{"companies", 0},
	{"leases", 0},
}

// criticalColumns lists columns whose absence means a structurally
// broken restore even when row counts look fine.
var criticalColumns = map[string][]string{
	"users":  {"username", "password_hash", "role"},
	"units":  {"block_id", "unit_number"},
	"leases": {"unit_id", "company_id", "start_date"},
}

// orphanQueries count child rows whose parent reference is missing.
// Orphans are reported as warnings, not failures.
var orphanQueries = []struct {
	name  string
	query string
}{
	{"orphaned blocks", "SELECT count(*) FROM blocks b LEFT JOIN campuses c ON b.campus_id = c.id WHERE c.id IS NULL"},
	{"orphaned units", "SELECT count(*) FROM units u LEFT JOIN blocks b ON u.block_id = b.id WHERE b.id IS NULL"},
	{"orphaned leases (unit)", "SELECT count(*) FROM leases l LEFT JOIN units u ON l.unit_id = u.id WHERE u.id IS NULL"},
	{"orphaned leases (company)", "SELECT count(*) FROM leases l LEFT JOIN companies c ON l.company_id = c.id WHERE c.id IS NULL"},
}

const duplicateUsernamesQuery = "SELECT count(*) FROM (SELECT username FROM users GROUP BY username HAVING count(*) > 1) d"

// Service defines the interface for the integrity check battery.
type Service interface {
	CoreChecks(ctx context.Context, database string) []models.CheckResult
	ReferentialChecks(ctx context.Context, database string) ([]models.CheckResult, []string)
}

// Impl implements the integrity Service interface.
type Impl struct {
	db     postgres.Service
	logger zerolog.Logger
}

// New creates a new integrity service.
func New(logger zerolog.Logger, db postgres.Service) *Impl {
	return &Impl{db: db, logger: logger}
}

// AllPassed reports whether every check in the list passed.
func AllPassed(checks []models.CheckResult) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// CoreChecks runs the standard battery: liveness, row-count minimums,
// foreign-key presence and critical columns. Each check is independent
// and individually reported.
func (s *Impl) CoreChecks(ctx context.Context, database string) []models.CheckResult {
	checks := []models.CheckResult{s.liveness(ctx, database)}

	for _, rc := range rowCountMinimums {
		checks = append(checks, s.rowCount(ctx, database, rc.table, rc.min))
	}

	checks = append(checks, s.foreignKeys(ctx, database))

	for table, cols := range criticalColumns {
		checks = append(checks, s.columnsPresent(ctx, database, table, cols))
	}

	for _, c := range checks {
		s.logger.Debug().Str("check", c.Name).Bool("passed", c.Passed).Str("detail", c.Detail).Msg("check completed")
	}

	return checks
}

// ReferentialChecks runs the drill-only battery. Orphaned child rows
// come back as warnings; duplicate unique keys as a failing check.
func (s *Impl) ReferentialChecks(ctx context.Context, database string) ([]models.CheckResult, []string) {
	var warnings []string

	for _, oq := range orphanQueries {
		n, err := s.count(ctx, database, oq.query)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: count failed: %v", oq.name, err))
			continue
		}
		if n > 0 {
			warnings = append(warnings, fmt.Sprintf("%s: %d row(s)", oq.name, n))
		}
	}

	check := models.CheckResult{Name: "duplicate usernames"}
	start := time.Now()
	n, err := s.count(ctx, database, duplicateUsernamesQuery)
	check.Duration = time.Since(start)
	switch {
	case err != nil:
		check.Detail = fmt.Sprintf("count failed: %v", err)
	case n > 0:
		check.Detail = fmt.Sprintf("%d username(s) violate uniqueness", n)
	default:
		check.Passed = true
		check.Detail = "no duplicate usernames"
	}

	return []models.CheckResult{check}, warnings
}

func (s *Impl) liveness(ctx context.Context, database string) models.CheckResult {
	check := models.CheckResult{Name: "liveness"}
	start := time.Now()
	out, err := s.db.ScalarQuery(ctx, database, "SELECT 1")
	check.Duration = time.Since(start)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.Passed = out == "1"
	check.Detail = "database responds to queries"
	if !check.Passed {
		check.Detail = fmt.Sprintf("unexpected response %q", out)
	}
	return check
}

func (s *Impl) rowCount(ctx context.Context, database, table string, minRows int) models.CheckResult {
	check := models.CheckResult{Name: fmt.Sprintf("row count: %s", table)}
	start := time.Now()
	n, err := s.count(ctx, database, fmt.Sprintf("SELECT count(*) FROM %s", table))
	check.Duration = time.Since(start)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.Passed = n >= minRows
	check.Detail = fmt.Sprintf("%d row(s), minimum %d", n, minRows)
	return check
}

func (s *Impl) foreignKeys(ctx context.Context, database string) models.CheckResult {
	check := models.CheckResult{Name: "foreign key constraints"}
	start := time.Now()
	n, err := s.count(ctx, database,
		"SELECT count(*) FROM information_schema.table_constraints WHERE constraint_type = 'FOREIGN KEY'")
	check.Duration = time.Since(start)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.Passed = n > 0
	check.Detail = fmt.Sprintf("%d foreign key constraint(s)", n)
	return check
}

func (s *Impl) columnsPresent(ctx context.Context, database, table string, columns []string) models.CheckResult {
	check := models.CheckResult{Name: fmt.Sprintf("columns: %s", table)}
	start := time.Now()

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = fmt.Sprintf("'%s'", c)
	}
	n, err := s.count(ctx, database, fmt.Sprintf(
		"SELECT count(*) FROM information_schema.columns WHERE table_name = '%s' AND column_name IN (%s)",
		table, strings.Join(quoted, ", ")))
	check.Duration = time.Since(start)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.Passed = n == len(columns)
	check.Detail = fmt.Sprintf("%d of %d expected column(s) present", n, len(columns))
	return check
}

func (s *Impl) count(ctx context.Context, database, query string) (int, error) {
	out, err := s.db.ScalarQuery(ctx, database, query)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing count %q: %w", out, err)
	}
	return n, nil
}
