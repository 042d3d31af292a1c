package restore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDB records the order of database calls.
type mockDB struct {
	replica bool
	calls   []string
}

func (m *mockDB) CreateDatabase(ctx context.Context, name string) error {
	m.calls = append(m.calls, "create "+name)
	return nil
}

func (m *mockDB) DropDatabase(ctx context.Context, name string) error {
	m.calls = append(m.calls, "drop "+name)
	return nil
}

func (m *mockDB) DatabaseExists(ctx context.Context, name string) (bool, error) { return true, nil }

func (m *mockDB) TerminateConnections(ctx context.Context, name string) error {
	m.calls = append(m.calls, "terminate "+name)
	return nil
}

func (m *mockDB) RestoreDump(ctx context.Context, name, dumpPath string) error {
	m.calls = append(m.calls, "restore "+name)
	return nil
}

func (m *mockDB) ScalarQuery(ctx context.Context, database, query string) (string, error) {
	return "", nil
}

func (m *mockDB) IsReplica(ctx context.Context) (bool, error) {
	m.calls = append(m.calls, "replica?")
	return m.replica, nil
}

type stubChecks struct {
	passed bool
}

func (s *stubChecks) CoreChecks(ctx context.Context, database string) []models.CheckResult {
	return []models.CheckResult{{Name: "liveness", Passed: s.passed}}
}

func (s *stubChecks) ReferentialChecks(ctx context.Context, database string) ([]models.CheckResult, []string) {
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeDump(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campuskeep_2026-08-21_00-00-00.sql")
	require.NoError(t, os.WriteFile(path, []byte("dump"), 0o640))
	return path
}

func testService(t *testing.T, db *mockDB, environment string) *Impl {
	t.Helper()
	return New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true}, environment)
}

func TestRestore_DryRunByDefault(t *testing.T) {
	db := &mockDB{replica: true} // would refuse if probed
	svc := testService(t, db, "production")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:     writeDump(t),
		TargetDB: "campuskeep_staging",
	})
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.DryRun)
	assert.True(t, result.Passed)
	assert.False(t, result.Restored)

	// A dry run never touches the server, not even the replica probe.
	assert.Empty(t, db.calls)
}

func TestRestore_RefusesReplica(t *testing.T) {
	svc := testService(t, &mockDB{replica: true}, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:           writeDump(t),
		TargetDB:       "campuskeep_staging",
		Execute:        true,
		NonInteractive: true,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrReplicaTarget)
	assert.False(t, result.Restored)
}

func TestRestore_ProductionGuard(t *testing.T) {
	db := &mockDB{}
	svc := testService(t, db, "production")

	opts := models.RestoreOptions{
		File:           writeDump(t),
		TargetDB:       "campuskeep",
		Execute:        true,
		NonInteractive: true,
	}
	result, err := svc.Restore(context.Background(), opts)
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrProductionGuard)

	// --allow-production opens the gate.
	opts.AllowProduction = true
	result, err = svc.Restore(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.Restored)
}

func TestRestore_DropRequiresForce(t *testing.T) {
	svc := testService(t, &mockDB{}, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:           writeDump(t),
		TargetDB:       "campuskeep_staging",
		Execute:        true,
		Drop:           true,
		NonInteractive: true,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrDropRequiresForce)
	assert.False(t, result.Dropped)
}

func TestRestore_ConfirmationDeclined(t *testing.T) {
	db := &mockDB{}
	var out bytes.Buffer
	svc := NewWithConfirm(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true},
		"staging", strings.NewReader("no\n"), &out)

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:     writeDump(t),
		TargetDB: "campuskeep_staging",
		Execute:  true,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrNotConfirmed)
	assert.False(t, result.Restored)
	assert.Contains(t, out.String(), "Type 'yes' to continue")
}

func TestRestore_ConfirmationAccepted(t *testing.T) {
	db := &mockDB{}
	var out bytes.Buffer
	svc := NewWithConfirm(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true},
		"staging", strings.NewReader("yes\n"), &out)

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:     writeDump(t),
		TargetDB: "campuskeep_staging",
		Execute:  true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.Restored)
}

func TestRestore_FullDropCreateSequence(t *testing.T) {
	db := &mockDB{}
	svc := testService(t, db, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:           writeDump(t),
		TargetDB:       "campuskeep_staging",
		Execute:        true,
		Drop:           true,
		Force:          true,
		Create:         true,
		NonInteractive: true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.Dropped)
	assert.True(t, result.Created)
	assert.True(t, result.Restored)
	assert.True(t, result.Passed)
	require.Len(t, result.Checks, 1)

	assert.Equal(t, []string{
		"replica?",
		"terminate campuskeep_staging",
		"drop campuskeep_staging",
		"create campuskeep_staging",
		"restore campuskeep_staging",
	}, db.calls)
}

func TestRestore_SkipVerify(t *testing.T) {
	db := &mockDB{}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: false}, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:           writeDump(t),
		TargetDB:       "campuskeep_staging",
		Execute:        true,
		NonInteractive: true,
		SkipVerify:     true,
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Checks)
}

func TestRestore_LockBusy(t *testing.T) {
	lockDir := t.TempDir()
	other := lock.NewWithProbe(testLogger(), lockDir, os.Getpid()+1, &alwaysAlive{})
	acquired, err := other.Acquire(models.OpRestore)
	require.NoError(t, err)
	require.True(t, acquired)

	db := &mockDB{}
	holder := lock.NewWithProbe(testLogger(), lockDir, os.Getpid(), &alwaysAlive{})
	svc := New(testLogger(), holder, db, &stubChecks{passed: true}, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:           writeDump(t),
		TargetDB:       "campuskeep_staging",
		Execute:        true,
		NonInteractive: true,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, ErrLockBusy)
	assert.NotContains(t, db.calls, "restore campuskeep_staging")
}

func TestRestore_MissingTarget(t *testing.T) {
	svc := testService(t, &mockDB{}, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{File: writeDump(t)})
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "target database is required")
}

func TestRestore_MissingFile(t *testing.T) {
	svc := testService(t, &mockDB{}, "staging")

	result, err := svc.Restore(context.Background(), models.RestoreOptions{
		File:     "/backups/nope.sql",
		TargetDB: "campuskeep_staging",
	})
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "does not exist")
}

type alwaysAlive struct{}

func (a *alwaysAlive) Alive(int) bool { return true }
