package validation

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDB records the lifecycle calls of a validation run.
type mockDB struct {
	createErr  error
	restoreErr error
	dropErr    error
	// restoreBlocks makes RestoreDump hang until its context expires.
	restoreBlocks bool

	created  []string
	restored []string
	dropped  []string
}

func (m *mockDB) CreateDatabase(ctx context.Context, name string) error {
	m.created = append(m.created, name)
	return m.createErr
}

func (m *mockDB) DropDatabase(ctx context.Context, name string) error {
	m.dropped = append(m.dropped, name)
	return m.dropErr
}

func (m *mockDB) DatabaseExists(ctx context.Context, name string) (bool, error) { return false, nil }

func (m *mockDB) TerminateConnections(ctx context.Context, name string) error { return nil }

func (m *mockDB) RestoreDump(ctx context.Context, name, dumpPath string) error {
	m.restored = append(m.restored, name)
	if m.restoreBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.restoreErr
}

func (m *mockDB) ScalarQuery(ctx context.Context, database, query string) (string, error) {
	return "", nil
}

func (m *mockDB) IsReplica(ctx context.Context) (bool, error) { return false, nil }

// stubChecks returns a fixed battery outcome.
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

func writeDump(t *testing.T, content string) models.BackupFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campuskeep_2026-08-21_00-00-00.sql")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return models.BackupFile{Path: path, Name: filepath.Base(path), SizeBytes: int64(len(content))}
}

func TestEphemeralName(t *testing.T) {
	name := EphemeralName()
	assert.True(t, strings.HasPrefix(name, EphemeralPrefix))
	assert.Len(t, name, len(EphemeralPrefix)+12)
	assert.NotEqual(t, name, EphemeralName())
}

func TestValidate_Success(t *testing.T) {
	db := &mockDB{}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true})

	result, err := svc.Validate(context.Background(), writeDump(t, "dump"))
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.Passed)
	require.Len(t, result.Checks, 1)
	assert.True(t, strings.HasPrefix(result.EphemeralDB, EphemeralPrefix))

	// Created, restored into and dropped the same throwaway database.
	require.Len(t, db.created, 1)
	assert.Equal(t, []string{db.created[0]}, db.restored)
	assert.Equal(t, []string{db.created[0]}, db.dropped)
}

func TestValidate_FailedChecksReported(t *testing.T) {
	db := &mockDB{}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: false})

	result, err := svc.Validate(context.Background(), writeDump(t, "dump"))
	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.False(t, result.Passed)
	assert.Len(t, db.dropped, 1)
}

func TestValidate_RestoreErrorStillDropsDatabase(t *testing.T) {
	db := &mockDB{restoreErr: errors.New("syntax error in dump")}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true})

	result, err := svc.Validate(context.Background(), writeDump(t, "dump"))
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "restore failed")
	assert.False(t, result.Passed)
	assert.Empty(t, result.Checks)

	require.Len(t, db.created, 1)
	assert.Equal(t, db.created, db.dropped)
}

func TestValidate_RestoreTimeout(t *testing.T) {
	db := &mockDB{restoreBlocks: true}
	svc := NewWithTimeout(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true}, 20*time.Millisecond)

	result, err := svc.Validate(context.Background(), writeDump(t, "dump"))
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "did not finish within")

	// The ephemeral database is dropped even after a timeout.
	assert.Len(t, db.dropped, 1)
}

func TestValidate_CreateErrorSkipsRestore(t *testing.T) {
	db := &mockDB{createErr: errors.New("permission denied")}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true})

	result, err := svc.Validate(context.Background(), writeDump(t, "dump"))
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "creating ephemeral database")
	assert.Empty(t, db.restored)
	assert.Empty(t, db.dropped)
}

func TestValidate_LockBusy(t *testing.T) {
	lockDir := t.TempDir()
	other := lock.NewWithProbe(testLogger(), lockDir, os.Getpid()+1, &alwaysAlive{})
	acquired, err := other.Acquire(models.OpValidation)
	require.NoError(t, err)
	require.True(t, acquired)

	db := &mockDB{}
	holder := lock.NewWithProbe(testLogger(), lockDir, os.Getpid(), &alwaysAlive{})
	svc := New(testLogger(), holder, db, &stubChecks{passed: true})

	result, err := svc.Validate(context.Background(), writeDump(t, "dump"))
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "held by another process")
	assert.Empty(t, db.created)

	// The foreign lock survives the refused run.
	record, err := other.CurrentHolder(models.OpValidation)
	require.NoError(t, err)
	require.NotNil(t, record)
}

func TestValidate_MissingFile(t *testing.T) {
	db := &mockDB{}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true})

	result, err := svc.Validate(context.Background(), models.BackupFile{Path: "/backups/nope.sql"})
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "does not exist")
	assert.Empty(t, db.created)
}

func TestValidate_EmptyFile(t *testing.T) {
	db := &mockDB{}
	svc := New(testLogger(), lock.New(testLogger(), t.TempDir()), db, &stubChecks{passed: true})

	result, err := svc.Validate(context.Background(), writeDump(t, ""))
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "is empty")
	assert.Empty(t, db.created)
}

type alwaysAlive struct{}

func (a *alwaysAlive) Alive(int) bool { return true }
