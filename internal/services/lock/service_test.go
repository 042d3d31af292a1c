package lock

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	alive map[int]bool
}

func (p *fakeProbe) Alive(pid int) bool {
	return p.alive[pid]
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestAcquire_Success(t *testing.T) {
	dir := t.TempDir()
	svc := NewWithProbe(testLogger(), dir, 100, &fakeProbe{alive: map[int]bool{100: true}})

	acquired, err := svc.Acquire(models.OpValidation)
	require.NoError(t, err)
	assert.True(t, acquired)

	holder, err := svc.CurrentHolder(models.OpValidation)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, 100, holder.PID)
	assert.Equal(t, models.OpValidation, holder.Operation)
	assert.WithinDuration(t, time.Now(), holder.StartTime, 5*time.Second)
}

func TestAcquire_HeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	probe := &fakeProbe{alive: map[int]bool{100: true, 200: true}}

	first := NewWithProbe(testLogger(), dir, 100, probe)
	acquired, err := first.Acquire(models.OpRotation)
	require.NoError(t, err)
	require.True(t, acquired)

	second := NewWithProbe(testLogger(), dir, 200, probe)
	acquired, err = second.Acquire(models.OpRotation)
	require.NoError(t, err)
	assert.False(t, acquired)

	// The original holder record is untouched.
	holder, err := second.CurrentHolder(models.OpRotation)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, 100, holder.PID)
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	probe := &fakeProbe{alive: map[int]bool{200: true}} // 100 is dead

	dead := NewWithProbe(testLogger(), dir, 100, probe)
	acquired, err := dead.Acquire(models.OpRestore)
	require.NoError(t, err)
	require.True(t, acquired)

	second := NewWithProbe(testLogger(), dir, 200, probe)
	acquired, err = second.Acquire(models.OpRestore)
	require.NoError(t, err)
	assert.True(t, acquired)

	holder, err := second.CurrentHolder(models.OpRestore)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, 200, holder.PID)
}

func TestAcquire_SeparateOperationClasses(t *testing.T) {
	dir := t.TempDir()
	probe := &fakeProbe{alive: map[int]bool{100: true, 200: true}}

	first := NewWithProbe(testLogger(), dir, 100, probe)
	acquired, err := first.Acquire(models.OpValidation)
	require.NoError(t, err)
	require.True(t, acquired)

	// A different operation class is unaffected.
	second := NewWithProbe(testLogger(), dir, 200, probe)
	acquired, err = second.Acquire(models.OpOffsiteSync)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRelease_ByOwner(t *testing.T) {
	dir := t.TempDir()
	svc := NewWithProbe(testLogger(), dir, 100, &fakeProbe{alive: map[int]bool{100: true}})

	acquired, err := svc.Acquire(models.OpValidation)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, svc.Release(models.OpValidation))

	holder, err := svc.CurrentHolder(models.OpValidation)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestRelease_ByNonOwnerIsNoOp(t *testing.T) {
	dir := t.TempDir()
	probe := &fakeProbe{alive: map[int]bool{100: true, 200: true}}

	owner := NewWithProbe(testLogger(), dir, 100, probe)
	acquired, err := owner.Acquire(models.OpValidation)
	require.NoError(t, err)
	require.True(t, acquired)

	other := NewWithProbe(testLogger(), dir, 200, probe)
	require.NoError(t, other.Release(models.OpValidation))

	// The owner's lock survives.
	holder, err := owner.CurrentHolder(models.OpValidation)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, 100, holder.PID)
}

func TestRelease_NoLockIsNoOp(t *testing.T) {
	dir := t.TempDir()
	svc := NewWithProbe(testLogger(), dir, 100, &fakeProbe{})

	assert.NoError(t, svc.Release(models.OpValidation))
}

func TestCurrentHolder_NoLock(t *testing.T) {
	dir := t.TempDir()
	svc := NewWithProbe(testLogger(), dir, 100, &fakeProbe{})

	holder, err := svc.CurrentHolder(models.OpBackup)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestAcquire_CorruptRecordIsNotStolen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, string(models.OpValidation)+".lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o640))

	svc := NewWithProbe(testLogger(), dir, 100, &fakeProbe{alive: map[int]bool{100: true}})
	acquired, err := svc.Acquire(models.OpValidation)
	assert.Error(t, err)
	assert.False(t, acquired)
}

func TestLockRecord_IsSingleJSONDocument(t *testing.T) {
	dir := t.TempDir()
	svc := NewWithProbe(testLogger(), dir, 100, &fakeProbe{alive: map[int]bool{100: true}})

	acquired, err := svc.Acquire(models.OpRotation)
	require.NoError(t, err)
	require.True(t, acquired)

	data, err := os.ReadFile(filepath.Join(dir, "rotation.lock"))
	require.NoError(t, err)

	var record models.LockRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, 100, record.PID)
}

func TestDefaultProbe_OwnProcess(t *testing.T) {
	probe := &DefaultProbe{}
	assert.True(t, probe.Alive(os.Getpid()))
}
