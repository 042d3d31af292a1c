package models

import "time"

// BackupFile describes one dump file in the shared backup directory.
// Identity is the path; the creation timestamp is recovered from the
// filename (YYYY-MM-DD_HH-MM-SS), falling back to mtime when absent.
type BackupFile struct {
	Path      string
	Name      string
	SizeBytes int64
	ModTime   time.Time
	Timestamp time.Time
}

// Age returns how old the backup is relative to now.
func (f BackupFile) Age(now time.Time) time.Duration {
	return now.Sub(f.Timestamp)
}

// InDetailedWindow reports whether the backup falls inside the detailed
// retention window during which every backup is kept.
func (f BackupFile) InDetailedWindow(now time.Time, window time.Duration) bool {
	return f.Age(now) <= window
}

// IsDailySnapshot reports whether this is the canonical once-a-day
// snapshot, i.e. its filename-encoded hour matches the configured hour.
func (f BackupFile) IsDailySnapshot(dailyHour int) bool {
	return f.Timestamp.Hour() == dailyHour
}
