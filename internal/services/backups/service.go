// Package backups catalogs the shared backup directory.
package backups

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/crypto"
	"github.com/rs/zerolog"
)

// timestampPattern matches the creation time encoded in backup
// filenames, e.g. campuskeep_2026-08-21_00-00-00.sql.
var timestampPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})_(\d{2})-(\d{2})-(\d{2})`)

const timestampLayout = "2006-01-02_15-04-05"

// Service defines the interface for backup directory listing.
type Service interface {
	List() ([]models.BackupFile, error)
	Latest() (*models.BackupFile, error)
}

// Impl implements the backups Service interface.
type Impl struct {
	dir    string
	logger zerolog.Logger
}

// New creates a new backup catalog over dir.
func New(logger zerolog.Logger, dir string) *Impl {
	return &Impl{dir: dir, logger: logger}
}

// ParseTimestamp recovers the creation time encoded in a backup
// filename. The second return value is false when the name carries no
// timestamp.
func ParseTimestamp(name string) (time.Time, bool) {
	match := timestampPattern.FindStringSubmatch(name)
	if match == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(timestampLayout, fmt.Sprintf("%s_%s-%s-%s", match[1], match[2], match[3], match[4]), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// List returns all dump files in the backup directory ordered oldest
// first. Encrypted siblings and lock files are not backups and are
// skipped.
func (s *Impl) List() ([]models.BackupFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var files []models.BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isDump(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable entry")
			continue
		}

		ts, ok := ParseTimestamp(name)
		if !ok {
			ts = info.ModTime()
		}

		files = append(files, models.BackupFile{
			Path:      filepath.Join(s.dir, name),
			Name:      name,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
			Timestamp: ts,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Timestamp.Before(files[j].Timestamp)
	})

	s.logger.Debug().Int("count", len(files)).Str("dir", s.dir).Msg("backup directory listed")
	return files, nil
}

// Latest returns the newest backup, or an error when the directory
// holds none.
func (s *Impl) Latest() (*models.BackupFile, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no backup files found in %s", s.dir)
	}
	latest := files[len(files)-1]
	return &latest, nil
}

func isDump(name string) bool {
	if strings.HasSuffix(name, crypto.EncryptedSuffix) {
		return false
	}
	return strings.HasSuffix(name, ".sql") || strings.HasSuffix(name, ".dump")
}
