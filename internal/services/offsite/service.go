// Package offsite encrypts backups and uploads them to remote object
// storage with bounded retry.
package offsite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/campuskeep/drbackup/internal/models"
	"github.com/campuskeep/drbackup/internal/services/backups"
	"github.com/campuskeep/drbackup/internal/services/crypto"
	"github.com/campuskeep/drbackup/internal/services/lock"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Retry policy: 3 attempts total, exponential backoff from 5s capped
// at 45s.
const (
	MaxRetries   = 2
	BackoffBase  = 5 * time.Second
	BackoffCap   = 45 * time.Second
	attemptTotal = MaxRetries + 1
)

// Service defines the interface for offsite synchronization.
type Service interface {
	Sync(ctx context.Context, file models.BackupFile) (*models.UploadResult, error)
	SyncAll(ctx context.Context) ([]*models.UploadResult, error)
}

// Uploader abstracts the object store so tests can substitute it.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, metadata map[string]string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// S3Uploader uploads to an S3-compatible bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader creates an uploader for the configured bucket. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Uploader(cfg models.OffsiteConfig) *S3Uploader {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return &S3Uploader{
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}
}

// Upload puts the object with its metadata attached.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// Exists confirms the object landed in the bucket.
func (u *S3Uploader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil //nolint:nilerr // missing object is the negative answer
	}
	return true, nil
}

// Impl implements the offsite Service interface.
type Impl struct {
	cfg         models.OffsiteConfig
	lockSvc     lock.Service
	catalog     backups.Service
	cryptoSvc   crypto.Service
	uploader    Uploader
	secret      string
	backoffBase time.Duration
	logger      zerolog.Logger
}

// New creates a new offsite sync service.
func New(logger zerolog.Logger, cfg models.OffsiteConfig, lockSvc lock.Service, catalog backups.Service, cryptoSvc crypto.Service, secret string) *Impl {
	return &Impl{
		cfg:         cfg,
		lockSvc:     lockSvc,
		catalog:     catalog,
		cryptoSvc:   cryptoSvc,
		uploader:    NewS3Uploader(cfg),
		secret:      secret,
		backoffBase: BackoffBase,
		logger:      logger,
	}
}

// NewWithUploader creates an offsite sync service with a custom
// uploader (for testing).
func NewWithUploader(logger zerolog.Logger, cfg models.OffsiteConfig, lockSvc lock.Service, catalog backups.Service, cryptoSvc crypto.Service, secret string, uploader Uploader) *Impl {
	svc := New(logger, cfg, lockSvc, catalog, cryptoSvc, secret)
	svc.uploader = uploader
	return svc
}

// Key derives the deterministic bucket key for a backup file.
func (s *Impl) Key(file models.BackupFile) string {
	return path.Join(s.cfg.Prefix, file.Name+crypto.EncryptedSuffix)
}

// Sync encrypts and uploads a single backup file.
func (s *Impl) Sync(ctx context.Context, file models.BackupFile) (*models.UploadResult, error) {
	acquired, err := s.lockSvc.Acquire(models.OpOffsiteSync)
	if err != nil {
		return nil, fmt.Errorf("acquiring offsite-sync lock: %w", err)
	}
	if !acquired {
		return &models.UploadResult{
			File:  file.Path,
			Error: fmt.Errorf("offsite-sync lock is held by another process"),
		}, nil
	}
	defer s.releaseLock()

	return s.syncOne(ctx, file), nil
}

// SyncAll uploads every backup in the directory. One file's failure
// does not abort the rest of the batch.
func (s *Impl) SyncAll(ctx context.Context) ([]*models.UploadResult, error) {
	files, err := s.catalog.List()
	if err != nil {
		return nil, err
	}

	acquired, err := s.lockSvc.Acquire(models.OpOffsiteSync)
	if err != nil {
		return nil, fmt.Errorf("acquiring offsite-sync lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("offsite-sync lock is held by another process")
	}
	defer s.releaseLock()

	results := make([]*models.UploadResult, 0, len(files))
	for _, f := range files {
		results = append(results, s.syncOne(ctx, f))
	}
	return results, nil
}

func (s *Impl) releaseLock() {
	if err := s.lockSvc.Release(models.OpOffsiteSync); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release offsite-sync lock")
	}
}

func (s *Impl) syncOne(ctx context.Context, file models.BackupFile) *models.UploadResult {
	start := time.Now()
	result := &models.UploadResult{
		File: file.Path,
		Key:  s.Key(file),
	}

	enc, err := s.cryptoSvc.EncryptFile(file.Path, s.secret)
	if err != nil {
		result.Error = fmt.Errorf("encrypting %s: %w", file.Name, err)
		result.Duration = time.Since(start)
		return result
	}
	result.Reused = enc.Reused

	body, err := os.ReadFile(enc.EncryptedPath)
	if err != nil {
		result.Error = fmt.Errorf("reading encrypted file: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	metadata := metadataFor(file, enc)

	backoff := retry.WithMaxRetries(MaxRetries, retry.WithCappedDuration(BackoffCap, retry.NewExponential(s.backoffBase)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		result.Attempts++
		if err := s.uploader.Upload(ctx, result.Key, body, metadata); err != nil {
			s.logger.Warn().
				Err(err).
				Str("key", result.Key).
				Int("attempt", result.Attempts).
				Int("max_attempts", attemptTotal).
				Msg("upload attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		result.Error = fmt.Errorf("upload failed after %d attempts: %w", result.Attempts, err)
		result.Duration = time.Since(start)
		return result
	}

	exists, err := s.uploader.Exists(ctx, result.Key)
	if err != nil || !exists {
		result.Error = fmt.Errorf("upload confirmation failed for %s", result.Key)
		result.Duration = time.Since(start)
		return result
	}

	result.Uploaded = true
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("file", file.Name).
		Str("key", result.Key).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration).
		Msg("backup synced offsite")

	return result
}

// metadataFor flattens the upload metadata into the string map the
// object store accepts.
func metadataFor(file models.BackupFile, enc *models.EncryptionResult) map[string]string {
	meta := models.UploadMetadata{
		OriginalName: file.Name,
		Algorithm:    enc.Algorithm,
		SaltHex:      enc.SaltHex,
		NonceHex:     enc.NonceHex,
		Checksum:     enc.Checksum,
		SizeBefore:   enc.SizeBefore,
		SizeAfter:    enc.SizeAfter,
		UploadedAt:   time.Now().UTC(),
	}

	return map[string]string{
		"original-name": meta.OriginalName,
		"algorithm":     meta.Algorithm,
		"salt":          meta.SaltHex,
		"nonce":         meta.NonceHex,
		"checksum":      meta.Checksum,
		"size-before":   strconv.FormatInt(meta.SizeBefore, 10),
		"size-after":    strconv.FormatInt(meta.SizeAfter, 10),
		"uploaded-at":   meta.UploadedAt.Format(time.RFC3339),
	}
}
