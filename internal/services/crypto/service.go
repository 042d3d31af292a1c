// Package crypto encrypts backup artifacts before they leave local storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/campuskeep/drbackup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

// Envelope layout is [salt][nonce][ciphertext]. The key is derived per
// file and never persisted.
const (
	Algorithm  = "aes-256-gcm"
	SaltSize   = 32
	NonceSize  = 16
	KeySize    = 32
	Iterations = 100_000

	// EncryptedSuffix marks the encrypted sibling of a dump file.
	EncryptedSuffix = ".enc"

	// MinSecretLength rejects weak secrets before any key derivation.
	MinSecretLength = 32
)

// Service defines the interface for backup encryption.
type Service interface {
	EncryptFile(path, secret string) (*models.EncryptionResult, error)
	DecryptFile(path, secret string) ([]byte, error)
}

// Impl implements the crypto Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new crypto service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

func validateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("encryption secret must be at least %d characters, got %d", MinSecretLength, len(secret))
	}
	return nil
}

func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, Iterations, KeySize, sha256.New)
}

// EncryptFile encrypts path into an .enc sibling and returns the
// envelope parameters. If the sibling already exists its parameters are
// re-derived from the file instead of re-encrypting, so retried
// pipelines do not redo the work.
func (s *Impl) EncryptFile(path, secret string) (*models.EncryptionResult, error) {
	if err := validateSecret(secret); err != nil {
		return nil, err
	}

	start := time.Now()
	encPath := path + EncryptedSuffix

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}

	if _, err := os.Stat(encPath); err == nil {
		return s.describeExisting(path, encPath, info.Size(), start)
	}

	plaintext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, 0, SaltSize+NonceSize+len(plaintext)+aead.Overhead())
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = aead.Seal(envelope, nonce, plaintext, nil)

	if err := os.WriteFile(encPath, envelope, 0o640); err != nil {
		return nil, fmt.Errorf("writing encrypted file: %w", err)
	}

	checksum := sha256.Sum256(envelope)

	result := &models.EncryptionResult{
		SourcePath:    path,
		EncryptedPath: encPath,
		Algorithm:     Algorithm,
		SaltHex:       hex.EncodeToString(salt),
		NonceHex:      hex.EncodeToString(nonce),
		Checksum:      hex.EncodeToString(checksum[:]),
		SizeBefore:    info.Size(),
		SizeAfter:     int64(len(envelope)),
		Duration:      time.Since(start),
	}

	s.logger.Info().
		Str("file", path).
		Int64("size_before", result.SizeBefore).
		Int64("size_after", result.SizeAfter).
		Dur("duration", result.Duration).
		Msg("backup encrypted")

	return result, nil
}

// describeExisting re-derives salt, nonce and checksum from an existing
// envelope without re-encrypting.
func (s *Impl) describeExisting(path, encPath string, sizeBefore int64, start time.Time) (*models.EncryptionResult, error) {
	envelope, err := os.ReadFile(encPath)
	if err != nil {
		return nil, fmt.Errorf("reading existing encrypted file: %w", err)
	}
	if len(envelope) < SaltSize+NonceSize {
		return nil, fmt.Errorf("existing encrypted file %s is truncated", encPath)
	}

	checksum := sha256.Sum256(envelope)

	s.logger.Debug().Str("file", encPath).Msg("reusing existing encrypted artifact")

	return &models.EncryptionResult{
		SourcePath:    path,
		EncryptedPath: encPath,
		Algorithm:     Algorithm,
		SaltHex:       hex.EncodeToString(envelope[:SaltSize]),
		NonceHex:      hex.EncodeToString(envelope[SaltSize : SaltSize+NonceSize]),
		Checksum:      hex.EncodeToString(checksum[:]),
		SizeBefore:    sizeBefore,
		SizeAfter:     int64(len(envelope)),
		Reused:        true,
		Duration:      time.Since(start),
	}, nil
}

// DecryptFile decrypts an envelope file and returns the plaintext. A
// wrong secret or a tampered envelope fails authentication.
func (s *Impl) DecryptFile(path, secret string) ([]byte, error) {
	if err := validateSecret(secret); err != nil {
		return nil, err
	}

	envelope, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading encrypted file: %w", err)
	}
	if len(envelope) < SaltSize+NonceSize {
		return nil, fmt.Errorf("encrypted file %s is truncated", path)
	}

	salt := envelope[:SaltSize]
	nonce := envelope[SaltSize : SaltSize+NonceSize]
	ciphertext := envelope[SaltSize+NonceSize:]

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}

	return plaintext, nil
}

func newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}
