package models

import "time"

// EncryptionResult holds the outcome of encrypting one backup file.
// Salt and nonce are hex-encoded; the key itself is never persisted.
type EncryptionResult struct {
	SourcePath    string
	EncryptedPath string
	Algorithm     string
	SaltHex       string
	NonceHex      string
	Checksum      string // SHA-256 of the entire envelope file
	SizeBefore    int64
	SizeAfter     int64
	Reused        bool // true when an existing envelope was reused
	Duration      time.Duration
	Error         error
}
