package models

import "time"

// UploadMetadata is attached to the remote object as string metadata.
// It is bookkeeping for operators, not application state.
type UploadMetadata struct {
	OriginalName string
	Algorithm    string
	SaltHex      string
	NonceHex     string
	Checksum     string
	SizeBefore   int64
	SizeAfter    int64
	UploadedAt   time.Time
}

// UploadResult holds the outcome of syncing one file offsite.
type UploadResult struct {
	File     string
	Key      string
	Attempts int
	Uploaded bool
	Reused   bool // encrypted sibling already existed
	Duration time.Duration
	Error    error
}
