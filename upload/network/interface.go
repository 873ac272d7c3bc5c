// Package network implements the control-plane client of the multipart
// upload service.
package network

import (
	"context"
	"errors"
)

// ErrUploadNotFound is returned when the server no longer knows the upload
// session (unknown or expired upload ID).
var ErrUploadNotFound = errors.New("upload session not found or expired")

// UploadSession describes a server-created multipart upload session. The
// server owns the chunking policy: chunk size and chunk count are decided at
// init time and are immutable for the session's lifetime.
type UploadSession struct {
	UploadID       string
	RecordingID    string
	TotalChunks    int
	ChunkSizeBytes int64
	// ExpiresAt is a unix timestamp after which the session is invalid.
	ExpiresAt int64
}

// ChunkRecord proves that one chunk was stored: the destination's ETag keyed
// by the 1-based chunk number.
type ChunkRecord struct {
	ChunkNumber int    `json:"chunk_number"`
	ETag        string `json:"etag"`
}

// ChunkDestination is a short-lived, hash-bound URL for uploading one chunk.
type ChunkDestination struct {
	URL string
	// ExpiresAt is a unix timestamp after which the URL is invalid.
	ExpiresAt int64
}

// CompleteResult is the server's verdict on a completed upload. Success is
// authoritative: a 2xx transport status with Success=false is a failure.
type CompleteResult struct {
	Success     bool
	RecordingID string
	ObjectKey   string
	Message     string
	Verified    bool
}

// ChunkState is the server-side status of one chunk, as reported by the
// status operation.
type ChunkState struct {
	ChunkNumber int    `json:"chunk_number"`
	Completed   bool   `json:"completed"`
	ETag        string `json:"etag,omitempty"`
}

// UploadStatus is the advisory per-chunk view of a session. Not used by the
// core retry logic; exposed for external resumption tooling.
type UploadStatus struct {
	UploadID string
	Chunks   []ChunkState
}

// InitParams carries the metadata sent with the init call. Media fields are
// opaque to the client beyond serialization.
type InitParams struct {
	Filename       string
	ContentType    string
	TotalSizeBytes int64
	// ChunkSizeHintBytes asks the server for a smaller chunk size (degraded
	// network mode). Zero means no hint; the server decides.
	ChunkSizeHintBytes int64

	Tags  []string
	Media *MediaMetadata

	UploaderHWID    string
	UploadTimestamp string
}

// MediaMetadata describes the recording inside the archive.
type MediaMetadata struct {
	VideoFilename   string
	ControlFilename string
	DurationSeconds float64
	Width           int
	Height          int
	Codec           string
	FPS             float64
}

// UploadService is the contract the orchestrator depends on. Implemented by
// the HTTP API client; tests substitute fakes.
type UploadService interface {
	// InitUpload creates a session. Fatal on failure: no session exists yet,
	// there is nothing to abort.
	InitUpload(ctx context.Context, params InitParams) (UploadSession, error)

	// ChunkDestination requests a fresh upload URL for one chunk, bound to
	// the chunk's content hash. Returns ErrUploadNotFound for unknown IDs.
	ChunkDestination(ctx context.Context, uploadID string, chunkNumber int, contentHash string) (ChunkDestination, error)

	// CompleteUpload submits the ordered chunk records for server-side
	// assembly and verification.
	CompleteUpload(ctx context.Context, uploadID string, records []ChunkRecord) (CompleteResult, error)

	// UploadStatus reports per-chunk completion state. Advisory.
	UploadStatus(ctx context.Context, uploadID string) (UploadStatus, error)

	// AbortUpload releases partial server-side storage. Idempotent: aborting
	// an already-aborted or completed session is not an error.
	AbortUpload(ctx context.Context, uploadID string) error
}
