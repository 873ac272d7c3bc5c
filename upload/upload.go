// Package upload drives the end-to-end lifecycle of one multipart upload
// session: init, sequential chunk transfer, completion, and best-effort abort
// on failure.
package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/openworldlabs/owl-control-uploader/progress"
	"github.com/openworldlabs/owl-control-uploader/upload/network"
)

// abortTimeout bounds the best-effort cleanup call, which runs on its own
// context because the upload's context may already be cancelled.
const abortTimeout = 30 * time.Second

// ChunkSender transfers one chunk and returns its ETag. Implemented by
// transmitter.Transmitter; tests substitute fakes.
type ChunkSender interface {
	Send(ctx context.Context, session network.UploadSession, chunkNumber int, data []byte, reporter *progress.Reporter) (string, error)
}

// IdentityProvider supplies the uploader's hardware identity for the init
// call. Implemented by hwid.Provider.
type IdentityProvider interface {
	HardwareID() string
}

// Params describes one upload. Source must yield exactly TotalSizeBytes
// bytes; tags and media metadata pass through to the init call opaquely.
type Params struct {
	Source         io.Reader
	TotalSizeBytes int64
	Filename       string
	ContentType    string
	Tags           []string
	Media          *network.MediaMetadata

	// ChunkSizeHintBytes asks the server for smaller chunks (degraded
	// network mode). Zero lets the server decide.
	ChunkSizeHintBytes int64
}

// Result reports a finished upload.
type Result struct {
	RecordingID    string
	ObjectKey      string
	Verified       bool
	BytesUploaded  int64
	ChunksUploaded int
}

// Orchestrator owns the upload session state machine. All collaborators are
// injected; it keeps no state between Upload calls.
type Orchestrator struct {
	service  network.UploadService
	sender   ChunkSender
	sink     progress.Sink
	identity IdentityProvider
	logger   log.Logger

	now func() time.Time
}

// NewOrchestrator ...
func NewOrchestrator(service network.UploadService, sender ChunkSender, sink progress.Sink, identity IdentityProvider, logger log.Logger) *Orchestrator {
	if sink == nil {
		sink = progress.NopSink{}
	}
	return &Orchestrator{
		service:  service,
		sender:   sender,
		sink:     sink,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Upload runs one session to completion. On any failure after a session
// exists, the session is aborted best-effort and the original error is
// returned.
func (o *Orchestrator) Upload(ctx context.Context, params Params) (Result, error) {
	if params.Source == nil {
		return Result{}, fmt.Errorf("upload source is nil")
	}
	if params.TotalSizeBytes <= 0 {
		return Result{}, fmt.Errorf("total size must be positive, got %d", params.TotalSizeBytes)
	}
	if params.Filename == "" {
		return Result{}, fmt.Errorf("filename is empty")
	}

	session, err := o.service.InitUpload(ctx, network.InitParams{
		Filename:           params.Filename,
		ContentType:        params.ContentType,
		TotalSizeBytes:     params.TotalSizeBytes,
		ChunkSizeHintBytes: params.ChunkSizeHintBytes,
		Tags:               params.Tags,
		Media:              params.Media,
		UploaderHWID:       o.identity.HardwareID(),
		UploadTimestamp:    o.now().Format(time.RFC3339),
	})
	if err != nil {
		// No session exists yet, nothing to abort.
		return Result{}, fmt.Errorf("init upload session: %w", err)
	}

	o.logger.Infof("Upload session %s: %s in %d chunks of %s",
		session.UploadID,
		units.HumanSizeWithPrecision(float64(params.TotalSizeBytes), 3),
		session.TotalChunks,
		units.HumanSizeWithPrecision(float64(session.ChunkSizeBytes), 3))

	reporter := progress.NewReporter(o.sink, params.TotalSizeBytes, session.TotalChunks)

	result, err := o.transfer(ctx, session, params, reporter)
	if err != nil {
		reporter.Fail()
		o.abort(session.UploadID)
		return Result{}, err
	}

	reporter.Complete()
	o.logger.Donef("Upload complete: recording %s stored as %s (verified=%t)",
		result.RecordingID, result.ObjectKey, result.Verified)
	return result, nil
}

// transfer sends all chunks and completes the session. Any returned error
// makes the caller abort the session.
func (o *Orchestrator) transfer(ctx context.Context, session network.UploadSession, params Params, reporter *progress.Reporter) (Result, error) {
	if session.ChunkSizeBytes <= 0 || session.TotalChunks <= 0 {
		return Result{}, fmt.Errorf("server returned invalid chunking policy: %d chunks of %d bytes",
			session.TotalChunks, session.ChunkSizeBytes)
	}

	reporter.Start()

	records := make([]network.ChunkRecord, 0, session.TotalChunks)
	buffer := make([]byte, session.ChunkSizeBytes)
	var bytesUploaded int64

	for chunkNumber := 1; chunkNumber <= session.TotalChunks; chunkNumber++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("upload cancelled before chunk %d: %w", chunkNumber, err)
		}

		n, err := io.ReadFull(params.Source, buffer)
		if err == io.EOF {
			// Server chunk counts are advisory, derived from the declared
			// total size; an early end of the source is not an error.
			o.logger.Infof("Source exhausted after %d of %d chunks", chunkNumber-1, session.TotalChunks)
			break
		}
		shortChunk := err == io.ErrUnexpectedEOF
		if err != nil && !shortChunk {
			return Result{}, fmt.Errorf("read chunk %d: %w", chunkNumber, err)
		}

		reporter.SetChunk(chunkNumber)

		etag, err := o.sender.Send(ctx, session, chunkNumber, buffer[:n], reporter)
		if err != nil {
			return Result{}, err
		}

		records = append(records, network.ChunkRecord{ChunkNumber: chunkNumber, ETag: etag})
		bytesUploaded += int64(n)
		reporter.Commit(bytesUploaded)

		o.logger.Debugf("Uploaded chunk %d/%d (%d bytes, ETag: %s)",
			chunkNumber, session.TotalChunks, n, etag)

		if shortChunk {
			o.logger.Infof("Short final chunk %d (%d bytes), ending transfer", chunkNumber, n)
			break
		}
	}

	o.logger.Debugf("Completing upload with %d chunks", len(records))
	completion, err := o.service.CompleteUpload(ctx, session.UploadID, records)
	if err != nil {
		return Result{}, fmt.Errorf("complete upload: %w", err)
	}
	if !completion.Success {
		return Result{}, &CompletionError{Message: completion.Message}
	}

	return Result{
		RecordingID:    completion.RecordingID,
		ObjectKey:      completion.ObjectKey,
		Verified:       completion.Verified,
		BytesUploaded:  bytesUploaded,
		ChunksUploaded: len(records),
	}, nil
}

// abort is best-effort cleanup: failures are logged and never mask the
// original upload error.
func (o *Orchestrator) abort(uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	o.logger.Infof("Aborting upload session %s", uploadID)
	if err := o.service.AbortUpload(ctx, uploadID); err != nil {
		o.logger.Warnf("Failed to abort upload %s: %s", uploadID, err)
	}
}

// CompletionError is returned when the server's completion payload reports
// failure, regardless of the HTTP transport status.
type CompletionError struct {
	Message string
}

// Error ...
func (e *CompletionError) Error() string {
	if e.Message == "" {
		return "server rejected upload completion"
	}
	return fmt.Sprintf("server rejected upload completion: %s", e.Message)
}
