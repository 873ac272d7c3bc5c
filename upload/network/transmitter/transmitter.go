// Package transmitter uploads individual chunks to their server-assigned
// destinations, with content hashing, per-attempt retry and backoff.
package transmitter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/openworldlabs/owl-control-uploader/progress"
	"github.com/openworldlabs/owl-control-uploader/upload/network"
)

// Transmitter sends one chunk at a time. Every attempt requests a fresh
// destination URL from the service, because destinations are short-lived and
// bound to the chunk's content hash.
type Transmitter struct {
	service    network.UploadService
	config     Config
	httpClient *http.Client
	logger     log.Logger

	// sleep is swapped out by tests to observe backoff delays.
	sleep func(time.Duration)
}

// New creates a Transmitter for the given service.
func New(service network.UploadService, config Config, logger log.Logger) *Transmitter {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Transmitter{
		service:    service,
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// Send uploads one chunk and returns the destination's ETag. The chunk's
// content hash is computed once up front, so retried attempts present the
// same hash to the server. reporter may be nil.
func (t *Transmitter) Send(ctx context.Context, session network.UploadSession, chunkNumber int, data []byte, reporter *progress.Reporter) (string, error) {
	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	var lastErr error
	for attempt := 0; attempt < t.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("chunk %d upload cancelled: %w", chunkNumber, ctx.Err())
		default:
		}

		if attempt > 0 {
			backoff := t.config.BackoffBase * (1 << (attempt - 1))
			t.logger.Warnf("Chunk %d/%d attempt %d failed, retrying in %v: %s",
				chunkNumber, session.TotalChunks, attempt, backoff, lastErr)
			t.sleep(backoff)
		}

		t.logger.Debugf("Uploading chunk %d/%d (attempt %d/%d)",
			chunkNumber, session.TotalChunks, attempt+1, t.config.MaxAttempts)

		etag, err := t.sendOnce(ctx, session, chunkNumber, contentHash, data, reporter)
		if err == nil {
			return etag, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", fmt.Errorf("chunk %d upload cancelled: %w", chunkNumber, ctx.Err())
		}
	}

	t.logger.Errorf("Chunk %d/%d failed after %d attempts: %s",
		chunkNumber, session.TotalChunks, t.config.MaxAttempts, lastErr)
	return "", &ChunkError{
		ChunkNumber: chunkNumber,
		TotalChunks: session.TotalChunks,
		Attempts:    t.config.MaxAttempts,
		Err:         lastErr,
	}
}

func (t *Transmitter) sendOnce(ctx context.Context, session network.UploadSession, chunkNumber int, contentHash string, data []byte, reporter *progress.Reporter) (string, error) {
	destination, err := t.service.ChunkDestination(ctx, session.UploadID, chunkNumber, contentHash)
	if err != nil {
		return "", err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, t.config.AttemptTimeout)
	defer cancel()

	var body io.Reader = bytes.NewReader(data)
	if reporter != nil {
		body = &countingReader{r: body, reporter: reporter}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPut, destination.URL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return "", fmt.Errorf("chunk upload failed with status %d: %s", resp.StatusCode, string(errorBody[:n]))
	}

	etag := strings.Trim(resp.Header.Get("ETag"), "\"")
	if etag == "" {
		// A 2xx without an integrity token is a protocol violation, not a
		// silent success.
		return "", fmt.Errorf("no ETag in response")
	}

	return etag, nil
}

// countingReader reports bytes to the progress reporter as the HTTP client
// consumes the request body. Emission rate limiting is the reporter's job.
type countingReader struct {
	r        io.Reader
	reporter *progress.Reporter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.reporter.Add(int64(n))
	}
	return n, err
}

// ChunkError is the terminal failure of a chunk after all retry attempts.
type ChunkError struct {
	ChunkNumber int
	TotalChunks int
	Attempts    int
	Err         error
}

// Error ...
func (e *ChunkError) Error() string {
	return fmt.Sprintf("upload chunk %d/%d failed after %d attempts: %s",
		e.ChunkNumber, e.TotalChunks, e.Attempts, e.Err)
}

// Unwrap ...
func (e *ChunkError) Unwrap() error {
	return e.Err
}
