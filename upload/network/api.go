package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

type initUploadRequest struct {
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	ChunkSizeBytes int64  `json:"chunk_size_bytes,omitempty"`

	Tags []string `json:"tags,omitempty"`

	VideoFilename        string  `json:"video_filename,omitempty"`
	ControlFilename      string  `json:"control_filename,omitempty"`
	VideoDurationSeconds float64 `json:"video_duration_seconds,omitempty"`
	VideoWidth           int     `json:"video_width,omitempty"`
	VideoHeight          int     `json:"video_height,omitempty"`
	VideoCodec           string  `json:"video_codec,omitempty"`
	VideoFPS             float64 `json:"video_fps,omitempty"`

	UploaderHWID    string `json:"uploader_hwid"`
	UploadTimestamp string `json:"upload_timestamp"`
}

type initUploadResponse struct {
	UploadID       string `json:"upload_id"`
	RecordingID    string `json:"recording_id"`
	TotalChunks    int    `json:"total_chunks"`
	ChunkSizeBytes int64  `json:"chunk_size_bytes"`
	ExpiresAt      int64  `json:"expires_at"`
}

type chunkDestinationRequest struct {
	UploadID    string `json:"upload_id"`
	ChunkNumber int    `json:"chunk_number"`
	ChunkHash   string `json:"chunk_hash"`
}

type chunkDestinationResponse struct {
	UploadURL   string `json:"upload_url"`
	ChunkNumber int    `json:"chunk_number"`
	ExpiresAt   int64  `json:"expires_at"`
}

type completeUploadRequest struct {
	UploadID   string        `json:"upload_id"`
	ChunkEtags []ChunkRecord `json:"chunk_etags"`
}

type completeUploadResponse struct {
	Success     bool   `json:"success"`
	RecordingID string `json:"recording_id"`
	ObjectKey   string `json:"object_key"`
	Message     string `json:"message"`
	Verified    bool   `json:"verified"`
}

type uploadStatusResponse struct {
	UploadID string       `json:"upload_id"`
	Chunks   []ChunkState `json:"chunks"`
}

type abortUploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// APIClient calls the multipart upload control plane over authenticated
// HTTPS. It implements UploadService.
type APIClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	apiKey     string
	logger     log.Logger
}

// NewAPIClient ...
func NewAPIClient(client *retryablehttp.Client, baseURL string, apiKey string, logger log.Logger) *APIClient {
	return &APIClient{
		httpClient: client,
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// InitUpload ...
func (c *APIClient) InitUpload(ctx context.Context, params InitParams) (UploadSession, error) {
	requestBody := initUploadRequest{
		Filename:        params.Filename,
		ContentType:     params.ContentType,
		TotalSizeBytes:  params.TotalSizeBytes,
		ChunkSizeBytes:  params.ChunkSizeHintBytes,
		Tags:            params.Tags,
		UploaderHWID:    params.UploaderHWID,
		UploadTimestamp: params.UploadTimestamp,
	}
	if params.Media != nil {
		requestBody.VideoFilename = params.Media.VideoFilename
		requestBody.ControlFilename = params.Media.ControlFilename
		requestBody.VideoDurationSeconds = params.Media.DurationSeconds
		requestBody.VideoWidth = params.Media.Width
		requestBody.VideoHeight = params.Media.Height
		requestBody.VideoCodec = params.Media.Codec
		requestBody.VideoFPS = params.Media.FPS
	}

	var response initUploadResponse
	url := fmt.Sprintf("%s/upload/multipart/init", c.baseURL)
	if err := c.postJSON(ctx, url, requestBody, &response); err != nil {
		return UploadSession{}, fmt.Errorf("init upload: %w", err)
	}
	if response.UploadID == "" {
		return UploadSession{}, fmt.Errorf("init upload: response is missing upload_id")
	}

	return UploadSession{
		UploadID:       response.UploadID,
		RecordingID:    response.RecordingID,
		TotalChunks:    response.TotalChunks,
		ChunkSizeBytes: response.ChunkSizeBytes,
		ExpiresAt:      response.ExpiresAt,
	}, nil
}

// ChunkDestination ...
func (c *APIClient) ChunkDestination(ctx context.Context, uploadID string, chunkNumber int, contentHash string) (ChunkDestination, error) {
	requestBody := chunkDestinationRequest{
		UploadID:    uploadID,
		ChunkNumber: chunkNumber,
		ChunkHash:   contentHash,
	}

	var response chunkDestinationResponse
	url := fmt.Sprintf("%s/upload/multipart/chunk", c.baseURL)
	if err := c.postJSON(ctx, url, requestBody, &response); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return ChunkDestination{}, fmt.Errorf("get chunk destination: %w", ErrUploadNotFound)
		}
		return ChunkDestination{}, fmt.Errorf("get chunk destination: %w", err)
	}

	return ChunkDestination{
		URL:       response.UploadURL,
		ExpiresAt: response.ExpiresAt,
	}, nil
}

// CompleteUpload ...
func (c *APIClient) CompleteUpload(ctx context.Context, uploadID string, records []ChunkRecord) (CompleteResult, error) {
	requestBody := completeUploadRequest{
		UploadID:   uploadID,
		ChunkEtags: records,
	}

	var response completeUploadResponse
	url := fmt.Sprintf("%s/upload/multipart/complete", c.baseURL)
	if err := c.postJSON(ctx, url, requestBody, &response); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return CompleteResult{}, fmt.Errorf("complete upload: %w", ErrUploadNotFound)
		}
		return CompleteResult{}, fmt.Errorf("complete upload: %w", err)
	}

	return CompleteResult{
		Success:     response.Success,
		RecordingID: response.RecordingID,
		ObjectKey:   response.ObjectKey,
		Message:     response.Message,
		Verified:    response.Verified,
	}, nil
}

// UploadStatus ...
func (c *APIClient) UploadStatus(ctx context.Context, uploadID string) (UploadStatus, error) {
	url := fmt.Sprintf("%s/upload/multipart/status/%s", c.baseURL, uploadID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return UploadStatus{}, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadStatus{}, fmt.Errorf("upload status: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return UploadStatus{}, ErrUploadNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return UploadStatus{}, unwrapError(resp)
	}

	var response uploadStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return UploadStatus{}, err
	}

	return UploadStatus{
		UploadID: response.UploadID,
		Chunks:   response.Chunks,
	}, nil
}

// AbortUpload ...
func (c *APIClient) AbortUpload(ctx context.Context, uploadID string) error {
	url := fmt.Sprintf("%s/upload/multipart/abort/%s", c.baseURL, uploadID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	defer c.closeBody(resp.Body)

	// Aborting a session the server already dropped counts as success.
	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debugf("Abort for unknown upload %s, treating as already aborted", uploadID)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return unwrapError(resp)
	}

	var response abortUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return err
	}
	if !response.Success {
		return fmt.Errorf("abort rejected: %s", response.Message)
	}
	return nil
}

func (c *APIClient) postJSON(ctx context.Context, url string, requestBody interface{}, response interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(response)
}

func (c *APIClient) setHeaders(req *retryablehttp.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func isStatus(err error, statusCode int) bool {
	var se *statusError
	return errors.As(err, &se) && se.statusCode == statusCode
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return &statusError{statusCode: resp.StatusCode, body: string(errorResp)}
}
