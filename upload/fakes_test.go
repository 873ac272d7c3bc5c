package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/openworldlabs/owl-control-uploader/progress"
	"github.com/openworldlabs/owl-control-uploader/upload/network"
)

type fakeIdentity struct{}

func (fakeIdentity) HardwareID() string { return "fake-hwid" }

// fakeService records every control-plane call the orchestrator makes.
type fakeService struct {
	mu sync.Mutex

	session network.UploadSession
	initErr error

	completeResult network.CompleteResult
	completeErr    error

	abortErr error

	initParams      []network.InitParams
	completeRecords [][]network.ChunkRecord
	abortedIDs      []string
}

func (s *fakeService) InitUpload(ctx context.Context, params network.InitParams) (network.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initParams = append(s.initParams, params)
	if s.initErr != nil {
		return network.UploadSession{}, s.initErr
	}
	return s.session, nil
}

func (s *fakeService) ChunkDestination(ctx context.Context, uploadID string, chunkNumber int, contentHash string) (network.ChunkDestination, error) {
	return network.ChunkDestination{URL: "https://bucket.example.com/" + uploadID}, nil
}

func (s *fakeService) CompleteUpload(ctx context.Context, uploadID string, records []network.ChunkRecord) (network.CompleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]network.ChunkRecord, len(records))
	copy(copied, records)
	s.completeRecords = append(s.completeRecords, copied)
	if s.completeErr != nil {
		return network.CompleteResult{}, s.completeErr
	}
	return s.completeResult, nil
}

func (s *fakeService) UploadStatus(ctx context.Context, uploadID string) (network.UploadStatus, error) {
	return network.UploadStatus{UploadID: uploadID}, nil
}

func (s *fakeService) AbortUpload(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortedIDs = append(s.abortedIDs, uploadID)
	return s.abortErr
}

// fakeSender succeeds immediately except for chunk numbers listed in
// failChunks, and records the hash of every chunk it was given.
type fakeSender struct {
	failChunks map[int]error

	sentChunks []int
	sentHashes []string
	sentBytes  []int
}

func (s *fakeSender) Send(ctx context.Context, session network.UploadSession, chunkNumber int, data []byte, reporter *progress.Reporter) (string, error) {
	if err, ok := s.failChunks[chunkNumber]; ok {
		return "", err
	}
	sum := sha256.Sum256(data)
	s.sentChunks = append(s.sentChunks, chunkNumber)
	s.sentHashes = append(s.sentHashes, hex.EncodeToString(sum[:]))
	s.sentBytes = append(s.sentBytes, len(data))
	if reporter != nil {
		reporter.Add(int64(len(data)))
	}
	return fmt.Sprintf("etag-%d", chunkNumber), nil
}
