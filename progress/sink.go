package progress

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Sink consumes progress snapshots. Emit is best-effort: implementations must
// never propagate their own failures back into the upload.
type Sink interface {
	Emit(Snapshot)
}

// NopSink discards all snapshots.
type NopSink struct{}

// Emit ...
func (NopSink) Emit(Snapshot) {}

// FileSink overwrites a well-known JSON file on every emission so an external
// UI can poll the latest state.
type FileSink struct {
	path   string
	logger log.Logger

	mu       sync.Mutex
	warnOnce bool
}

// NewFileSink creates a FileSink writing to the given path.
func NewFileSink(path string, logger log.Logger) *FileSink {
	return &FileSink{path: path, logger: logger}
}

// DefaultProgressPath returns the conventional progress file location in the
// OS temp dir.
func DefaultProgressPath() string {
	return filepath.Join(os.TempDir(), "owl-control-upload-progress.json")
}

// Emit ...
func (s *FileSink) Emit(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.warnf("marshal progress snapshot: %s", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		s.warnf("write progress file %s: %s", s.path, err)
	}
}

// warnf logs the first write failure only, to avoid spamming on every
// throttled emission when the path is unwritable.
func (s *FileSink) warnf(format string, v ...interface{}) {
	if s.warnOnce {
		return
	}
	s.warnOnce = true
	if s.logger != nil {
		s.logger.Warnf(format, v...)
	}
}

// WriterSink writes one JSON line per snapshot to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink ...
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit ...
func (s *WriterSink) Emit(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = s.w.Write(data)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Snapshot)

// Emit ...
func (f SinkFunc) Emit(snapshot Snapshot) { f(snapshot) }
