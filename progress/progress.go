// Package progress computes upload speed, ETA and completion percentage and
// emits structured snapshots to a pluggable sink at a bounded rate.
package progress

import (
	"sync"
	"time"
)

// Phase identifies the lifecycle stage a snapshot belongs to.
const Phase = "upload"

// Snapshot actions.
const (
	ActionStart    = "start"
	ActionProgress = "progress"
	ActionComplete = "complete"
	ActionFailed   = "failed"
)

// Snapshot is one progress emission. It is recomputed on every emit and never
// read back as state.
type Snapshot struct {
	Phase            string  `json:"phase"`
	Action           string  `json:"action"`
	BytesUploaded    int64   `json:"bytes_uploaded"`
	TotalBytes       int64   `json:"total_bytes"`
	Percent          float64 `json:"percent"`
	SpeedBytesPerSec float64 `json:"speed_bytes_per_sec"`
	EtaSeconds       float64 `json:"eta_seconds"`
	CurrentChunk     int     `json:"current_chunk"`
	TotalChunks      int     `json:"total_chunks"`
	Timestamp        int64   `json:"timestamp"`
}

// Reporter tracks the byte counter for one upload session and emits snapshots.
// The reported byte count is monotonically non-decreasing and clamped to the
// total: a retried chunk never rewinds what the consumer has already seen.
type Reporter struct {
	mu sync.Mutex

	sink         Sink
	totalBytes   int64
	totalChunks  int
	currentChunk int
	uploaded     int64
	startTime    time.Time
	lastEmit     time.Time
	minInterval  time.Duration

	now func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithMinInterval overrides the minimum delay between throttled emissions.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reporter) { r.minInterval = d }
}

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a Reporter for a session of the given size. A nil sink
// is replaced with NopSink.
func NewReporter(sink Sink, totalBytes int64, totalChunks int, opts ...Option) *Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	r := &Reporter{
		sink:        sink,
		totalBytes:  totalBytes,
		totalChunks: totalChunks,
		minInterval: 100 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startTime = r.now()
	return r
}

// Start emits the initial snapshot. Call once, before the first chunk.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.now()
	r.emit(ActionStart)
}

// SetChunk records which chunk is currently in flight.
func (r *Reporter) SetChunk(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentChunk = n
}

// Add advances the byte counter by n and emits a throttled progress snapshot.
// Safe to call from the transfer hot path.
func (r *Reporter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(r.uploaded + n)

	if r.now().Sub(r.lastEmit) < r.minInterval {
		return
	}
	r.emit(ActionProgress)
}

// Commit sets the byte counter to the given absolute value after a chunk
// succeeds. Values below the current counter are ignored so that snapshots
// stay monotonic even when a retried attempt re-sent bytes.
func (r *Reporter) Commit(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(bytes)
	r.emit(ActionProgress)
}

// BytesUploaded returns the current reported byte count.
func (r *Reporter) BytesUploaded() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploaded
}

// Complete emits the terminal success snapshot with percent forced to 100.
// The byte counter is left as-is: when the source ended early, the reported
// count stays truthful.
func (r *Reporter) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(ActionComplete)
}

// Fail emits the terminal failure snapshot.
func (r *Reporter) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(ActionFailed)
}

func (r *Reporter) advance(bytes int64) {
	if bytes > r.totalBytes && r.totalBytes > 0 {
		bytes = r.totalBytes
	}
	if bytes > r.uploaded {
		r.uploaded = bytes
	}
}

// emit must be called with the mutex held.
func (r *Reporter) emit(action string) {
	now := r.now()
	r.lastEmit = now
	r.sink.Emit(r.snapshot(action, now))
}

func (r *Reporter) snapshot(action string, now time.Time) Snapshot {
	elapsed := now.Sub(r.startTime).Seconds()

	var speed float64
	if elapsed > 0 {
		speed = float64(r.uploaded) / elapsed
	}

	var percent float64
	if r.totalBytes > 0 {
		percent = float64(r.uploaded) / float64(r.totalBytes) * 100
		if percent > 100 {
			percent = 100
		}
	}
	if action == ActionComplete {
		percent = 100
	}

	var eta float64
	if speed > 0 && r.totalBytes > 0 {
		eta = float64(r.totalBytes-r.uploaded) / speed
	}

	return Snapshot{
		Phase:            Phase,
		Action:           action,
		BytesUploaded:    r.uploaded,
		TotalBytes:       r.totalBytes,
		Percent:          percent,
		SpeedBytesPerSec: speed,
		EtaSeconds:       eta,
		CurrentChunk:     r.currentChunk,
		TotalChunks:      r.totalChunks,
		Timestamp:        now.Unix(),
	}
}
