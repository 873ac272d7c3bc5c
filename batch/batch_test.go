package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openworldlabs/owl-control-uploader/archive"
	"github.com/openworldlabs/owl-control-uploader/sessions"
	"github.com/openworldlabs/owl-control-uploader/upload"
)

type fakeSource struct {
	sessions []sessions.Session
	err      error
}

func (f *fakeSource) Scan() ([]sessions.Session, error) {
	return f.sessions, f.err
}

type fakePacker struct {
	t      *testing.T
	packed []string
	err    error
}

func (f *fakePacker) Pack(s sessions.Session) (archive.Archive, error) {
	if f.err != nil {
		return archive.Archive{}, f.err
	}
	f.packed = append(f.packed, s.Dir)
	path := filepath.Join(f.t.TempDir(), "session.tar")
	payload := []byte("archive bytes")
	require.NoError(f.t, os.WriteFile(path, payload, 0o644))
	return archive.Archive{
		Path:        path,
		ContentType: archive.ContentTypeTar,
		SizeBytes:   int64(len(payload)),
	}, nil
}

type fakeUploader struct {
	uploads []upload.Params
}

func (f *fakeUploader) Upload(_ context.Context, params upload.Params) (upload.Result, error) {
	f.uploads = append(f.uploads, params)
	return upload.Result{
		RecordingID:    "rec-1",
		BytesUploaded:  params.TotalSizeBytes,
		ChunksUploaded: 1,
	}, nil
}

func writeSession(t *testing.T, root, game, name string, durationSeconds float64, videoSize int) sessions.Session {
	t.Helper()

	dir := filepath.Join(root, game, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recording.mp4"), make([]byte, videoSize), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inputs.csv"), []byte("ts,key\n"), 0o644))
	metadata := []byte(`{"duration": ` + strconv.FormatFloat(durationSeconds, 'f', -1, 64) + `}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), metadata, 0o644))

	return sessions.Session{Dir: dir, VideoFile: "recording.mp4", ControlFile: "inputs.csv"}
}

func TestRun_UploadsAndMarksSessions(t *testing.T) {
	root := t.TempDir()
	// 60s at ~2 Mbps keeps the session above the size floor
	session := writeSession(t, root, "portal", "2026-02-01_10-00-00", 60, 16_000_000)

	packer := &fakePacker{t: t}
	uploader := &fakeUploader{}
	runner := NewRunner(&fakeSource{sessions: []sessions.Session{session}}, packer, uploader, Config{
		VideoWidth:  640,
		VideoHeight: 360,
		VideoFPS:    60,
	}, log.NewLogger())

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 0, stats.Invalid)
	assert.Equal(t, []string{session.Dir}, packer.packed)

	require.Len(t, uploader.uploads, 1)
	params := uploader.uploads[0]
	assert.Equal(t, archive.ContentTypeTar, params.ContentType)
	assert.Contains(t, params.Tags, "portal")
	require.NotNil(t, params.Media)
	assert.Equal(t, "recording.mp4", params.Media.VideoFilename)
	assert.Equal(t, float64(60), params.Media.DurationSeconds)
	assert.Equal(t, 640, params.Media.Width)

	_, err = os.Stat(filepath.Join(session.Dir, sessions.UploadedMarker))
	assert.NoError(t, err, "uploaded marker should exist")
}

func TestRun_InvalidSessionMarkedAndSkipped(t *testing.T) {
	root := t.TempDir()
	// 5-second recording is below the duration floor
	session := writeSession(t, root, "portal", "2026-02-01_10-00-00", 5, 16_000_000)

	packer := &fakePacker{t: t}
	uploader := &fakeUploader{}
	runner := NewRunner(&fakeSource{sessions: []sessions.Session{session}}, packer, uploader, Config{}, log.NewLogger())

	stats, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Uploaded)
	assert.Equal(t, 1, stats.Invalid)
	assert.Empty(t, packer.packed)
	assert.Empty(t, uploader.uploads)

	_, err = os.Stat(filepath.Join(session.Dir, sessions.InvalidMarker))
	assert.NoError(t, err, "invalid marker should exist")
}

func TestRun_FailedUploadDoesNotStopOthers(t *testing.T) {
	root := t.TempDir()
	first := writeSession(t, root, "portal", "2026-02-01_10-00-00", 60, 16_000_000)
	second := writeSession(t, root, "portal", "2026-02-01_11-00-00", 60, 16_000_000)

	uploader := &fakeUploader{}
	failing := &orderedFailUploader{inner: uploader, failFirst: true}
	runner := NewRunner(&fakeSource{sessions: []sessions.Session{first, second}}, &fakePacker{t: t}, failing, Config{}, log.NewLogger())

	stats, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 session(s) failed")
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 1, stats.Failed)

	_, statErr := os.Stat(filepath.Join(first.Dir, sessions.UploadedMarker))
	assert.True(t, os.IsNotExist(statErr), "failed session must not be marked uploaded")
	_, statErr = os.Stat(filepath.Join(second.Dir, sessions.UploadedMarker))
	assert.NoError(t, statErr)
}

type orderedFailUploader struct {
	inner     *fakeUploader
	failFirst bool
	calls     int
}

func (o *orderedFailUploader) Upload(ctx context.Context, params upload.Params) (upload.Result, error) {
	o.calls++
	if o.failFirst && o.calls == 1 {
		return upload.Result{}, errors.New("network down")
	}
	return o.inner.Upload(ctx, params)
}

func TestRun_ScanFailure(t *testing.T) {
	runner := NewRunner(&fakeSource{err: errors.New("permission denied")}, &fakePacker{t: t}, &fakeUploader{}, Config{}, log.NewLogger())

	_, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan sessions")
}

func TestRun_CancelledContext(t *testing.T) {
	root := t.TempDir()
	session := writeSession(t, root, "portal", "2026-02-01_10-00-00", 60, 16_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(&fakeSource{sessions: []sessions.Session{session}}, &fakePacker{t: t}, &fakeUploader{}, Config{}, log.NewLogger())

	_, err := runner.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
