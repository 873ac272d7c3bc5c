package sessions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSessionDir(t *testing.T, root string, parts ...string) string {
	t.Helper()
	dir := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), make([]byte, 64), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inputs.csv"), []byte("t,x,y\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(`{"duration": 120}`), 0644))
	return dir
}

func TestScan_FindsCompleteSessions(t *testing.T) {
	root := t.TempDir()
	first := writeSessionDir(t, root, "some-game", "session-1")
	second := writeSessionDir(t, root, "other-game", "session-2")

	// Incomplete dir: video only.
	incomplete := filepath.Join(root, "some-game", "partial")
	require.NoError(t, os.MkdirAll(incomplete, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(incomplete, "clip.mp4"), nil, 0644))

	found, err := NewScanner(root, nil, log.NewLogger()).Scan()
	require.NoError(t, err)

	var dirs []string
	for _, s := range found {
		dirs = append(dirs, s.Dir)
		assert.Equal(t, "clip.mp4", s.VideoFile)
		assert.Equal(t, "inputs.csv", s.ControlFile)
	}
	assert.ElementsMatch(t, []string{first, second}, dirs)
}

func TestScan_SkipsMarkedSessions(t *testing.T) {
	root := t.TempDir()
	uploaded := writeSessionDir(t, root, "game", "done")
	invalid := writeSessionDir(t, root, "game", "bad")
	fresh := writeSessionDir(t, root, "game", "fresh")

	require.NoError(t, MarkUploaded(uploaded))
	require.NoError(t, MarkInvalid(invalid, []string{"too short"}))

	found, err := NewScanner(root, nil, log.NewLogger()).Scan()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, fresh, found[0].Dir)

	// The invalid marker lists the reasons.
	data, err := os.ReadFile(filepath.Join(invalid, InvalidMarker))
	require.NoError(t, err)
	assert.Equal(t, "too short\n", string(data))
}

func TestScan_IncludePatterns(t *testing.T) {
	root := t.TempDir()
	matched := writeSessionDir(t, root, "some-game", "session-1")
	writeSessionDir(t, root, "other-game", "session-2")

	found, err := NewScanner(root, []string{"some-game/**"}, log.NewLogger()).Scan()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, matched, found[0].Dir)
}

func TestSession_TagsAndMetadata(t *testing.T) {
	root := t.TempDir()
	dir := writeSessionDir(t, root, "some-game", "session-1")

	session := Session{Dir: dir, VideoFile: "clip.mp4", ControlFile: "inputs.csv"}
	assert.Equal(t, []string{"some-game", "session-1"}, session.Tags())

	metadata, err := session.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, 120.0, metadata.Duration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		duration    string
		videoSize   int
		wantReasons int
	}{
		{name: "valid", duration: "120", videoSize: 8 * 1024 * 1024, wantReasons: 0},
		{name: "too short", duration: "5", videoSize: 1024 * 1024, wantReasons: 1},
		{name: "too long", duration: "900", videoSize: 64 * 1024 * 1024, wantReasons: 1},
		{name: "suspiciously small video", duration: "120", videoSize: 64, wantReasons: 1},
		{name: "short and tiny", duration: "5", videoSize: 0, wantReasons: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), make([]byte, tt.videoSize), 0644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"),
				[]byte(`{"duration": `+tt.duration+`}`), 0644))

			session := Session{Dir: dir, VideoFile: "clip.mp4", ControlFile: "inputs.csv"}
			reasons, err := Validate(session)
			require.NoError(t, err)
			assert.Len(t, reasons, tt.wantReasons)
		})
	}
}

func TestValidate_MissingMetadata(t *testing.T) {
	dir := t.TempDir()
	session := Session{Dir: dir, VideoFile: "clip.mp4", ControlFile: "inputs.csv"}
	_, err := Validate(session)
	require.Error(t, err)
}
