// Package sessions discovers recorded gameplay sessions on disk and tracks
// their upload state through marker files.
//
// A session directory holds a video capture (.mp4), a control-input capture
// (.csv) and a metadata.json. Directories containing an .uploaded or
// .invalid marker are skipped on later scans.
package sessions

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
)

// Marker file names.
const (
	UploadedMarker = ".uploaded"
	InvalidMarker  = ".invalid"
)

const metadataFilename = "metadata.json"

// Session is one recorded gameplay session ready for packaging.
type Session struct {
	Dir         string
	VideoFile   string
	ControlFile string
}

// VideoPath returns the absolute path of the session's video file.
func (s Session) VideoPath() string { return filepath.Join(s.Dir, s.VideoFile) }

// ControlPath returns the absolute path of the session's control capture.
func (s Session) ControlPath() string { return filepath.Join(s.Dir, s.ControlFile) }

// MetadataPath returns the absolute path of the session's metadata file.
func (s Session) MetadataPath() string { return filepath.Join(s.Dir, metadataFilename) }

// Metadata is the subset of metadata.json the uploader reads.
type Metadata struct {
	Duration float64 `json:"duration"`
}

// ReadMetadata parses the session's metadata.json.
func (s Session) ReadMetadata() (Metadata, error) {
	data, err := os.ReadFile(s.MetadataPath())
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return metadata, nil
}

// Tags derives descriptive tags from the session's location: the parent
// directory (the game) and the session directory name.
func (s Session) Tags() []string {
	game := filepath.Base(filepath.Dir(s.Dir))
	return []string{game, filepath.Base(s.Dir)}
}

// Scanner finds unuploaded sessions under a root directory.
type Scanner struct {
	root     string
	patterns []string
	logger   log.Logger
}

// NewScanner creates a Scanner. patterns are doublestar globs matched
// against session dirs relative to root; empty means every dir qualifies.
func NewScanner(root string, patterns []string, logger log.Logger) *Scanner {
	return &Scanner{root: root, patterns: patterns, logger: logger}
}

// Scan walks the root and returns every directory that looks like a complete,
// not-yet-processed session.
func (s *Scanner) Scan() ([]Session, error) {
	var found []Session

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		session, ok, err := s.inspectDir(path)
		if err != nil {
			return err
		}
		if ok {
			found = append(found, session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	return found, nil
}

func (s *Scanner) inspectDir(dir string) (Session, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Session{}, false, err
	}

	var video, control string
	var hasMetadata bool
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case name == UploadedMarker, name == InvalidMarker:
			return Session{}, false, nil
		case name == metadataFilename:
			hasMetadata = true
		case strings.HasSuffix(strings.ToLower(name), ".mp4"):
			if video == "" {
				video = name
			}
		case strings.HasSuffix(strings.ToLower(name), ".csv"):
			if control == "" {
				control = name
			}
		}
	}

	if video == "" || control == "" || !hasMetadata {
		return Session{}, false, nil
	}

	if len(s.patterns) > 0 {
		rel, err := filepath.Rel(s.root, dir)
		if err != nil {
			return Session{}, false, err
		}
		if !s.matchesAny(filepath.ToSlash(rel)) {
			s.logger.Debugf("Session %s does not match include patterns, skipping", dir)
			return Session{}, false, nil
		}
	}

	return Session{Dir: dir, VideoFile: video, ControlFile: control}, true, nil
}

func (s *Scanner) matchesAny(rel string) bool {
	for _, pattern := range s.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// MarkUploaded writes the .uploaded marker so later scans skip the session.
func MarkUploaded(dir string) error {
	return os.WriteFile(filepath.Join(dir, UploadedMarker), nil, 0600)
}

// MarkInvalid writes the .invalid marker listing the rejection reasons.
func MarkInvalid(dir string, reasons []string) error {
	content := strings.Join(reasons, "\n") + "\n"
	return os.WriteFile(filepath.Join(dir, InvalidMarker), []byte(content), 0600)
}
