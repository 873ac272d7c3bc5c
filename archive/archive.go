// Package archive packages a recorded session into a tar archive for upload,
// optionally compressed with zstd.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/openworldlabs/owl-control-uploader/sessions"
)

// Content types reported to the upload service.
const (
	ContentTypeTar  = "application/x-tar"
	ContentTypeZstd = "application/zstd"
)

// Archive is a packaged session on disk. Remove it after the upload.
type Archive struct {
	Path        string
	ContentType string
	SizeBytes   int64
}

// Remove deletes the archive file.
func (a Archive) Remove() error {
	return os.Remove(a.Path)
}

// Packer writes session archives into a working directory.
type Packer struct {
	workDir  string
	compress bool
	logger   log.Logger
}

// NewPacker creates a Packer. workDir defaults to the OS temp dir; compress
// selects zstd compression.
func NewPacker(workDir string, compress bool, logger log.Logger) *Packer {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Packer{workDir: workDir, compress: compress, logger: logger}
}

// Pack writes the session's video, control capture and metadata into a fresh
// archive under a random name.
func (p *Packer) Pack(session sessions.Session) (Archive, error) {
	name := uuid.NewString()[:16] + ".tar"
	contentType := ContentTypeTar
	if p.compress {
		name += ".zst"
		contentType = ContentTypeZstd
	}
	path := filepath.Join(p.workDir, name)

	if err := p.write(path, session); err != nil {
		// Leave no partial archive behind.
		_ = os.Remove(path)
		return Archive{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Archive{}, fmt.Errorf("stat archive: %w", err)
	}

	p.logger.Debugf("Packed %s into %s (%d bytes)", session.Dir, path, info.Size())
	return Archive{Path: path, ContentType: contentType, SizeBytes: info.Size()}, nil
}

func (p *Packer) write(path string, session sessions.Session) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	var sink io.Writer = out
	var zstdWriter *zstd.Encoder
	if p.compress {
		zstdWriter, err = zstd.NewWriter(out)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		sink = zstdWriter
	}

	tw := tar.NewWriter(sink)

	files := []string{session.VideoPath(), session.ControlPath(), session.MetadataPath()}
	for _, file := range files {
		if err := addFile(tw, file); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if zstdWriter != nil {
		if err := zstdWriter.Close(); err != nil {
			return fmt.Errorf("close zstd writer: %w", err)
		}
	}
	return out.Close()
}

// addFile stores one file at the archive root, under its base name.
func addFile(tw *tar.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar file header: %w", err)
	}

	data, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer data.Close()

	if _, err := io.Copy(tw, data); err != nil {
		return fmt.Errorf("copy %s into archive: %w", path, err)
	}
	return nil
}
