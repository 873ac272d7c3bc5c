// Package batch uploads every pending recorded session found under a
// recordings root: validate, package, upload, mark.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/openworldlabs/owl-control-uploader/archive"
	"github.com/openworldlabs/owl-control-uploader/sessions"
	"github.com/openworldlabs/owl-control-uploader/upload"
	"github.com/openworldlabs/owl-control-uploader/upload/network"
)

// SessionSource lists sessions pending upload. Implemented by
// sessions.Scanner.
type SessionSource interface {
	Scan() ([]sessions.Session, error)
}

// Packer turns a session into an uploadable archive. Implemented by
// archive.Packer.
type Packer interface {
	Pack(sessions.Session) (archive.Archive, error)
}

// Uploader runs one upload session end to end. Implemented by
// upload.Orchestrator.
type Uploader interface {
	Upload(ctx context.Context, params upload.Params) (upload.Result, error)
}

// Config carries recording attributes attached to every upload and the
// degraded-network chunk size hint.
type Config struct {
	VideoWidth         int
	VideoHeight        int
	VideoFPS           float64
	ChunkSizeHintBytes int64
}

// Stats summarizes one batch run.
type Stats struct {
	Uploaded        int
	Invalid         int
	Failed          int
	BytesUploaded   int64
	DurationSeconds float64
}

// Runner processes all pending sessions sequentially.
type Runner struct {
	source   SessionSource
	packer   Packer
	uploader Uploader
	config   Config
	logger   log.Logger
}

// NewRunner ...
func NewRunner(source SessionSource, packer Packer, uploader Uploader, config Config, logger log.Logger) *Runner {
	return &Runner{
		source:   source,
		packer:   packer,
		uploader: uploader,
		config:   config,
		logger:   logger,
	}
}

// Run uploads every pending session. A failed session does not stop the
// remaining ones; the aggregate error reports how many failed.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	found, err := r.source.Scan()
	if err != nil {
		return Stats{}, fmt.Errorf("scan sessions: %w", err)
	}
	r.logger.Infof("Found %d session(s) pending upload", len(found))

	var stats Stats
	var lastErr error

	for _, session := range found {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("batch cancelled: %w", err)
		}

		if err := r.processSession(ctx, session, &stats); err != nil {
			stats.Failed++
			lastErr = err
			r.logger.Errorf("Failed to upload %s: %s", session.Dir, err)
		}
	}

	r.logger.Donef("Uploaded %d session(s), %s total (%d invalid, %d failed)",
		stats.Uploaded, units.HumanSizeWithPrecision(float64(stats.BytesUploaded), 3),
		stats.Invalid, stats.Failed)

	if lastErr != nil {
		return stats, fmt.Errorf("%d of %d session(s) failed, last error: %w",
			stats.Failed, len(found), lastErr)
	}
	return stats, nil
}

func (r *Runner) processSession(ctx context.Context, session sessions.Session, stats *Stats) error {
	reasons, err := sessions.Validate(session)
	if err != nil {
		reasons = []string{fmt.Sprintf("error checking validity: %s", err)}
	}
	if len(reasons) > 0 {
		stats.Invalid++
		r.logger.Warnf("Skipping invalid session %s:", session.Dir)
		for _, reason := range reasons {
			r.logger.Warnf("  - %s", reason)
		}
		if err := sessions.MarkInvalid(session.Dir, reasons); err != nil {
			r.logger.Warnf("Could not write invalid marker in %s: %s", session.Dir, err)
		}
		return nil
	}

	metadata, err := session.ReadMetadata()
	if err != nil {
		return fmt.Errorf("read session metadata: %w", err)
	}

	packed, err := r.packer.Pack(session)
	if err != nil {
		return fmt.Errorf("pack session: %w", err)
	}
	defer func() {
		if err := packed.Remove(); err != nil && !os.IsNotExist(err) {
			r.logger.Warnf("Could not remove archive %s: %s", packed.Path, err)
		}
	}()

	source, err := os.Open(packed.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer source.Close()

	result, err := r.uploader.Upload(ctx, upload.Params{
		Source:             source,
		TotalSizeBytes:     packed.SizeBytes,
		Filename:           filepath.Base(packed.Path),
		ContentType:        packed.ContentType,
		Tags:               session.Tags(),
		ChunkSizeHintBytes: r.config.ChunkSizeHintBytes,
		Media: &network.MediaMetadata{
			VideoFilename:   session.VideoFile,
			ControlFilename: session.ControlFile,
			DurationSeconds: metadata.Duration,
			Width:           r.config.VideoWidth,
			Height:          r.config.VideoHeight,
			FPS:             r.config.VideoFPS,
		},
	})
	if err != nil {
		return err
	}

	if err := sessions.MarkUploaded(session.Dir); err != nil {
		r.logger.Warnf("Could not write uploaded marker in %s: %s", session.Dir, err)
	}

	stats.Uploaded++
	stats.BytesUploaded += result.BytesUploaded
	stats.DurationSeconds += metadata.Duration
	return nil
}
