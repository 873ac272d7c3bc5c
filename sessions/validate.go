package sessions

import (
	"fmt"
	"os"
)

// Validation bounds for a session recording.
const (
	// MinDurationSeconds is the minimum footage length worth uploading.
	MinDurationSeconds = 30
	// MaxDurationSeconds is the clip length ceiling, with a little slack for
	// encoder overrun.
	MaxDurationSeconds = 600
	maxDurationSlack   = 10

	// expectedBitrateMbps is the nominal recording bitrate used for the
	// size sanity check.
	expectedBitrateMbps = 2
)

// Validate checks a session against the recording bounds. A non-empty reason
// list means the session must be skipped and marked invalid; an error means
// the session could not be checked at all.
func Validate(session Session) ([]string, error) {
	metadata, err := session.ReadMetadata()
	if err != nil {
		return nil, err
	}

	var reasons []string

	if metadata.Duration < MinDurationSeconds {
		reasons = append(reasons, fmt.Sprintf("video length %.2fs too short", metadata.Duration))
	}
	if metadata.Duration > MaxDurationSeconds+maxDurationSlack {
		reasons = append(reasons, fmt.Sprintf("video length %.2fs too long", metadata.Duration))
	}

	info, err := os.Stat(session.VideoPath())
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	// A file far below the expected bitrate is likely a broken capture.
	videoMegabits := float64(info.Size()) / (1024 * 1024) * 8
	expectedMegabits := expectedBitrateMbps * metadata.Duration
	if videoMegabits < 0.25*expectedMegabits {
		reasons = append(reasons, fmt.Sprintf("video size %.2f Mb too small compared to expected %.2f Mb",
			videoMegabits, expectedMegabits))
	}

	return reasons, nil
}
