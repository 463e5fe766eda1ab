package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/config"
)

// Metadata is the sidecar record persisted next to the output file, once,
// when a session closes.
type Metadata struct {
	Timestamp       time.Time        `json:"timestamp"`
	DurationSeconds float64          `json:"duration_seconds"`
	TotalFrames     int64            `json:"total_frames"`
	DroppedFrames   int64            `json:"dropped_frames"`
	Device          audio.DeviceInfo `json:"device"`
	Config          config.Config    `json:"config"`
	AudioFile       string           `json:"audio_file"`
}

// MetadataPath returns the sidecar path for an output file: the same name
// with a .json extension.
func MetadataPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".json"
}

// writeMetadata persists the metadata sidecar. Failures here must never fail
// an otherwise-successful recording; the caller logs and moves on.
func writeMetadata(outputPath string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(outputPath), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
