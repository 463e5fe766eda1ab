package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
)

// WAVWriter appends PCM batches to a streamed WAV container. It is the single
// owner of the output file handle: all writes go through its mutex, so a
// regular flush and the final drain-on-cancel flush can never interleave.
// Each batch write is followed by a sync to the device, trading throughput
// for crash-safety on long unattended runs.
type WAVWriter struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format audio.Format
	path   string
	closed bool
}

// NewWAVWriter creates the output file (and parent directories) and prepares
// the WAV encoder. The container header is finalized on Close.
func NewWAVWriter(path string, format audio.Format) (*WAVWriter, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	enc := wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, 1)

	return &WAVWriter{
		file:   file,
		enc:    enc,
		format: format,
		path:   path,
	}, nil
}

// WriteBatch appends one concatenated batch of PCM data and syncs it to the
// device before returning.
func (w *WAVWriter) WriteBatch(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("write to closed WAV writer %s", w.path)
	}
	if len(pcm) == 0 {
		return nil
	}

	samples := audio.Frame{Data: pcm}.Samples(w.format)
	buf := &gaudio.IntBuffer{
		Data:           samples,
		Format:         &gaudio.Format{SampleRate: w.format.SampleRate, NumChannels: w.format.Channels},
		SourceBitDepth: w.format.BitDepth,
	}

	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync output file: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file. It must be called
// exactly once per session; later calls are no-ops.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.enc.Close(); err != nil {
		// Still try to close the handle, the partial file is kept either way.
		if cerr := w.file.Close(); cerr != nil {
			slog.Warn("Failed to close output file after encoder error", "path", w.path, "error", cerr)
		}
		return fmt.Errorf("failed to finalize WAV container: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}

// Path returns the output file path.
func (w *WAVWriter) Path() string {
	return w.path
}
