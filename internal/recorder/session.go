// Package recorder implements the streaming capture-to-disk pipeline: the
// recording session state machine, the batch accumulator that drains the
// relay queue, and the WAV disk writer.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/config"
	"github.com/audiolibrelab/fieldcapture/internal/relay"
	"github.com/audiolibrelab/fieldcapture/internal/sysmon"
)

// State is the lifecycle state of a recording session.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states serialize as names.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// progressLogInterval is how much recorded audio passes between progress log
// lines, an operability signal for long unattended runs.
const progressLogInterval = 30 * time.Second

// StartOptions parameterize a single recording run.
type StartOptions struct {
	OutputPath string
	// Duration limits the recording; zero records until Stop.
	Duration time.Duration
}

// Session is one recording run. It owns the relay queue, the WAV writer and
// the background writer goroutine, and is single-use: create a new Session
// per recording.
type Session struct {
	id     string
	cfg    config.Config // immutable snapshot taken at creation
	format audio.Format
	source audio.Source
	queue  *relay.Queue

	// Injectable for tests; defaults to NewWAVWriter.
	newWriter func(string, audio.Format) (*WAVWriter, error)

	state       atomic.Int32
	totalFrames atomic.Int64

	mu         sync.RWMutex
	writer     *WAVWriter
	monitor    *sysmon.Monitor
	startTime  time.Time
	outputPath string
	device     audio.DeviceInfo
	err        error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates an idle session bound to a capture source. The config is
// snapshotted: later configuration changes do not affect this session.
func NewSession(cfg *config.Config, source audio.Source) *Session {
	return &Session{
		id:        uuid.NewString(),
		cfg:       *cfg,
		format:    cfg.Audio.Format(),
		source:    source,
		queue:     relay.NewQueue(cfg.Pipeline.QueueCapacity),
		newWriter: NewWAVWriter,
		done:      make(chan struct{}),
	}
}

// Start transitions the session from idle to recording: it runs the advisory
// disk-space preflight, opens the output file, starts the resource monitor,
// the writer goroutine and finally the capture source. Configuration and
// device errors are returned synchronously and leave the session idle.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRecording)) {
		return fmt.Errorf("can only start recording from idle state, current: %s", s.State())
	}

	if err := s.cfg.Validate(); err != nil {
		s.state.Store(int32(StateIdle))
		return err
	}
	if opts.OutputPath == "" {
		s.state.Store(int32(StateIdle))
		return fmt.Errorf("%w: output path is required", config.ErrInvalidConfig)
	}

	// Advisory: an insufficient estimate is logged, never blocks the start.
	if opts.Duration > 0 {
		if est, err := sysmon.Preflight(s.format, opts.Duration, filepath.Dir(opts.OutputPath)); err != nil {
			slog.Warn("Disk space preflight failed", "error", err)
		} else if !est.Sufficient {
			slog.Warn("Insufficient disk space for requested duration",
				"estimated_gb", fmt.Sprintf("%.2f", est.EstimatedGB()),
				"available_gb", fmt.Sprintf("%.2f", est.AvailableGB()),
				"max_duration", est.MaxDuration.Round(time.Second))
		}
	}

	writer, err := s.newWriter(opts.OutputPath, s.format)
	if err != nil {
		s.state.Store(int32(StateIdle))
		return err
	}

	if err := s.source.Start(s.onFrame); err != nil {
		if cerr := writer.Close(); cerr != nil {
			slog.Warn("Failed to close output file after start failure", "error", cerr)
		}
		// Nothing was recorded, do not leave an empty husk behind.
		if rerr := os.Remove(opts.OutputPath); rerr != nil {
			slog.Debug("Failed to remove empty output file", "error", rerr)
		}
		s.state.Store(int32(StateIdle))
		return fmt.Errorf("failed to start capture source: %w", err)
	}

	monitor := sysmon.NewMonitor(s.cfg.Monitor, filepath.Dir(opts.OutputPath))
	monitor.Start()

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	s.mu.Lock()
	s.writer = writer
	s.monitor = monitor
	s.startTime = time.Now()
	s.outputPath = opts.OutputPath
	s.device = s.source.Device()
	s.cancel = cancel
	s.mu.Unlock()

	go s.writeLoop(runCtx)

	slog.Info("Recording started",
		"session", s.id,
		"output", opts.OutputPath,
		"device", s.device.Name,
		"samplerate", s.format.SampleRate,
		"channels", s.format.Channels,
		"duration", opts.Duration)
	return nil
}

// Stop requests a graceful stop. It is idempotent: stopping an idle,
// already-stopping or errored session is a no-op, never an error. The writer
// goroutine observes the cancellation and still performs its final
// drain-and-flush before the session settles.
func (s *Session) Stop() {
	if !s.state.CompareAndSwap(int32(StateRecording), int32(StateStopping)) {
		return
	}
	slog.Info("Stopping recording", "session", s.id)

	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// onFrame is the capture callback. It must never block: the frame is offered
// to the bounded relay queue and dropped if the queue is full. Drops are
// counted by the queue and reported from the writer loop.
func (s *Session) onFrame(fr audio.Frame) {
	if State(s.state.Load()) != StateRecording {
		return
	}
	s.queue.Push(fr)
}

// writeLoop is the single consumer of the relay queue. It accumulates frames
// into a batch and flushes when the batch is large enough or old enough,
// whichever comes first; a poll timeout with a non-empty batch flushes
// immediately so sparse input never sits unflushed.
func (s *Session) writeLoop(ctx context.Context) {
	var (
		batch       [][]byte
		batchFrames int
		batchBytes  int
		lastFlush   = time.Now()
		lastDrops   int64
		nextMark    = int64(s.format.SampleRate) * int64(progressLogInterval/time.Second)
	)

	flush := func() error {
		if batchFrames == 0 {
			return nil
		}
		combined := make([]byte, 0, batchBytes)
		for _, data := range batch {
			combined = append(combined, data...)
		}
		if err := s.writer.WriteBatch(combined); err != nil {
			return err
		}
		total := s.totalFrames.Add(int64(batchFrames))
		batch, batchFrames, batchBytes = batch[:0], 0, 0
		lastFlush = time.Now()

		if total >= nextMark {
			recorded := time.Duration(total) * time.Second / time.Duration(s.format.SampleRate)
			slog.Info("Recording progress",
				"session", s.id,
				"elapsed", time.Since(s.StartTime()).Round(time.Second),
				"recorded", recorded.Round(time.Second))
			nextMark += int64(s.format.SampleRate) * int64(progressLogInterval/time.Second)
		}
		return nil
	}

	var loopErr error

	for {
		if ctx.Err() != nil {
			// Cooperative cancellation: stop the producer, then drain
			// whatever is already in memory and flush it. This path runs on
			// duration expiry and on Stop alike and must never be skipped.
			s.state.CompareAndSwap(int32(StateRecording), int32(StateStopping))
			if err := s.source.Stop(); err != nil {
				slog.Warn("Failed to stop capture source", "error", err)
			}
			for {
				fr, ok := s.queue.TryPop()
				if !ok {
					break
				}
				batch = append(batch, fr.Data)
				batchFrames += fr.Frames
				batchBytes += len(fr.Data)
			}
			loopErr = flush()
			break
		}

		fr, ok := s.queue.Pop(s.cfg.Pipeline.PollInterval)
		if ok {
			batch = append(batch, fr.Data)
			batchFrames += fr.Frames
			batchBytes += len(fr.Data)

			if len(batch) >= s.cfg.Pipeline.FlushFrames || time.Since(lastFlush) >= s.cfg.Pipeline.FlushInterval {
				if loopErr = flush(); loopErr != nil {
					break
				}
			}
		} else if batchFrames > 0 {
			// Poll timeout with data pending: flush so sparse input is never
			// held back indefinitely.
			if loopErr = flush(); loopErr != nil {
				break
			}
		}

		if drops := s.queue.Dropped(); drops > lastDrops {
			slog.Warn("Relay queue full, frames dropped", "session", s.id, "dropped", drops)
			lastDrops = drops
		}
	}

	s.finish(loopErr)
}

// finish closes out the session: stops the capture source and monitor,
// closes the output file and persists the metadata sidecar. A write error
// settles the session in the error state; the partial output file is kept
// for manual recovery either way.
func (s *Session) finish(loopErr error) {
	if err := s.source.Stop(); err != nil {
		slog.Debug("Capture source stop", "error", err)
	}

	s.mu.RLock()
	writer, monitor := s.writer, s.monitor
	outputPath, device, startTime := s.outputPath, s.device, s.startTime
	cancel := s.cancel
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}

	closeErr := writer.Close()
	if monitor != nil {
		monitor.Stop()
	}

	total := s.totalFrames.Load()
	durationSeconds := float64(total) / float64(s.format.SampleRate)

	md := Metadata{
		Timestamp:       startTime,
		DurationSeconds: durationSeconds,
		TotalFrames:     total,
		DroppedFrames:   s.queue.Dropped(),
		Device:          device,
		Config:          s.cfg,
		AudioFile:       filepath.Base(outputPath),
	}
	if err := writeMetadata(outputPath, md); err != nil {
		// Must never fail an otherwise-successful recording.
		slog.Warn("Failed to save metadata", "session", s.id, "error", err)
	}

	finalErr := loopErr
	if finalErr == nil {
		finalErr = closeErr
	} else if closeErr != nil {
		slog.Warn("Failed to close output file", "session", s.id, "error", closeErr)
	}

	if finalErr != nil {
		s.mu.Lock()
		s.err = finalErr
		s.mu.Unlock()
		s.state.Store(int32(StateError))
		slog.Error("Recording session failed", "session", s.id, "output", outputPath, "error", finalErr)
	} else {
		s.state.Store(int32(StateIdle))
		slog.Info("Recording saved",
			"session", s.id,
			"output", outputPath,
			"duration", fmt.Sprintf("%.2fs", durationSeconds),
			"total_frames", total)
	}

	close(s.done)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// TotalFrames returns the number of sample frames flushed to disk so far.
func (s *Session) TotalFrames() int64 {
	return s.totalFrames.Load()
}

// DroppedFrames returns the number of frames rejected by the relay queue.
func (s *Session) DroppedFrames() int64 {
	return s.queue.Dropped()
}

// OutputPath returns the output file path, empty before Start.
func (s *Session) OutputPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputPath
}

// StartTime returns when recording began.
func (s *Session) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTime
}

// Device returns the capture device in use.
func (s *Session) Device() audio.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// Err returns the error that moved the session to the error state, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed when the session has fully settled (file closed, metadata
// written).
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session settles and returns its final error.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

// Level returns the live input level derived from the most recently accepted
// frame, without consuming from the relay queue.
func (s *Session) Level() audio.LevelData {
	last := s.queue.LastFrame()
	if last == nil {
		return audio.LevelData{}
	}
	return audio.CalculateLevel(*last, s.format)
}

// IsActive reports whether the session is recording or draining.
func (s *Session) IsActive() bool {
	switch s.State() {
	case StateRecording, StateStopping:
		return true
	default:
		return false
	}
}
