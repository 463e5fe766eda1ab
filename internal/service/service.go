// Package service exposes the recording operations used by the CLI and the
// remote-control agents: start, stop, status, config update and device
// listing, plus the lifecycle event stream.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/config"
	"github.com/audiolibrelab/fieldcapture/internal/recorder"
)

// Lifecycle event types emitted by the service.
const (
	EventStarted   = "recording_started"
	EventCompleted = "recording_completed"
	EventStopped   = "recording_stopped"
	EventError     = "recording_error"
)

// Event is a lifecycle notification for control-plane consumers.
type Event struct {
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SessionInfo is the externally visible view of a recording session.
type SessionInfo struct {
	ID            string          `json:"id"`
	StartTime     time.Time       `json:"start_time"`
	OutputFile    string          `json:"output_file"`
	State         string          `json:"state"`
	TotalFrames   int64           `json:"total_frames"`
	DroppedFrames int64           `json:"dropped_frames"`
	Level         audio.LevelData `json:"level"`
}

// Status is the response to a status query.
type Status struct {
	Recording bool          `json:"recording"`
	State     string        `json:"state"`
	Config    config.Config `json:"config"`
	Session   *SessionInfo  `json:"session,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// StartOptions parameterize a start request.
type StartOptions struct {
	Filename string        // optional, timestamp-based name when empty
	Duration time.Duration // zero records until stopped
}

// ConfigUpdate is a partial configuration change; nil fields are unchanged.
// Updates apply to future sessions only.
type ConfigUpdate struct {
	SampleRate *int    `json:"samplerate,omitempty"`
	Channels   *int    `json:"channels,omitempty"`
	BitDepth   *int    `json:"bit_depth,omitempty"`
	Device     *string `json:"device,omitempty"`
	OutputDir  *string `json:"output_dir,omitempty"`
}

// Service is the control surface of the recorder.
type Service interface {
	StartRecording(opts StartOptions) error
	StopRecording() error
	Status() Status
	UpdateConfig(update ConfigUpdate) error
	ListDevices() ([]audio.DeviceInfo, error)

	// Events returns the lifecycle event stream. Events are dropped if the
	// consumer falls behind; they are signals, not a durable log.
	Events() <-chan Event

	// Close stops any active session and waits for it to settle.
	Close() error
}

// RecorderService is the default Service implementation.
type RecorderService struct {
	mu         sync.Mutex
	cfg        *config.Config
	configFile string
	session    *recorder.Session
	stopped    bool // set when the active session was stopped explicitly
	lastError  string

	events chan Event

	// Injectable for tests.
	newSource   func(cfg *config.Config) audio.Source
	listDevices func() ([]audio.DeviceInfo, error)
}

// New creates a service around the given configuration. configFile is where
// UpdateConfig persists changes; empty uses the default location.
func New(cfg *config.Config, configFile string) *RecorderService {
	return &RecorderService{
		cfg:        cfg,
		configFile: configFile,
		events:     make(chan Event, 16),
		newSource: func(cfg *config.Config) audio.Source {
			return audio.NewMalgoSource(cfg.Audio.Format(), cfg.Audio.Device)
		},
		listDevices: audio.ListCaptureDevices,
	}
}

// StartRecording starts a new session. Only one session can be active at a
// time.
func (s *RecorderService) StartRecording(opts StartOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.IsActive() {
		return fmt.Errorf("already recording to %s", s.session.OutputPath())
	}

	filename := opts.Filename
	if filename == "" {
		filename = fmt.Sprintf("recording_%s.wav", time.Now().Format("20060102_150405"))
	} else {
		filename = cleanFileName(filename)
		if !strings.HasSuffix(filename, ".wav") {
			filename += ".wav"
		}
	}
	outputPath := filepath.Join(s.cfg.Output.Directory, filename)

	sess := recorder.NewSession(s.cfg, s.newSource(s.cfg))
	if err := sess.Start(context.Background(), recorder.StartOptions{
		OutputPath: outputPath,
		Duration:   opts.Duration,
	}); err != nil {
		s.lastError = err.Error()
		s.emit(Event{Type: EventError, Timestamp: time.Now(), Filename: filename, Error: err.Error()})
		return err
	}

	s.session = sess
	s.stopped = false
	s.lastError = ""
	s.emit(Event{Type: EventStarted, Timestamp: time.Now(), Filename: filename})

	go s.watch(sess, filename)
	return nil
}

// watch waits for the session to settle and emits the terminal event.
func (s *RecorderService) watch(sess *recorder.Session, filename string) {
	err := sess.Wait()

	s.mu.Lock()
	stopped := s.stopped
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		s.emit(Event{Type: EventError, Timestamp: time.Now(), Filename: filename, Error: err.Error()})
	case stopped:
		s.emit(Event{Type: EventStopped, Timestamp: time.Now(), Filename: filename})
	default:
		s.emit(Event{Type: EventCompleted, Timestamp: time.Now(), Filename: filename})
	}
}

// StopRecording gracefully stops the active session and waits for it to
// settle. Stopping when nothing is recording is a no-op, never an error.
func (s *RecorderService) StopRecording() error {
	s.mu.Lock()
	sess := s.session
	if sess == nil || !sess.IsActive() {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	sess.Stop()
	return sess.Wait()
}

// Status reports the current recording state and configuration.
func (s *RecorderService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Recording: false,
		State:     recorder.StateIdle.String(),
		Config:    *s.cfg,
		LastError: s.lastError,
	}

	if s.session != nil {
		status.Recording = s.session.IsActive()
		status.State = s.session.State().String()
		status.Session = &SessionInfo{
			ID:            s.session.ID(),
			StartTime:     s.session.StartTime(),
			OutputFile:    s.session.OutputPath(),
			State:         s.session.State().String(),
			TotalFrames:   s.session.TotalFrames(),
			DroppedFrames: s.session.DroppedFrames(),
			Level:         s.session.Level(),
		}
	}
	return status
}

// UpdateConfig applies a partial configuration change, validates the result
// and persists it. A running session keeps its snapshot; the update affects
// future sessions.
func (s *RecorderService) UpdateConfig(update ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := *s.cfg
	if update.SampleRate != nil {
		updated.Audio.SampleRate = *update.SampleRate
	}
	if update.Channels != nil {
		updated.Audio.Channels = *update.Channels
	}
	if update.BitDepth != nil {
		updated.Audio.BitDepth = *update.BitDepth
	}
	if update.Device != nil {
		updated.Audio.Device = *update.Device
	}
	if update.OutputDir != nil {
		updated.Output.Directory = *update.OutputDir
	}

	if err := updated.Validate(); err != nil {
		return err
	}

	*s.cfg = updated
	if err := s.cfg.Save(s.configFile); err != nil {
		// The in-memory update stands; persistence is best effort.
		slog.Warn("Failed to persist configuration", "error", err)
	}
	return nil
}

// ListDevices enumerates available capture devices.
func (s *RecorderService) ListDevices() ([]audio.DeviceInfo, error) {
	return s.listDevices()
}

// Events returns the lifecycle event stream.
func (s *RecorderService) Events() <-chan Event {
	return s.events
}

// Close stops any active session and waits for it to settle.
func (s *RecorderService) Close() error {
	return s.StopRecording()
}

// emit delivers an event without ever blocking the service.
func (s *RecorderService) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("Event channel full, dropping event", "event", ev.Type)
	}
}

// cleanFileName keeps letters, numbers, dots, hyphens and underscores;
// spaces become underscores.
func cleanFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
