// Package control exposes the recorder service to remote controllers over
// WebSocket and MQTT. Both transports speak the same JSON command protocol;
// the Dispatcher is the shared command handler.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/config"
	"github.com/audiolibrelab/fieldcapture/internal/service"
)

// Supported sample rates advertised in capability responses.
var supportedSampleRates = []int{8000, 16000, 22050, 44100, 48000, 96000, 192000}

// maxRecordingDuration caps the duration a controller may request.
const maxRecordingDuration = time.Hour

// command is an inbound control message.
type command struct {
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	Duration float64 `json:"duration,omitempty"` // seconds, zero records until stopped
	Filename string  `json:"filename,omitempty"`
}

type statusMessage struct {
	Type         string               `json:"type"`
	Recording    bool                 `json:"recording"`
	State        string               `json:"state"`
	Config       config.Config        `json:"config"`
	Session      *service.SessionInfo `json:"session,omitempty"`
	LastError    string               `json:"last_error,omitempty"`
	Capabilities capabilities         `json:"capabilities"`
}

type capabilities struct {
	Devices              []deviceEntry `json:"devices"`
	SupportedSampleRates []int         `json:"supported_samplerates"`
	SupportedChannels    []int         `json:"supported_channels"`
	SupportedBitDepths   []int         `json:"supported_bit_depths"`
	MaxDurationSeconds   float64       `json:"max_recording_duration"`
}

type deviceEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	IsCurrent bool   `json:"is_current"`
}

type capabilitiesMessage struct {
	Type         string       `json:"type"`
	Capabilities capabilities `json:"capabilities"`
}

type devicesMessage struct {
	Type    string        `json:"type"`
	Devices []deviceEntry `json:"devices"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type eventMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Filename  string `json:"filename,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher decodes control commands and applies them to the service.
type Dispatcher struct {
	svc service.Service
}

func NewDispatcher(svc service.Service) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// Handle processes one inbound message and returns the replies to send back.
// The second result is true when a shutdown command was received and the
// transport should close.
func (d *Dispatcher) Handle(raw []byte) ([][]byte, bool) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		slog.Error("Invalid control message", "error", err)
		return replies(errorMessage{Type: "error", Error: "invalid JSON message"}), false
	}
	if cmd.Type != "command" {
		return nil, false
	}

	slog.Info("Received command", "command", cmd.Command)

	switch cmd.Command {
	case "start_recording":
		return d.startRecording(cmd.Payload), false
	case "stop_recording":
		return d.stopRecording(), false
	case "get_status":
		return replies(d.statusReply()), false
	case "update_config":
		return d.updateConfig(cmd.Payload), false
	case "get_capabilities":
		return replies(capabilitiesMessage{Type: "capabilities", Capabilities: d.capabilities()}), false
	case "list_devices":
		return d.listDevices(), false
	case "shutdown":
		slog.Info("Received shutdown command")
		return nil, true
	default:
		return replies(errorMessage{Type: "error", Error: fmt.Sprintf("unknown command: %s", cmd.Command)}), false
	}
}

func (d *Dispatcher) startRecording(payload json.RawMessage) [][]byte {
	var p startPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return replies(errorMessage{Type: "error", Error: fmt.Sprintf("invalid start payload: %v", err)})
		}
	}

	duration := time.Duration(p.Duration * float64(time.Second))
	if duration < 0 || duration > maxRecordingDuration {
		return replies(errorMessage{Type: "error", Error: fmt.Sprintf("duration out of range: %gs", p.Duration)})
	}

	if err := d.svc.StartRecording(service.StartOptions{Filename: p.Filename, Duration: duration}); err != nil {
		return replies(errorMessage{Type: "error", Error: err.Error()})
	}
	return nil
}

func (d *Dispatcher) stopRecording() [][]byte {
	if !d.svc.Status().Recording {
		return replies(errorMessage{Type: "error", Error: "not recording"})
	}
	if err := d.svc.StopRecording(); err != nil {
		return replies(errorMessage{Type: "error", Error: err.Error()})
	}
	return nil
}

func (d *Dispatcher) updateConfig(payload json.RawMessage) [][]byte {
	var update service.ConfigUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return replies(errorMessage{Type: "error", Error: fmt.Sprintf("invalid config payload: %v", err)})
	}
	if err := d.svc.UpdateConfig(update); err != nil {
		return replies(errorMessage{Type: "error", Error: fmt.Sprintf("config update failed: %v", err)})
	}
	return replies(d.statusReply())
}

func (d *Dispatcher) listDevices() [][]byte {
	devices, err := d.svc.ListDevices()
	if err != nil {
		return replies(errorMessage{Type: "error", Error: fmt.Sprintf("device enumeration failed: %v", err)})
	}
	msg := devicesMessage{Type: "devices_list", Devices: make([]deviceEntry, 0, len(devices))}
	current := d.svc.Status().Config.Audio.Device
	for _, dev := range devices {
		msg.Devices = append(msg.Devices, deviceEntry{
			ID:        dev.ID,
			Name:      dev.Name,
			IsDefault: dev.IsDefault,
			IsCurrent: current != "" && (dev.ID == current || dev.Name == current),
		})
	}
	return replies(msg)
}

// StatusMessage builds the full status report sent on connect and on request.
func (d *Dispatcher) StatusMessage() []byte {
	return mustMarshal(d.statusReply())
}

func (d *Dispatcher) statusReply() statusMessage {
	status := d.svc.Status()
	return statusMessage{
		Type:         "status",
		Recording:    status.Recording,
		State:        status.State,
		Config:       status.Config,
		Session:      status.Session,
		LastError:    status.LastError,
		Capabilities: d.capabilities(),
	}
}

func (d *Dispatcher) capabilities() capabilities {
	caps := capabilities{
		Devices:              []deviceEntry{},
		SupportedSampleRates: supportedSampleRates,
		SupportedChannels:    []int{1, 2},
		SupportedBitDepths:   []int{16, 32},
		MaxDurationSeconds:   maxRecordingDuration.Seconds(),
	}

	devices, err := d.svc.ListDevices()
	if err != nil {
		slog.Warn("Device enumeration failed", "error", err)
		return caps
	}
	current := d.svc.Status().Config.Audio.Device
	for _, dev := range devices {
		caps.Devices = append(caps.Devices, deviceEntry{
			ID:        dev.ID,
			Name:      dev.Name,
			IsDefault: dev.IsDefault,
			IsCurrent: current != "" && (dev.ID == current || dev.Name == current),
		})
	}
	return caps
}

// EncodeEvent converts a service lifecycle event to its wire form.
func EncodeEvent(ev service.Event) []byte {
	return mustMarshal(eventMessage{
		Type:      "event",
		Event:     ev.Type,
		Timestamp: ev.Timestamp.Format(time.RFC3339),
		Filename:  ev.Filename,
		Error:     ev.Error,
	})
}

func replies(msgs ...any) [][]byte {
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, mustMarshal(m))
	}
	return out
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All message types marshal cleanly; this is a programming error.
		panic(fmt.Sprintf("control: marshal %T: %v", v, err))
	}
	return data
}
