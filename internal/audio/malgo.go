package audio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures PCM audio from a hardware device through miniaudio.
type MalgoSource struct {
	format     Format
	deviceName string // empty selects the default device

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	info    DeviceInfo
	started bool
}

// NewMalgoSource returns a capture source for the named device. An empty
// deviceName selects the system default capture device.
func NewMalgoSource(format Format, deviceName string) *MalgoSource {
	return &MalgoSource{format: format, deviceName: deviceName}
}

// Start opens the capture device and begins delivering frames to onFrame.
// onFrame runs on the miniaudio capture thread and must not block.
func (s *MalgoSource) Start(onFrame func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("capture already started")
	}
	if err := s.format.Validate(); err != nil {
		return err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{platformBackend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		_ = ctx.Uninit()
		return fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	selected, err := selectCaptureDevice(infos, s.deviceName)
	if err != nil {
		_ = ctx.Uninit()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgoFormat(s.format.BitDepth)
	deviceConfig.Capture.Channels = uint32(s.format.Channels)
	deviceConfig.SampleRate = uint32(s.format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if selected.pointer != nil {
		deviceConfig.Capture.DeviceID = selected.pointer
	}

	frameBytes := s.format.Channels * s.format.BytesPerSample()

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, frameCount uint32) {
			// pSamples is owned by miniaudio, copy before handing off.
			data := make([]byte, len(pSamples))
			copy(data, pSamples)
			frames := int(frameCount)
			if frames == 0 && frameBytes > 0 {
				frames = len(pSamples) / frameBytes
			}
			onFrame(Frame{Data: data, Frames: frames})
		},
		Stop: func() {
			// Device-level stops are status reports, not dropped data.
			slog.Warn("Capture device reported stop", "device", selected.info.Name)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		return fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, s.deviceName, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	s.ctx = ctx
	s.device = device
	s.info = selected.info
	s.started = true

	slog.Info("Capture started", "device", selected.info.Name, "samplerate", s.format.SampleRate, "channels", s.format.Channels)
	return nil
}

// Stop halts capture and releases the device and context.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	if err := s.device.Stop(); err != nil {
		slog.Warn("Failed to stop capture device", "error", err)
	}
	s.device.Uninit()
	if err := s.ctx.Uninit(); err != nil {
		slog.Warn("Failed to uninit audio context", "error", err)
	}

	s.device = nil
	s.ctx = nil
	s.started = false
	return nil
}

// Device returns information about the opened capture device.
func (s *MalgoSource) Device() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// ListCaptureDevices enumerates available capture devices.
func ListCaptureDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext([]malgo.Backend{platformBackend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() { _ = ctx.Uninit() }()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			slog.Debug("Skipping device with undecodable ID", "index", i, "error", err)
			continue
		}
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			ID:        decodedID,
			IsDefault: info.IsDefault == 1,
		})
	}
	return devices, nil
}

type selectedDevice struct {
	info    DeviceInfo
	pointer unsafe.Pointer
}

// selectCaptureDevice picks the capture device matching name, or the system
// default when name is empty.
func selectCaptureDevice(infos []malgo.DeviceInfo, name string) (selectedDevice, error) {
	if name == "" {
		// nil DeviceID lets miniaudio pick the default device.
		for i, info := range infos {
			if info.IsDefault == 1 {
				decodedID, _ := hexToASCII(info.ID.String())
				return selectedDevice{info: DeviceInfo{Index: i, Name: info.Name(), ID: decodedID, IsDefault: true}}, nil
			}
		}
		if len(infos) > 0 {
			decodedID, _ := hexToASCII(infos[0].ID.String())
			return selectedDevice{info: DeviceInfo{Index: 0, Name: infos[0].Name(), ID: decodedID}}, nil
		}
		return selectedDevice{}, fmt.Errorf("%w: no capture devices available", ErrDeviceNotFound)
	}

	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if decodedID == name || strings.Contains(info.Name(), name) {
			return selectedDevice{
				info:    DeviceInfo{Index: i, Name: info.Name(), ID: decodedID, IsDefault: info.IsDefault == 1},
				pointer: info.ID.Pointer(),
			}, nil
		}
	}
	return selectedDevice{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
}

// platformBackend selects the native audio backend for the current OS.
func platformBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

func malgoFormat(bitDepth int) malgo.FormatType {
	if bitDepth == 32 {
		return malgo.FormatS32
	}
	return malgo.FormatS16
}

// hexToASCII converts a hexadecimal device ID string to ASCII.
func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}
