package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Format describes the PCM sample format of a capture stream.
type Format struct {
	SampleRate int `json:"samplerate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// BytesPerSample returns the width of a single sample in bytes.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BytesPerSecond returns the raw PCM data rate for this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample()
}

// Validate checks that the format is one the capture and WAV layers support.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: channels must be 1 (mono) or 2 (stereo), got %d", ErrInvalidFormat, f.Channels)
	}
	if f.BitDepth != 16 && f.BitDepth != 32 {
		return fmt.Errorf("%w: bit depth must be 16 or 32, got %d", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// Frame is one fixed-size buffer of consecutive interleaved PCM samples
// delivered by a capture source.
type Frame struct {
	Data   []byte // little-endian PCM, interleaved
	Frames int    // sample frames (samples per channel)
}

// Duration returns the play time of the frame for the given format.
func (fr Frame) Duration(f Format) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(fr.Frames) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame's PCM bytes into integer samples for the given
// format. Each channel sample becomes one entry.
func (fr Frame) Samples(f Format) []int {
	width := f.BytesPerSample()
	if width == 0 || len(fr.Data) < width {
		return nil
	}
	samples := make([]int, 0, len(fr.Data)/width)
	switch width {
	case 2:
		for i := 0; i+2 <= len(fr.Data); i += 2 {
			samples = append(samples, int(int16(binary.LittleEndian.Uint16(fr.Data[i:i+2]))))
		}
	case 4:
		for i := 0; i+4 <= len(fr.Data); i += 4 {
			samples = append(samples, int(int32(binary.LittleEndian.Uint32(fr.Data[i:i+4]))))
		}
	}
	return samples
}

// DeviceInfo describes an available capture device.
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"is_default"`
}

// Source delivers capture frames through a real-time callback.
// The callback runs on the capture thread and must never block; implementations
// of the consumer side are expected to hand frames to a bounded queue.
type Source interface {
	// Start opens the device and begins delivering frames to onFrame.
	Start(onFrame func(Frame)) error

	// Stop halts capture and releases the device.
	Stop() error

	// Device returns information about the opened device. Only valid after
	// a successful Start.
	Device() DeviceInfo
}
