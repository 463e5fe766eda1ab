package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestFormatValidate(t *testing.T) {
	valid := Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid format, got error: %v", err)
	}

	cases := []Format{
		{SampleRate: 0, Channels: 1, BitDepth: 16},
		{SampleRate: -44100, Channels: 1, BitDepth: 16},
		{SampleRate: 16000, Channels: 3, BitDepth: 16},
		{SampleRate: 16000, Channels: 0, BitDepth: 16},
		{SampleRate: 16000, Channels: 1, BitDepth: 24},
		{SampleRate: 16000, Channels: 1, BitDepth: 8},
	}
	for _, f := range cases {
		if err := f.Validate(); err == nil {
			t.Errorf("Expected error for format %+v", f)
		}
	}
}

func TestFormatRates(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if f.BytesPerSample() != 2 {
		t.Errorf("Expected 2 bytes per sample, got %d", f.BytesPerSample())
	}
	if f.BytesPerSecond() != 32000 {
		t.Errorf("Expected 32000 bytes/s, got %d", f.BytesPerSecond())
	}

	stereo := Format{SampleRate: 48000, Channels: 2, BitDepth: 32}
	if stereo.BytesPerSecond() != 48000*2*4 {
		t.Errorf("Expected %d bytes/s, got %d", 48000*2*4, stereo.BytesPerSecond())
	}
}

func TestFrameSamples16Bit(t *testing.T) {
	want := []int{0, 1000, -1000, 32767, -32768}
	data := make([]byte, len(want)*2)
	for i, s := range want {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s)))
	}

	fr := Frame{Data: data, Frames: len(want)}
	got := fr.Samples(Format{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestFrameDuration(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	fr := Frame{Frames: 1600}
	if d := fr.Duration(f); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", d)
	}
}

func TestCalculateLevelSilence(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	fr := Frame{Data: make([]byte, 3200), Frames: 1600}

	level := CalculateLevel(fr, f)
	if level.Level != 0 {
		t.Errorf("Expected silence level 0, got %d", level.Level)
	}
	if level.Clipping {
		t.Error("Silence should not clip")
	}
}

func TestCalculateLevelClipping(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	data := make([]byte, 200)
	for i := 0; i+2 <= len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(32767)))
	}

	level := CalculateLevel(Frame{Data: data, Frames: 100}, f)
	if !level.Clipping {
		t.Error("Full-scale signal should report clipping")
	}
	if level.Level < 95 {
		t.Errorf("Clipping level should be at least 95, got %d", level.Level)
	}
}

func TestCalculateLevelEmpty(t *testing.T) {
	level := CalculateLevel(Frame{}, Format{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if level.Level != 0 || level.Clipping {
		t.Errorf("Empty frame should be zero level, got %+v", level)
	}
}
