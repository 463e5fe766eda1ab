package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config must validate, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"negative sample rate", func(c *Config) { c.Audio.SampleRate = -8000 }},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }},
		{"unsupported bit depth", func(c *Config) { c.Audio.BitDepth = 24 }},
		{"empty output dir", func(c *Config) { c.Output.Directory = "" }},
		{"zero queue capacity", func(c *Config) { c.Pipeline.QueueCapacity = 0 }},
		{"zero flush frames", func(c *Config) { c.Pipeline.FlushFrames = 0 }},
		{"zero flush interval", func(c *Config) { c.Pipeline.FlushInterval = 0 }},
		{"zero poll interval", func(c *Config) { c.Pipeline.PollInterval = 0 }},
		{"zero monitor interval", func(c *Config) { c.Monitor.Interval = 0 }},
		{"disk warn above 100", func(c *Config) { c.Monitor.DiskWarnPercent = 150 }},
		{"memory warn zero", func(c *Config) { c.Monitor.MemoryWarnPercent = 0 }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", tc.name)
			continue
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got: %v", tc.name, err)
		}
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should use defaults, got: %v", err)
	}
	if cfg.Pipeline.QueueCapacity != 500 {
		t.Errorf("Expected default queue capacity 500, got %d", cfg.Pipeline.QueueCapacity)
	}
}

func TestLoadReadsFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldcapture.yaml")
	content := `audio:
  sample_rate: 16000
  channels: 1
output:
  directory: ` + dir + `
pipeline:
  flush_frames: 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Pipeline.FlushFrames != 20 {
		t.Errorf("Expected flush frames 20, got %d", cfg.Pipeline.FlushFrames)
	}
	// Unset values fall back to defaults.
	if cfg.Audio.BitDepth != 16 {
		t.Errorf("Expected default bit depth 16, got %d", cfg.Audio.BitDepth)
	}
	if cfg.Pipeline.FlushInterval != 500*time.Millisecond {
		t.Errorf("Expected default flush interval 500ms, got %v", cfg.Pipeline.FlushInterval)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldcapture.yaml")
	content := `audio:
  sample_rate: -1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "fieldcapture.yaml")

	cfg := Default()
	cfg.Audio.SampleRate = 48000
	cfg.Output.Directory = dir
	cfg.Pipeline.QueueCapacity = 250

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if loaded.Audio.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", loaded.Audio.SampleRate)
	}
	if loaded.Pipeline.QueueCapacity != 250 {
		t.Errorf("Expected queue capacity 250, got %d", loaded.Pipeline.QueueCapacity)
	}
	if loaded.Output.Directory != dir {
		t.Errorf("Expected output directory %s, got %s", dir, loaded.Output.Directory)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	expanded := expandPath("~/recordings")
	if expanded != filepath.Join(home, "recordings") {
		t.Errorf("Expected %s, got %s", filepath.Join(home, "recordings"), expanded)
	}

	plain := expandPath("/var/data")
	if plain != "/var/data" {
		t.Errorf("Absolute path must pass through, got %s", plain)
	}
}
