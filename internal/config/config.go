// Package config loads, validates and persists the recorder configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
)

// ErrInvalidConfig indicates a configuration that fails validation. It is
// surfaced synchronously, before any recording session starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the recorder.
type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio" json:"audio"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor" json:"monitor"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control" json:"control"`
}

// AudioConfig describes the capture format and device selection.
type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels" json:"channels"`
	BitDepth   int    `mapstructure:"bit_depth" yaml:"bit_depth" json:"bit_depth"`
	Device     string `mapstructure:"device" yaml:"device" json:"device"` // name or ID, empty for system default
}

// Format returns the capture format described by the audio section.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels, BitDepth: a.BitDepth}
}

// OutputConfig describes where recordings and their metadata sidecars land.
type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory" json:"directory"`
}

// PipelineConfig tunes the relay queue and the batching/flush policy of the
// disk writer. The poll and flush intervals are the only timing-based
// decisions in the data path.
type PipelineConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity" json:"queue_capacity"`
	FlushFrames   int           `mapstructure:"flush_frames" yaml:"flush_frames" json:"flush_frames"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" json:"flush_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
}

// MonitorConfig tunes the resource monitor that runs alongside a session.
type MonitorConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	DiskWarnPercent   float64       `mapstructure:"disk_warn_percent" yaml:"disk_warn_percent" json:"disk_warn_percent"`
	MemoryWarnPercent float64       `mapstructure:"memory_warn_percent" yaml:"memory_warn_percent" json:"memory_warn_percent"`
}

// ControlConfig configures the optional remote-control agents.
type ControlConfig struct {
	ServerURL string     `mapstructure:"server_url" yaml:"server_url" json:"server_url"` // websocket control server
	MQTT      MQTTConfig `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
}

// MQTTConfig configures the MQTT control agent.
type MQTTConfig struct {
	Broker       string `mapstructure:"broker" yaml:"broker" json:"broker"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Username     string `mapstructure:"username" yaml:"username" json:"username"`
	Password     string `mapstructure:"password" yaml:"password" json:"password"`
	CommandTopic string `mapstructure:"command_topic" yaml:"command_topic" json:"command_topic"`
	StatusTopic  string `mapstructure:"status_topic" yaml:"status_topic" json:"status_topic"`
	EventTopic   string `mapstructure:"event_topic" yaml:"event_topic" json:"event_topic"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   1,
			BitDepth:   16,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "recordings"),
		},
		Pipeline: PipelineConfig{
			QueueCapacity: 500,
			FlushFrames:   10,
			FlushInterval: 500 * time.Millisecond,
			PollInterval:  100 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			Interval:          30 * time.Second,
			DiskWarnPercent:   90,
			MemoryWarnPercent: 80,
		},
		Control: ControlConfig{
			MQTT: MQTTConfig{
				ClientID:     "fieldcapture",
				CommandTopic: "fieldcapture/command",
				StatusTopic:  "fieldcapture/status",
				EventTopic:   "fieldcapture/event",
			},
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/fieldcapture.yaml")
}

// Load reads the configuration from configFile, falling back to built-in
// defaults when the file does not exist. The returned config is validated.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			// No file yet: run on defaults, `config init` can write one.
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to configFile as YAML, creating parent
// directories as needed.
func (c *Config) Save(configFile string) error {
	if configFile == "" {
		configFile = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configFile, err)
	}
	return nil
}

// Validate checks the configuration for values the recorder cannot run with.
func (c *Config) Validate() error {
	if err := c.Audio.Format().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("%w: output directory must be set", ErrInvalidConfig)
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidConfig, c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.FlushFrames <= 0 {
		return fmt.Errorf("%w: flush frame threshold must be positive, got %d", ErrInvalidConfig, c.Pipeline.FlushFrames)
	}
	if c.Pipeline.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive, got %v", ErrInvalidConfig, c.Pipeline.FlushInterval)
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalidConfig, c.Pipeline.PollInterval)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("%w: monitor interval must be positive, got %v", ErrInvalidConfig, c.Monitor.Interval)
	}
	if c.Monitor.DiskWarnPercent <= 0 || c.Monitor.DiskWarnPercent > 100 {
		return fmt.Errorf("%w: disk warn percent must be in (0, 100], got %v", ErrInvalidConfig, c.Monitor.DiskWarnPercent)
	}
	if c.Monitor.MemoryWarnPercent <= 0 || c.Monitor.MemoryWarnPercent > 100 {
		return fmt.Errorf("%w: memory warn percent must be in (0, 100], got %v", ErrInvalidConfig, c.Monitor.MemoryWarnPercent)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("audio.sample_rate", def.Audio.SampleRate)
	v.SetDefault("audio.channels", def.Audio.Channels)
	v.SetDefault("audio.bit_depth", def.Audio.BitDepth)
	v.SetDefault("audio.device", def.Audio.Device)
	v.SetDefault("output.directory", def.Output.Directory)
	v.SetDefault("pipeline.queue_capacity", def.Pipeline.QueueCapacity)
	v.SetDefault("pipeline.flush_frames", def.Pipeline.FlushFrames)
	v.SetDefault("pipeline.flush_interval", def.Pipeline.FlushInterval)
	v.SetDefault("pipeline.poll_interval", def.Pipeline.PollInterval)
	v.SetDefault("monitor.interval", def.Monitor.Interval)
	v.SetDefault("monitor.disk_warn_percent", def.Monitor.DiskWarnPercent)
	v.SetDefault("monitor.memory_warn_percent", def.Monitor.MemoryWarnPercent)
	v.SetDefault("control.server_url", def.Control.ServerURL)
	v.SetDefault("control.mqtt.client_id", def.Control.MQTT.ClientID)
	v.SetDefault("control.mqtt.command_topic", def.Control.MQTT.CommandTopic)
	v.SetDefault("control.mqtt.status_topic", def.Control.MQTT.StatusTopic)
	v.SetDefault("control.mqtt.event_topic", def.Control.MQTT.EventTopic)
}

// expandPath expands a leading tilde to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
