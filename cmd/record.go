package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record [filename]",
	Short: "Record audio from a capture device to a WAV file",
	Long: `Record audio from the configured capture device straight to a WAV file.
Recording runs until the duration elapses or Ctrl+C is pressed. A JSON
metadata sidecar is written next to the audio file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := ""
		if len(args) == 1 {
			filename = args[0]
		}

		if err := applyRecordFlags(cmd); err != nil {
			return err
		}

		duration, _ := cmd.Flags().GetDuration("duration")

		svc := service.New(cfg, cfgFile)
		defer svc.Close()

		if err := svc.StartRecording(service.StartOptions{
			Filename: filename,
			Duration: duration,
		}); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		if duration > 0 {
			slog.Info("Recording", "duration", duration, "press", "Ctrl+C to stop early")
		} else {
			slog.Info("Recording until stopped, press Ctrl+C to stop")
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		for {
			select {
			case <-sigChan:
				slog.Info("Stopping recording...")
				if err := svc.StopRecording(); err != nil {
					return fmt.Errorf("failed to stop recording: %w", err)
				}
			case ev := <-svc.Events():
				switch ev.Type {
				case service.EventCompleted:
					slog.Info("Recording completed", "file", ev.Filename)
					return nil
				case service.EventStopped:
					slog.Info("Recording stopped", "file", ev.Filename)
					return nil
				case service.EventError:
					return fmt.Errorf("recording failed: %s", ev.Error)
				}
			}
		}
	},
}

// applyRecordFlags overlays explicitly set flags onto the loaded config.
func applyRecordFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("samplerate") {
		cfg.Audio.SampleRate, _ = cmd.Flags().GetInt("samplerate")
	}
	if cmd.Flags().Changed("channels") {
		cfg.Audio.Channels, _ = cmd.Flags().GetInt("channels")
	}
	if cmd.Flags().Changed("bit-depth") {
		cfg.Audio.BitDepth, _ = cmd.Flags().GetInt("bit-depth")
	}
	if cmd.Flags().Changed("device") {
		cfg.Audio.Device, _ = cmd.Flags().GetString("device")
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Directory, _ = cmd.Flags().GetString("output-dir")
	}
	return cfg.Validate()
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "recording duration (0 records until stopped)")
	recordCmd.Flags().Int("samplerate", 0, "sample rate in Hz (overrides config)")
	recordCmd.Flags().Int("channels", 0, "channel count (overrides config)")
	recordCmd.Flags().Int("bit-depth", 0, "bit depth, 16 or 32 (overrides config)")
	recordCmd.Flags().String("device", "", "capture device name or ID (overrides config)")
	recordCmd.Flags().StringP("output-dir", "o", "", "output directory (overrides config)")
}
