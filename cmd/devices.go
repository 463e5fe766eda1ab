package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio capture devices",
	Long:  `List all audio capture devices available through the platform audio backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := audio.ListCaptureDevices()
		if err != nil {
			return fmt.Errorf("failed to enumerate capture devices: %w", err)
		}

		if len(devices) == 0 {
			fmt.Println("No capture devices found")
			return nil
		}

		fmt.Printf("Capture devices (%d found):\n", len(devices))
		for _, dev := range devices {
			marker := " "
			if dev.IsDefault {
				marker = "*"
			}
			fmt.Printf("  %s %d. %s\n", marker, dev.Index, dev.Name)
		}
		fmt.Println("\n  * = system default. Select a device with --device or audio.device in the config.")
		return nil
	},
}
