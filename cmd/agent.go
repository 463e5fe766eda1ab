package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fieldcapture/internal/control"
	"github.com/audiolibrelab/fieldcapture/internal/service"
)

// controlAgent is a transport serving the control protocol.
type controlAgent interface {
	Run(ctx context.Context) error
	Notify(ctx context.Context, ev service.Event)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run as a remotely controlled recording agent",
	Long: `Run FieldCapture as an agent controlled by a central server.
Commands arrive over WebSocket and/or MQTT depending on what is
configured; lifecycle events are pushed back the same way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if server, _ := cmd.Flags().GetString("server"); server != "" {
			cfg.Control.ServerURL = server
		}
		if broker, _ := cmd.Flags().GetString("mqtt-broker"); broker != "" {
			cfg.Control.MQTT.Broker = broker
		}

		var agents []controlAgent
		svc := service.New(cfg, cfgFile)
		defer svc.Close()

		if cfg.Control.ServerURL != "" {
			agents = append(agents, control.NewWSAgent(cfg.Control.ServerURL, svc))
			slog.Info("WebSocket control enabled", "url", cfg.Control.ServerURL)
		}
		if cfg.Control.MQTT.Broker != "" {
			agents = append(agents, control.NewMQTTAgent(cfg.Control.MQTT, svc))
			slog.Info("MQTT control enabled", "broker", cfg.Control.MQTT.Broker)
		}
		if len(agents) == 0 {
			return fmt.Errorf("no control endpoint configured: set control.server_url or control.mqtt.broker")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Fan lifecycle events out to every transport.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-svc.Events():
					for _, a := range agents {
						a.Notify(ctx, ev)
					}
				}
			}
		}()

		errCh := make(chan error, len(agents))
		for _, a := range agents {
			go func(a controlAgent) { errCh <- a.Run(ctx) }(a)
		}

		// The first agent to exit takes the process down; a shutdown command
		// on one transport stops the other too.
		err := <-errCh
		cancel()
		for i := 1; i < len(agents); i++ {
			<-errCh
		}

		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("agent failed: %w", err)
		}
		slog.Info("Agent stopped")
		return nil
	},
}

func init() {
	agentCmd.Flags().String("server", "", "WebSocket control server URL (overrides config)")
	agentCmd.Flags().String("mqtt-broker", "", "MQTT broker URL (overrides config)")
}
