package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/audiolibrelab/fieldcapture/internal/config"
	"github.com/audiolibrelab/fieldcapture/internal/service"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// MQTTAgent serves the control protocol over an MQTT broker: commands arrive
// on the command topic, replies go to the status topic and lifecycle events
// to the event topic.
type MQTTAgent struct {
	cfg        config.MQTTConfig
	dispatcher *Dispatcher
	shutdown   chan struct{}

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTAgent(cfg config.MQTTConfig, svc service.Service) *MQTTAgent {
	return &MQTTAgent{
		cfg:        cfg,
		dispatcher: NewDispatcher(svc),
		shutdown:   make(chan struct{}),
	}
}

// Run connects to the broker and serves commands until the context is
// cancelled or a shutdown command arrives. Reconnection is handled by the
// underlying client.
func (a *MQTTAgent) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.cfg.Broker)
	opts.SetClientID(a.cfg.ClientID)
	opts.SetUsername(a.cfg.Username)
	opts.SetPassword(a.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(a.onConnect)
	opts.SetConnectionLostHandler(a.onConnectionLost)

	client := mqtt.NewClient(opts)
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connect timeout to %s", a.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	select {
	case <-ctx.Done():
		client.Disconnect(250)
		return ctx.Err()
	case <-a.shutdown:
		client.Disconnect(250)
		return nil
	}
}

func (a *MQTTAgent) onConnect(client mqtt.Client) {
	slog.Info("Connected to MQTT broker", "broker", a.cfg.Broker)

	token := client.Subscribe(a.cfg.CommandTopic, 1, a.onCommand)
	if !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
		slog.Error("Failed to subscribe to command topic",
			"topic", a.cfg.CommandTopic, "error", token.Error())
		return
	}

	a.publish(a.cfg.StatusTopic, a.dispatcher.StatusMessage())
}

func (a *MQTTAgent) onConnectionLost(_ mqtt.Client, err error) {
	slog.Warn("MQTT broker connection lost", "broker", a.cfg.Broker, "error", err)
}

func (a *MQTTAgent) onCommand(_ mqtt.Client, msg mqtt.Message) {
	replies, shutdown := a.dispatcher.Handle(msg.Payload())
	for _, reply := range replies {
		a.publish(a.cfg.StatusTopic, reply)
	}
	if shutdown {
		select {
		case <-a.shutdown:
		default:
			close(a.shutdown)
		}
	}
}

// Notify publishes a lifecycle event to the event topic. Events arriving
// while the broker link is down are dropped, never queued: the status
// published on reconnect resyncs the server.
func (a *MQTTAgent) Notify(_ context.Context, ev service.Event) {
	client := a.currentClient()
	// IsConnected reports true while a connect retry is still in flight;
	// IsConnectionOpen is true only for an established connection.
	if client == nil || !client.IsConnectionOpen() {
		return
	}
	a.publish(a.cfg.EventTopic, EncodeEvent(ev))
}

func (a *MQTTAgent) currentClient() mqtt.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *MQTTAgent) publish(topic string, payload []byte) {
	client := a.currentClient()
	if client == nil {
		return
	}
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		slog.Warn("MQTT publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}
