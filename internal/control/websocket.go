package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/audiolibrelab/fieldcapture/internal/service"
)

const reconnectDelay = 5 * time.Second

// WSAgent connects to a central control server over WebSocket, forwards
// commands to the recorder service and pushes lifecycle events back.
type WSAgent struct {
	url        string
	dispatcher *Dispatcher

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSAgent(url string, svc service.Service) *WSAgent {
	return &WSAgent{
		url:        url,
		dispatcher: NewDispatcher(svc),
	}
}

// Run connects and serves commands until the context is cancelled or a
// shutdown command arrives. Lost connections are retried every 5 seconds.
func (a *WSAgent) Run(ctx context.Context) error {
	for {
		err := a.serve(ctx)
		switch {
		case errors.Is(err, errShutdown):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}

		slog.Warn("Control server connection lost, reconnecting",
			"url", a.url, "delay", reconnectDelay, "error", err)
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errShutdown = errors.New("shutdown requested")

// serve handles one connection: dial, initial status, then the read loop.
func (a *WSAgent) serve(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}()

	slog.Info("Connected to control server", "url", a.url)

	if err := conn.Write(ctx, websocket.MessageText, a.dispatcher.StatusMessage()); err != nil {
		return err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		replies, shutdown := a.dispatcher.Handle(data)
		for _, reply := range replies {
			if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
				return err
			}
		}
		if shutdown {
			return errShutdown
		}
	}
}

// Notify pushes a lifecycle event to the server. Events arriving while
// disconnected are dropped; the server resyncs from the status sent on
// reconnect.
func (a *WSAgent) Notify(ctx context.Context, ev service.Event) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, EncodeEvent(ev)); err != nil {
		slog.Warn("Failed to push event to control server", "event", ev.Type, "error", err)
	}
}
