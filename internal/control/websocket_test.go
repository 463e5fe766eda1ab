package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/service"
)

// startControlServer launches a test WebSocket control server. The handler
// receives the accepted connection; the server closes with the test.
func startControlServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func writeMessage(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestWSAgentSendsInitialStatus(t *testing.T) {
	got := make(chan map[string]any, 1)
	url := startControlServer(t, func(conn *websocket.Conn) {
		got <- readMessage(t, conn)
		writeMessage(t, conn, map[string]any{"type": "command", "command": "shutdown"})
		// Give the agent a moment to process before the connection drops.
		time.Sleep(50 * time.Millisecond)
	})

	svc := &fakeService{devices: []audio.DeviceInfo{{Name: "mic", ID: "hw:0"}}}
	agent := NewWSAgent(url, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, agent.Run(ctx))

	status := <-got
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, false, status["recording"])
	assert.Contains(t, status, "capabilities")
}

func TestWSAgentDispatchesCommands(t *testing.T) {
	reply := make(chan map[string]any, 1)
	url := startControlServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn) // initial status
		writeMessage(t, conn, map[string]any{"type": "command", "command": "get_status"})
		reply <- readMessage(t, conn)
		writeMessage(t, conn, map[string]any{"type": "command", "command": "shutdown"})
		time.Sleep(50 * time.Millisecond)
	})

	svc := &fakeService{recording: true}
	agent := NewWSAgent(url, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, agent.Run(ctx))

	status := <-reply
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, true, status["recording"])
}

func TestWSAgentNotifyPushesEvent(t *testing.T) {
	events := make(chan map[string]any, 1)
	connected := make(chan struct{})
	url := startControlServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn) // initial status
		close(connected)
		events <- readMessage(t, conn)
		writeMessage(t, conn, map[string]any{"type": "command", "command": "shutdown"})
		time.Sleep(50 * time.Millisecond)
	})

	agent := NewWSAgent(url, &fakeService{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("agent never connected")
	}

	agent.Notify(ctx, service.Event{
		Type:      service.EventStarted,
		Timestamp: time.Now(),
		Filename:  "take.wav",
	})

	ev := <-events
	assert.Equal(t, "event", ev["type"])
	assert.Equal(t, "recording_started", ev["event"])
	assert.Equal(t, "take.wav", ev["filename"])

	require.NoError(t, <-done)
}

func TestWSAgentNotifyWhileDisconnectedIsNoop(t *testing.T) {
	agent := NewWSAgent("ws://127.0.0.1:1/nope", &fakeService{})
	// Must not panic or block.
	agent.Notify(context.Background(), service.Event{Type: service.EventStopped})
}

func TestWSAgentStopsOnContextCancel(t *testing.T) {
	url := startControlServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn)
		// Hold the connection open; the agent exits via its context.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _, _ = conn.Read(ctx)
	})

	agent := NewWSAgent(url, &fakeService{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not stop on cancel")
	}
}
