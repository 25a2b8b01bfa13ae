package ws

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petwatch/internal/pipeline"
)

func newFeed(t *testing.T) (*EventHub, string) {
	t.Helper()
	hub := NewEventHub()
	mux := http.NewServeMux()
	mux.Handle(RoutePrefix, NewHandler(hub))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + RoutePrefix
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEventFeed_RoutesByCamera(t *testing.T) {
	hub, base := newFeed(t)
	cam2 := dial(t, base+"2")
	all := dial(t, base+"all")

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	hub.OnEvent(&pipeline.Event{CameraID: 1, Kind: pipeline.EventMotion, Area: 812, Time: at})
	hub.OnEvent(&pipeline.Event{
		CameraID:   2,
		Kind:       pipeline.EventDetection,
		Label:      "cat",
		Confidence: 0.87,
		Position:   image.Pt(120, 240),
		Time:       at,
	})

	msg := readMessage(t, cam2)
	assert.Equal(t, "detection", msg.Type)
	assert.Equal(t, 2, msg.CameraID)
	assert.Equal(t, "cat", msg.Label)
	assert.Equal(t, &Position{X: 120, Y: 240}, msg.Position)
	assert.True(t, at.Equal(msg.Timestamp))
	_, err := uuid.Parse(msg.ID)
	assert.NoError(t, err)

	first := readMessage(t, all)
	assert.Equal(t, "motion", first.Type)
	assert.Equal(t, 812.0, first.Area)
	assert.Nil(t, first.Position)
	second := readMessage(t, all)
	assert.Equal(t, msg.ID, second.ID)
}

func onlyClient(t *testing.T, hub *EventHub) *client {
	t.Helper()
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for _, conns := range hub.clients {
		for c := range conns {
			return c
		}
	}
	t.Fatal("no client registered")
	return nil
}

func TestEventHub_StalledClientDoesNotBlockPublish(t *testing.T) {
	hub, base := newFeed(t)
	conn := dial(t, base+"all")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	bus := pipeline.NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx, bus)
	}()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Hold the write lock as a connection with a full send window would.
	stalled := onlyClient(t, hub)
	stalled.mu.Lock()

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 10*eventBuffer; i++ {
			bus.Publish(&pipeline.Event{CameraID: 1, Kind: pipeline.EventDetection, Label: "cat", Time: time.Now()})
		}
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		stalled.mu.Unlock()
		t.Fatal("Publish waited on a stalled websocket client")
	}
	stalled.mu.Unlock()

	msg := readMessage(t, conn)
	assert.Equal(t, "detection", msg.Type)
	assert.Equal(t, 1, msg.CameraID)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEventHub_RunStopsWhenBusCloses(t *testing.T) {
	hub := NewEventHub()
	bus := pipeline.NewEventBus()
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(context.Background(), bus)
	}()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}

func TestEventFeed_RejectsBadCamera(t *testing.T) {
	_, base := newFeed(t)
	for _, key := range []string{"", "abc", "0", "-3"} {
		_, resp, err := websocket.DefaultDialer.Dial(base+key, nil)
		require.Error(t, err, key)
		require.NotNil(t, resp, key)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, key)
		resp.Body.Close()
	}
}

func TestEventFeed_UnregistersOnDisconnect(t *testing.T) {
	hub, base := newFeed(t)
	conn := dial(t, base+"3")
	require.Eventually(t, func() bool { return hub.HasClients("3") }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return !hub.HasClients("3") }, 2*time.Second, 5*time.Millisecond)

	hub.OnEvent(&pipeline.Event{CameraID: 3, Kind: pipeline.EventTrace, Points: 5})
	assert.Zero(t, hub.ClientCount())
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage(&pipeline.Event{CameraID: 4, Kind: pipeline.EventTrace, Points: 7, Position: image.Pt(1, 2)})
	assert.Equal(t, "trace", msg.Type)
	assert.Equal(t, 7, msg.Points)
	assert.Equal(t, &Position{X: 1, Y: 2}, msg.Position)
	assert.NotEqual(t, msg.ID, NewEventMessage(&pipeline.Event{}).ID)
}
