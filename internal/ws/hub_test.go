package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitvex/bitvex/internal/events"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(srv.Close)
	return hub, cancel, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, cancel, url := startHub(t)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// let the registration reach the hub loop before broadcasting
	time.Sleep(100 * time.Millisecond)
	hub.HandleEvent(events.Event{
		Topic:     events.TopicOrderBook,
		Type:      events.TypeBookUpdated,
		Timestamp: time.Now(),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	var event events.Event
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, events.TypeBookUpdated, event.Type)
}

func TestShutdownReleasesClientsAndLateUpgrades(t *testing.T) {
	_, cancel, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	cancel()

	// the connected client is closed rather than left hanging
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// an upgrade arriving after the hub stopped must not block Serve; the
	// connection is either refused or closed immediately
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
