package api

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

	"argus/core"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	go hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, zap.NewNop().Sugar(), w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)
	return conn
}

func TestHubBroadcastEvent(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	event := core.NewEvent(core.SourceSyslog)
	event.EventType = "firewall"
	event.Description = "Dropped packet"
	hub.BroadcastEvent(event)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, ChannelEvents, msg.Channel)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, event.EventID, data["id"])
	assert.Equal(t, "firewall", data["event_type"])
}

func TestHubBroadcastAlert(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	rule := &core.Rule{ID: "r1", Name: "SSH brute force", Severity: core.SeverityCritical}
	event := core.NewEvent(core.SourceAuth)
	alert := core.NewAlert(rule, event, "Threshold exceeded: 5 events in 60s (group: 10.0.0.1)")
	hub.BroadcastAlert(alert)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, ChannelAlerts, msg.Channel)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, alert.AlertID, data["id"])
	assert.Equal(t, core.SeverityCritical, data["severity"])
}

func TestHubClientDisconnect(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}
