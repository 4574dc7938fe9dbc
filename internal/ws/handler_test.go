package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid_simulator/internal/coordinator"
	"microgrid_simulator/internal/model"
)

// dialHandler sets up a test server with the handler and returns a WS connection.
func dialHandler(t *testing.T, handler *Handler) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readJSON reads the next JSON message from the connection.
func readJSON(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_BroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	bridge := NewBridge(hub)
	handler := NewHandler(hub, bridge)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	waitForClients(t, hub, 1)

	bridge.OnRoundStart(coordinator.RoundInfo{
		Round:   1,
		SimTime: model.SimulatedTime{Day: 1, Hour: 7},
	})

	env := readJSON(t, conn)
	assert.Equal(t, TypeRoundStart, env.Type)

	var p RoundStartPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, int64(1), p.Round)
	assert.Equal(t, 7, p.Hour)
}

func TestHandler_NewClientGetsLastRoundResult(t *testing.T) {
	hub := NewHub()
	bridge := NewBridge(hub)
	handler := NewHandler(hub, bridge)

	// A round completes before anyone connects.
	bridge.OnRoundSummary(coordinator.RoundSummary{
		Round:       4,
		SimTime:     model.SimulatedTime{Day: 1, Hour: 10},
		TotalTraded: 3.2,
	})

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	env := readJSON(t, conn)
	assert.Equal(t, TypeRoundResult, env.Type)

	var p RoundResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, int64(4), p.Round)
	assert.InDelta(t, 3.2, p.TotalTradedKWh, 1e-9)
}

func TestHandler_ClientMessagesIgnored(t *testing.T) {
	hub := NewHub()
	bridge := NewBridge(hub)
	handler := NewHandler(hub, bridge)

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	waitForClients(t, hub, 1)

	// The feed is one-way; client writes must not disturb the broadcast path.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"anything"}`)))

	bridge.OnRoundStart(coordinator.RoundInfo{Round: 2, SimTime: model.SimulatedTime{Day: 1, Hour: 8}})
	env := readJSON(t, conn)
	assert.Equal(t, TypeRoundStart, env.Type)
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	bridge := NewBridge(hub)
	handler := NewHandler(hub, bridge)

	conn, cleanup := dialHandler(t, handler)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	cleanup()
}
