package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades dashboard connections. The feed is one-way: clients
// receive round telemetry and send nothing the server acts on.
type Handler struct {
	hub    *Hub
	bridge *Bridge
}

func NewHandler(hub *Hub, bridge *Bridge) *Handler {
	return &Handler{hub: hub, bridge: bridge}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	// Catch the new client up with the latest round result.
	if msg := h.bridge.LastRoundResult(); msg != nil {
		select {
		case client.send <- msg:
		default:
		}
	}

	h.readPump(client)
}

// readPump discards client messages and tears the connection down on error.
func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}
