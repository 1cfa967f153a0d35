package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSManager fans queue and limiter events out to connected websocket clients.
// Register, unregister, and broadcast all flow through one goroutine so the
// client set needs no lock.
type WSManager struct {
	upgrader   websocket.Upgrader
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	clients    map[*wsClient]struct{}
	log        *slog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewWSManager(log *slog.Logger) *WSManager {
	if log == nil {
		log = slog.Default()
	}
	return &WSManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*wsClient]struct{}),
		log:        log,
	}
}

// Run owns the client set until ctx is cancelled.
func (m *WSManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range m.clients {
				close(c.send)
				_ = c.conn.Close()
			}
			return
		case c := <-m.register:
			m.clients[c] = struct{}{}
			m.log.Info("ws.client_connected", "clients", len(m.clients))
		case c := <-m.unregister:
			if _, ok := m.clients[c]; ok {
				delete(m.clients, c)
				close(c.send)
				m.log.Info("ws.client_disconnected", "clients", len(m.clients))
			}
		case msg := <-m.broadcast:
			for c := range m.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer, drop it rather than stall the hub
					delete(m.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues an event for every connected client. Drops the event when
// the hub is saturated; the stream is advisory, not a source of truth.
func (m *WSManager) Broadcast(event string, payload any) {
	msg, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		m.log.Warn("ws.encode_failed", "event", event, "error", err)
		return
	}
	select {
	case m.broadcast <- msg:
	default:
	}
}

// HandleWS upgrades the connection and pumps broadcast messages to it.
func (m *WSManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("ws.upgrade_failed", "error", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 32)}
	m.register <- client

	go client.writePump()
	go client.readPump(m)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; it exists to detect disconnects.
func (c *wsClient) readPump(m *WSManager) {
	defer func() { m.unregister <- c }()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
