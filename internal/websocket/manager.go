// Package websocket fans auction room events out to connected clients.
// Each auction item has a subscriber room keyed by its id; the broadcast
// daemon feeds rooms from the Redis Pub/Sub bridge.
package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Manager manages all WebSocket connections.
type Manager struct {
	// rooms maps item id -> set of clients watching that auction.
	rooms sync.Map // map[string]*sync.Map

	register   chan *Client
	unregister chan *Client
	broadcast  chan *RoomMessage

	log *slog.Logger
}

// Client represents one WebSocket subscriber in an auction room.
type Client struct {
	ID     string
	Room   string
	Conn   *websocket.Conn
	Send   chan []byte
}

// RoomMessage is a payload addressed to every client in a room.
type RoomMessage struct {
	Room    string
	Payload []byte
}

// NewManager creates a new WebSocket manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *RoomMessage, 256),
		log:        log.With("component", "websocket"),
	}
}

// Run is the manager's main loop; run it in a goroutine.
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)
		case client := <-m.unregister:
			m.unregisterClient(client)
		case message := <-m.broadcast:
			m.broadcastToRoom(message.Room, message.Payload)
		}
	}
}

// RegisterClient adds a client to its auction room.
func (m *Manager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient removes a client and closes its connection.
func (m *Manager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// Broadcast sends a payload to every client watching the room.
func (m *Manager) Broadcast(room string, payload []byte) {
	m.broadcast <- &RoomMessage{Room: room, Payload: payload}
}

func (m *Manager) registerClient(client *Client) {
	subscribers, _ := m.rooms.LoadOrStore(client.Room, &sync.Map{})
	subscribers.(*sync.Map).Store(client, true)
	m.log.Info("client subscribed", "client_id", client.ID, "room", client.Room)
	go client.writePump()
}

func (m *Manager) unregisterClient(client *Client) {
	if subscribers, ok := m.rooms.Load(client.Room); ok {
		subscribers.(*sync.Map).Delete(client)
	}
	close(client.Send)
	client.Conn.Close()
	m.log.Info("client unsubscribed", "client_id", client.ID, "room", client.Room)
}

func (m *Manager) broadcastToRoom(room string, payload []byte) {
	subscribers, ok := m.rooms.Load(room)
	if !ok {
		return
	}
	subscribers.(*sync.Map).Range(func(key, _ interface{}) bool {
		client := key.(*Client)
		select {
		case client.Send <- payload:
		default:
			// Full send buffer: drop the slow client so it cannot
			// stall the rest of the room.
			go m.UnregisterClient(client)
		}
		return true
	})
}

// SubscriberCount returns how many clients are watching a room.
func (m *Manager) SubscriberCount(room string) int {
	subscribers, ok := m.rooms.Load(room)
	if !ok {
		return 0
	}
	count := 0
	subscribers.(*sync.Map).Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// writePump pumps messages from the Send channel to the connection, with a
// periodic ping to keep it alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so disconnects are noticed; inbound
// payloads are ignored (the room is broadcast-only).
func (c *Client) readPump(unregister chan *Client) {
	defer func() {
		unregister <- c
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// StartReadPump starts the read pump for this client.
func (c *Client) StartReadPump(unregister chan *Client) {
	go c.readPump(unregister)
}
