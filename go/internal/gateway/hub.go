package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/events"
)

// Hub fans engine events out to websocket clients.
type Hub struct {
	conns    map[*Connection]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one websocket client. A nil or empty Types set receives every event.
type Connection struct {
	ID          string
	Types       map[events.Type]bool
	Conn        *websocket.Conn
	Send        chan []byte
	hub         *Hub
	ConnectedAt time.Time
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

func NewHub(config ConnectionConfig) *Hub {
	return &Hub{
		conns: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Run broadcasts every event from in until ctx is done or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan events.Event) {
	log.Info().Msg("event hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("event hub shutting down")
			return
		case evt, ok := <-in:
			if !ok {
				h.closeAll()
				return
			}
			h.Broadcast(evt)
		}
	}
}

// Upgrade turns the request into a websocket connection and registers it.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, types []events.Type) (*Connection, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		ConnectedAt: time.Now(),
	}
	if len(types) > 0 {
		c.Types = make(map[events.Type]bool, len(types))
		for _, t := range types {
			c.Types[t] = true
		}
	}

	h.register(c)
	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.ID).Int("types", len(types)).Msg("websocket connection established")
	return c, nil
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c] {
		delete(h.conns, c)
		close(c.Send)
		log.Debug().Str("connection_id", c.ID).Msg("connection unregistered")
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.unregister(c)
	}
}

// Broadcast sends evt to every connection subscribed to its type. Clients that cannot
// keep up are disconnected.
func (h *Hub) Broadcast(evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Sends happen under the read lock so unregister cannot close a channel mid-send.
	h.mu.RLock()
	var sent int
	var slow []*Connection
	for c := range h.conns {
		if len(c.Types) > 0 && !c.Types[evt.Type] {
			continue
		}
		select {
		case c.Send <- data:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
		h.unregister(c)
	}

	log.Debug().Str("event_type", string(evt.Type)).Int("connections", sent).Msg("event broadcasted")
}

// Count is the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to websocket")
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump only services control frames. Clients do not send commands.
func (c *Connection) readPump() {
	defer c.hub.unregister(c)

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
