package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConn is the part of *websocket.Conn the hub writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const sendBuffer = 256

// Client is one websocket connection. A single writer goroutine drains send,
// so messages reach the connection in the order they were queued.
type Client struct {
	conn      wsConn
	userID    string
	log       *zap.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) UserID() string {
	return c.userID
}

type outbound struct {
	userID string // empty for everyone
	data   []byte
}

// Hub fans events out to websocket clients. It implements Broadcaster.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", zap.String("user_id", client.userID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.log.Debug("client disconnected", zap.String("user_id", client.userID), zap.Int("total", len(h.clients)))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if msg.userID != "" && client.userID != msg.userID {
					continue
				}
				if !client.enqueue(msg.data) {
					// Too slow to keep up; it would only see a gapped stream.
					delete(h.clients, client)
					client.close()
					h.log.Warn("client send buffer full, disconnecting", zap.String("user_id", client.userID))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues e for every client. Events are dropped when the queue is
// full rather than stalling the game loop.
func (h *Hub) Broadcast(e Event) {
	h.enqueue("", e)
}

// SendToUser queues e for the connections of one user.
func (h *Hub) SendToUser(userID string, e Event) {
	if userID == "" {
		return
	}
	h.enqueue(userID, e)
}

func (h *Hub) enqueue(userID string, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", e.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{userID: userID, data: data}:
	default:
		h.log.Warn("broadcast channel full, dropping event", zap.String("type", e.Type))
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues a reply for this client behind any events already queued.
func (c *Client) Send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal reply", zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.log.Warn("client send buffer full, dropping reply", zap.String("user_id", c.userID))
	}
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.String("user_id", c.userID), zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// RegisterClient adds conn to the hub and starts its writer. userID may be
// empty for spectators.
func (h *Hub) RegisterClient(conn wsConn, userID string) *Client {
	client := &Client{
		conn:   conn,
		userID: userID,
		log:    h.log,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go client.writePump()

	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}
