package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/progrium/vidjockey/jockey"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// Event types sent to control clients.
const (
	EventState      = "state"
	EventStatus     = "status"
	EventTempo      = "tempo"
	EventControl    = "control"
	EventNowPlaying = "now_playing"
	EventResult     = "result"
)

// envelope is the wire format of every frame a client receives.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

type controlData struct {
	Control string `json:"control"`
	Enabled bool   `json:"enabled"`
}

type nowPlayingData struct {
	Path    string `json:"path"`
	StartMs int64  `json:"startMs"`
}

type resultData struct {
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// Hub fans display updates out to every connected control client. It
// implements jockey.Display so the session can publish straight to it.
type Hub struct {
	log        *zap.Logger
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	sendBuf    int
	stopped    chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}
}

type Client struct {
	ID   xid.ID
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log,
		broadcast:  make(chan []byte, 128),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		sendBuf:    32,
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", zap.Stringer("client", c.ID), zap.Int("clients", n))

		case c := <-h.unregister:
			h.remove(c, "closed")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				if !c.offer(msg) {
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "slow")
			}
		}
	}
}

// add reports false once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case <-h.stopped:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	h.log.Info("client disconnected", zap.Stringer("client", c.ID), zap.String("reason", reason), zap.Int("clients", n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// Publish queues an event for every client. It never blocks; a full queue
// drops the event.
func (h *Hub) Publish(typ string, data any) {
	msg, err := encode(typ, data)
	if err != nil {
		h.log.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full", zap.String("type", typ))
	}
}

func (h *Hub) SetStatusText(text string) {
	h.Publish(EventStatus, text)
}

func (h *Hub) SetTempoText(text string) {
	h.Publish(EventTempo, text)
}

func (h *Hub) SetControlEnabled(c jockey.Control, enabled bool) {
	h.Publish(EventControl, controlData{Control: c.String(), Enabled: enabled})
}

func (h *Hub) SetNowPlaying(path string, startMs int64) {
	h.Publish(EventNowPlaying, nowPlayingData{Path: path, StartMs: startMs})
}

func encode(typ string, data any) ([]byte, error) {
	now := time.Now()
	return json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   xid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.sendBuf),
	}
}

// writePump delivers queued frames until the hub closes the send channel.
func (c *Client) writePump() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := websocket.Message.Send(c.conn, string(msg)); err != nil {
			c.hub.drop(c)
			for range c.send {
			}
			return
		}
	}
}

// queue sends a frame to this client only.
func (c *Client) queue(typ string, data any) bool {
	msg, err := encode(typ, data)
	if err != nil {
		return false
	}
	return c.offer(msg)
}

// offer enqueues msg without blocking. It reports false when the queue is
// full or the client is closed.
func (c *Client) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
	}
	close(c.send)
}
