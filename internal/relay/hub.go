package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/metrics"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 25 * time.Second
	sendBacklog = 16
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub is the websocket push channel. Each subscriber has a bounded send
// queue; a subscriber whose queue is full is dropped.
type Hub struct {
	src      Source
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// NewHub accepts upgrades from allowedOrigin, or from any origin when it is
// "*" or empty.
func NewHub(src Source, allowedOrigin string, log *logger.Logger) *Hub {
	h := &Hub{
		src:     src,
		log:     logger.OrGlobal(log).With("component", "ws_hub"),
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	return h
}

func (h *Hub) Name() string { return "websocket" }

// ServeHTTP upgrades the request and registers the subscriber. A fresh
// snapshot is queued immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBacklog),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.RelaySubscribers.Set(float64(n))
	h.log.Infow("subscriber connected", "id", c.id, "remote", r.RemoteAddr, "subscribers", n)

	if h.src.Live() {
		if snap := h.src.Read(); snap.Fresh() {
			if msg, err := Encode(snap); err == nil {
				c.send <- msg
			}
		}
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast queues msg for every subscriber without blocking.
func (h *Hub) Broadcast(_ context.Context, msg []byte) error {
	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warnw("dropping slow subscriber", "id", c.id)
		h.remove(c)
	}
	return nil
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		metrics.RelaySubscribers.Set(float64(n))
		h.log.Infow("subscriber disconnected", "id", c.id, "subscribers", n)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debugw("ws write failed", "id", c.id, "err", err)
				return
			}
		case <-ticker.C:
			// WriteControl is safe to call concurrently with other writes.
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.log.Debugw("ws ping failed", "id", c.id, "err", err)
				return
			}
		}
	}
}

// readLoop discards client messages and keeps the read deadline moving on
// pongs. Any read error ends the subscription.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
