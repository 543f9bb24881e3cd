// Package live fans appended telemetry records out to websocket clients.
//
// Publishing never blocks: each client owns a bounded queue and a record is
// dropped for any client whose queue is full.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"anemometer-server/internal/modules/telemetry/types"
)

const (
	DefaultQueueSize = 16

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var ErrHubClosed = errors.New("live hub is closed")

// LatestFunc returns the record a newly connected client starts from.
type LatestFunc func() (types.Record, bool)

// Stats counts hub traffic since start.
type Stats struct {
	Clients   int
	Published uint64
	Sent      uint64
	Dropped   uint64
}

type client struct {
	id    string
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

type Hub struct {
	latest    LatestFunc
	queueSize int
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub(latest LatestFunc, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		latest:    latest,
		queueSize: queueSize,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// dashboards are served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues rec for every connected client.
func (h *Hub) Publish(_ context.Context, _ string, rec types.Record) error {
	msg, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	h.broadcast(msg)
	return nil
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, c := range h.clients {
		select {
		case c.queue <- msg:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			h.logger.Debug("live client queue full, record dropped", "client", c.id)
		}
	}
}

func (h *Hub) subscribe() (*client, error) {
	c := &client{
		id:    uuid.NewString(),
		queue: make(chan []byte, h.queueSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.clients[c.id] = c

	// Queued under the lock so it precedes every broadcast this client sees.
	if h.latest != nil {
		if rec, ok := h.latest(); ok {
			if msg, err := json.Marshal(rec); err == nil {
				c.queue <- msg
			}
		}
	}
	return c, nil
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Clients:   n,
		Published: h.published.Load(),
		Sent:      h.sent.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

// ServeHTTP upgrades the request and streams records until the client goes
// away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c, err := h.subscribe()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Info("live client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.readLoop(conn, c)
	h.writeLoop(conn, c)

	h.unsubscribe(c)
	_ = conn.Close()
	h.logger.Info("live client disconnected", "client", c.id)
}

// readLoop discards client frames; it exists to process pongs and notice
// the peer closing.
func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	defer c.stop()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("live write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws/live", h)
}
