package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wallet-sync/internal/observability"
	"wallet-sync/internal/snapshot"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 512
	wsSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket pushes the current snapshot, then every change, until the
// client disconnects. Clients only receive; inbound messages are ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newWSClient(conn)
	s.metrics.Subscribers.Inc()
	defer s.metrics.Subscribers.Dec()

	// Subscribe before reading the current state so no change is missed.
	unsubscribe := s.store.Subscribe(func(snap snapshot.Snapshot) {
		c.push(newSnapshotView(snap, s.nativeDecimals))
	})
	defer unsubscribe()
	c.push(newSnapshotView(s.store.GetSnapshot(), s.nativeDecimals))

	go c.writePump(s.metrics, s.logger)
	c.readPump()
	c.close()
}

// wsClient is one websocket subscriber. Only the newest views matter, so
// when the send buffer is full the oldest queued view is dropped.
type wsClient struct {
	conn *websocket.Conn
	send chan SnapshotView
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan SnapshotView, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// push queues view without blocking.
func (c *wsClient) push(view SnapshotView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.send <- view:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *wsClient) writePump(metrics *observability.Metrics, logger *log.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case view := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(view); err != nil {
				logger.Printf("WebSocket write failed: %v", err)
				return
			}
			metrics.SubscriberMessages.Inc()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump blocks until the connection fails or the client closes it.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}
