package notify

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"optichat/pkg/logx"
)

// Hub is a WebSocket bridge that broadcasts execution events to clients
// subscribed by thread id. It implements Notifier.
type Hub struct {
	logger   *logx.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // thread_id -> connected clients
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates an empty WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		logger: logx.NewLogger("ws-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The orchestrator sits behind the product's gateway; origin
			// policy is enforced there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades a client connection. The thread id comes from the
// `thread_id` query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		http.Error(w, "thread_id query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed for thread %s: %v", threadID, err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Event, 64),
	}
	h.register(threadID, c)

	go h.writeLoop(threadID, c)
	go h.readLoop(threadID, c)
}

func (h *Hub) register(threadID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[threadID] == nil {
		h.clients[threadID] = make(map[*client]struct{})
	}
	h.clients[threadID][c] = struct{}{}
	h.logger.Info("Client subscribed to thread %s (%d total)", threadID, len(h.clients[threadID]))
}

func (h *Hub) unregister(threadID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[threadID]; ok {
		if _, present := clients[c]; present {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.clients, threadID)
			}
		}
	}
}

// writeLoop drains the client's send channel onto the connection.
func (h *Hub) writeLoop(threadID string, c *client) {
	defer func() {
		_ = c.conn.Close()
	}()

	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			h.logger.Debug("Write to thread %s client failed: %v", threadID, err)
			h.unregister(threadID, c)
			return
		}
	}
}

// readLoop discards inbound frames and tears the client down on error.
// Clients are subscribe-only; the read side exists to detect disconnects.
func (h *Hub) readLoop(threadID string, c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(threadID, c)
			return
		}
	}
}

// Broadcast fans an event out to every client subscribed to the thread.
// Slow clients are dropped rather than blocking the execution path. The read
// lock is held across the sends so no channel closes mid-broadcast; sends
// are non-blocking so the lock is held only briefly.
func (h *Hub) Broadcast(threadID string, event Event) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients[threadID] {
		select {
		case c.send <- event:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow client on thread %s", threadID)
		h.unregister(threadID, c)
	}
}

// ClientCount returns the number of clients subscribed to a thread.
func (h *Hub) ClientCount(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[threadID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for threadID, clients := range h.clients {
		for c := range clients {
			close(c.send)
			_ = c.conn.Close()
		}
		delete(h.clients, threadID)
	}
}

// Notifier implementation: each send becomes a broadcast on the thread.

func (h *Hub) SendAgentStarted(_ context.Context, meta Meta) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventAgentStarted, meta, nil))
	return nil
}

func (h *Hub) SendAgentThinking(_ context.Context, meta Meta, text string, stepNumber int) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventAgentThinking, meta, map[string]any{
		"text": text,
		"step": stepNumber,
	}))
	return nil
}

func (h *Hub) SendToolExecuting(_ context.Context, meta Meta, toolName string) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventToolExecuting, meta, map[string]any{
		"tool": toolName,
	}))
	return nil
}

func (h *Hub) SendToolCompleted(_ context.Context, meta Meta, toolName string, result any) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventToolCompleted, meta, map[string]any{
		"tool":   toolName,
		"result": result,
	}))
	return nil
}

func (h *Hub) SendAgentCompleted(_ context.Context, meta Meta, result any, durationMS int64) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventAgentCompleted, meta, map[string]any{
		"result":      result,
		"duration_ms": durationMS,
	}))
	return nil
}

func (h *Hub) SendFallbackNotification(_ context.Context, meta Meta, fallbackKind string) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventFallback, meta, map[string]any{
		"kind":   fallbackKind,
		"status": "degraded",
	}))
	return nil
}

func (h *Hub) SendPipelineCompleted(_ context.Context, meta Meta, success bool, stepCount int) error {
	h.Broadcast(meta.ThreadID, NewEvent(EventPipelineCompleted, meta, map[string]any{
		"success": success,
		"steps":   stepCount,
	}))
	return nil
}
