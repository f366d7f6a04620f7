package transport

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	wsHeartbeatInterval = 60 * time.Second
	wsIdleTimeout       = 90 * time.Second
)

type wsClient struct {
	id          string
	conn        net.Conn
	rw          *bufio.ReadWriter
	writeMu     sync.Mutex
	lastSeen    time.Time
	lastSeenMu  sync.Mutex
	workspaceID string
	wsMu        sync.Mutex
}

func (c *wsClient) touch() {
	c.lastSeenMu.Lock()
	c.lastSeen = time.Now()
	c.lastSeenMu.Unlock()
}

func (c *wsClient) idleSince() time.Duration {
	c.lastSeenMu.Lock()
	defer c.lastSeenMu.Unlock()
	return time.Since(c.lastSeen)
}

func (c *wsClient) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeTextFrame(c.rw, data); err != nil {
		return err
	}
	return c.rw.Flush()
}

func (c *wsClient) subscription() string {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.workspaceID
}

func (c *wsClient) setSubscription(id string) {
	c.wsMu.Lock()
	c.workspaceID = id
	c.wsMu.Unlock()
}

// wsHub is the WebSocket client set + heartbeat (spec.md §4.4.3). Its
// lifecycle is grounded on the teacher's clientsMu/clients + addClient/
// removeClient shape in internal/gateway/gateway.go, generalized from the
// coder/websocket library to the hand-rolled frame codec spec.md mandates.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func newWSHub(logger *slog.Logger) *wsHub {
	h := &wsHub{clients: map[*wsClient]struct{}{}, logger: logger, stop: make(chan struct{})}
	go h.heartbeatLoop()
	return h
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// broadcast sends v to every client whose subscription matches workspaceID,
// or to every client when workspaceID is empty (spec.md §4.4.3: "messages
// without a workspace are sent to all clients").
func (h *wsHub) broadcast(v any, workspaceID string) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		sub := c.subscription()
		if workspaceID == "" || sub == "" || sub == workspaceID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(v); err != nil {
			h.logger.Debug("ws: broadcast write failed, dropping client", "client", c.id, "error", err)
			h.remove(c)
		}
	}
}

func (h *wsHub) heartbeatLoop() {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.RLock()
			stale := make([]*wsClient, 0)
			for c := range h.clients {
				if c.idleSince() > wsIdleTimeout {
					stale = append(stale, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range stale {
				h.logger.Info("ws: closing idle client", "client", c.id)
				h.remove(c)
			}
		}
	}
}

// closeAll terminates the heartbeat and every connection (spec.md §4.4.3
// "Lifecycle").
func (h *wsHub) closeAll() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

type wsMessage struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// handleWS performs the RFC 6455 upgrade by hand (no external WebSocket
// library, per spec.md §9's explicit design note) and runs the client's
// read loop until disconnect.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" || !isUpgradeRequest(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	accept := wsAcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if _, err := rw.WriteString(resp); err != nil || rw.Flush() != nil {
		conn.Close()
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn, rw: rw, lastSeen: time.Now()}
	s.hub.add(client)
	defer s.hub.remove(client)

	_ = client.send(wsMessage{Type: "welcome", ClientID: client.id, Timestamp: time.Now().UnixMilli()})

	for {
		payload, err := readTextFrame(client.rw.Reader)
		if err != nil {
			return
		}
		client.touch()
		s.handleWSMessage(client, payload)
	}
}

func (s *Server) handleWSMessage(c *wsClient, raw string) {
	var msg wsMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return
	}
	switch msg.Type {
	case "ping":
		_ = c.send(wsMessage{Type: "pong"})
	case "subscribe":
		c.setSubscription(msg.WorkspaceID)
	}
}

func isUpgradeRequest(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" || r.Header.Get("Connection") != ""
}
