package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ariston-bridge/internal/bridges/ariston"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/logging"
)

// Frame types on the parameter stream.
const (
	FrameWatch    = "watch"
	FrameUnwatch  = "unwatch"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameWatching = "watching"
	FrameSnapshot = "snapshot"
	FrameChanged  = "changed"
	FrameError    = "error"

	// WatchAll matches every parameter key.
	WatchAll = "*"

	clientQueueSize = 256
)

// Frame is one JSON message on the parameter stream. Which fields are set
// depends on Type.
//
// Clients send watch/unwatch with Parameters and ping. The server answers with
// watching (the full watch list), a snapshot of the watched entries, changed
// frames as the cache moves, pong and error.
type Frame struct {
	Type       string                   `json:"type"`
	ID         string                   `json:"id,omitempty"`
	Time       time.Time                `json:"time"`
	Parameters []string                 `json:"parameters,omitempty"`
	Entries    map[string]ariston.Entry `json:"entries,omitempty"`
	Changes    []ariston.Change         `json:"changes,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

func encodeFrame(f Frame) []byte {
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return data
}

// Hub fans cache changes out to stream clients.
//
// Queues are closed only under the write lock and filled only under the read
// lock, so a frame is never sent on a closed queue.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// register adds a client.
func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", n)
}

// unregister removes a client and closes its queue. Safe to call twice.
func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	h.dropLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client disconnected", "clients", n)
}

func (h *Hub) dropLocked(c *streamClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.queue)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends each client the changes it watches. It is the cache
// subscriber and never blocks: a full queue drops the frame.
func (h *Hub) Publish(changes []ariston.Change) {
	if len(changes) == 0 {
		return
	}

	now := time.Now().UTC()
	var full []byte

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		matched := c.match(changes)
		if len(matched) == 0 {
			continue
		}
		var data []byte
		if len(matched) == len(changes) {
			if full == nil {
				full = encodeFrame(Frame{Type: FrameChanged, Time: now, Changes: changes})
			}
			data = full
		} else {
			data = encodeFrame(Frame{Type: FrameChanged, Time: now, Changes: matched})
		}
		h.enqueueLocked(c, data)
	}
}

// deliver queues one frame for a single client, if it is still registered.
func (h *Hub) deliver(c *streamClient, f Frame) {
	data := encodeFrame(f)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, data)
	}
}

func (h *Hub) enqueueLocked(c *streamClient, data []byte) {
	if data == nil {
		return
	}
	select {
	case c.queue <- data:
	default:
		h.logger.Debug("stream client queue full, frame dropped")
	}
}

// streamClient is one WebSocket connection and the keys it watches.
type streamClient struct {
	conn  *websocket.Conn
	queue chan []byte

	mu    sync.RWMutex
	watch map[string]struct{}
}

func newStreamClient(conn *websocket.Conn) *streamClient {
	return &streamClient{
		conn:  conn,
		queue: make(chan []byte, clientQueueSize),
		watch: make(map[string]struct{}),
	}
}

// watchesLocked reports whether key is watched directly, through its zoned
// base name ("ch_mode" covers "ch_mode_zone2") or through WatchAll.
func (c *streamClient) watchesLocked(key string) bool {
	if _, ok := c.watch[WatchAll]; ok {
		return true
	}
	if _, ok := c.watch[key]; ok {
		return true
	}
	if i := strings.LastIndex(key, "_zone"); i > 0 {
		_, ok := c.watch[key[:i]]
		return ok
	}
	return false
}

func (c *streamClient) match(changes []ariston.Change) []ariston.Change {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ariston.Change
	for _, ch := range changes {
		if c.watchesLocked(ch.Key) {
			out = append(out, ch)
		}
	}
	return out
}

func (c *streamClient) filter(entries map[string]ariston.Entry) map[string]ariston.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ariston.Entry)
	for key, e := range entries {
		if c.watchesLocked(key) {
			out[key] = e
		}
	}
	return out
}

// update adds or removes names and returns the resulting watch list.
func (c *streamClient) update(names []string, add bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range names {
		if add {
			c.watch[n] = struct{}{}
		} else {
			delete(c.watch, n)
		}
	}
	list := make([]string, 0, len(c.watch))
	for n := range c.watch {
		list = append(list, n)
	}
	return list
}

// streamTimings holds the keepalive settings with defaults applied.
type streamTimings struct {
	ping time.Duration
	pong time.Duration
}

func newStreamTimings(cfg config.WebSocketConfig) streamTimings {
	t := streamTimings{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
	if t.ping <= 0 {
		t.ping = 30 * time.Second
	}
	if t.pong <= 0 {
		t.pong = 10 * time.Second
	}
	return t
}

// handleWebSocket upgrades to the parameter stream. The stream is read-only,
// so no token is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newStreamClient(conn)
	s.hub.register(c)

	t := newStreamTimings(s.wsCfg)
	go c.writeLoop(t)
	go s.readLoop(c, t)
}

// readLoop handles client frames until the connection fails or closes.
func (s *Server) readLoop(c *streamClient, t streamTimings) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
	}()

	if s.wsCfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.ping + t.pong))
	}
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // see above

		var in Frame
		if err := json.Unmarshal(data, &in); err != nil {
			s.hub.deliver(c, Frame{Type: FrameError, Error: "invalid JSON frame"})
			continue
		}
		s.handleFrame(c, in)
	}
}

func (s *Server) handleFrame(c *streamClient, in Frame) {
	switch in.Type {
	case FrameWatch:
		if len(in.Parameters) == 0 {
			s.hub.deliver(c, Frame{Type: FrameError, ID: in.ID, Error: "watch needs at least one parameter"})
			return
		}
		list := c.update(in.Parameters, true)
		s.logger.Debug("stream client watching", "parameters", list)
		s.hub.deliver(c, Frame{Type: FrameWatching, ID: in.ID, Parameters: list})
		s.hub.deliver(c, Frame{Type: FrameSnapshot, ID: in.ID, Entries: c.filter(s.engine.Snapshot())})
	case FrameUnwatch:
		list := c.update(in.Parameters, false)
		s.hub.deliver(c, Frame{Type: FrameWatching, ID: in.ID, Parameters: list})
	case FramePing:
		s.hub.deliver(c, Frame{Type: FramePong, ID: in.ID})
	default:
		s.hub.deliver(c, Frame{Type: FrameError, ID: in.ID, Error: "unknown frame type: " + in.Type})
	}
}

// writeLoop drains the queue and keeps the connection alive with pings. It
// exits when the queue is closed or a write fails.
func (c *streamClient) writeLoop(t streamTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.pong)) //nolint:errcheck // write error reported below
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
