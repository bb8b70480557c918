package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
	"github.com/pourwell/pourwell-core/internal/infrastructure/logging"
)

// The event stream at /api/v1/ws pushes dispense progress to bar displays
// and phones. A client picks topics when it connects (?topics=a,b) and can
// change them by sending
//
//	{"action": "follow", "topics": ["dispense:<id>"]}
//	{"action": "unfollow", "topics": ["pour.updated"]}
//
// A topic is an event name, "dispense:<id>" for every event of one
// dispense, or "*" for everything. A dispense topic is dropped once that
// dispense's completion has been sent.
const (
	TopicAll            = "*"
	TopicDispensePrefix = "dispense:"

	StreamActionFollow   = "follow"
	StreamActionUnfollow = "unfollow"

	// Control events sent only to the client that asked.
	StreamEventFollowing = "following"
	StreamEventError     = "error"

	streamQueueSize = 64
)

// StreamEvent is one message sent to a client.
type StreamEvent struct {
	Event      string   `json:"event"`
	DispenseID string   `json:"dispense_id,omitempty"`
	At         string   `json:"at"`
	Data       any      `json:"data,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// StreamRequest is one message received from a client.
type StreamRequest struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// DispenseTopic returns the topic following every event of one dispense.
func DispenseTopic(id string) string {
	return TopicDispensePrefix + id
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans dispense events out to stream clients. It implements
// dispense.WSHub; Broadcast never blocks on a client.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
		if c.conn != nil {
			c.conn.Close()
		}
	}
	if len(clients) > 0 {
		h.logger.Info("event stream closed", "clients", len(clients))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every client following it. Payloads carrying a
// dispense ID also reach clients following that dispense.
func (h *Hub) Broadcast(event string, payload any) {
	id := dispenseIDOf(payload)
	data, err := json.Marshal(StreamEvent{
		Event:      event,
		DispenseID: id,
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Data:       payload,
	})
	if err != nil {
		h.logger.Error("encoding stream event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	finished := event == dispense.EventDispenseCompleted && id != ""
	for _, c := range clients {
		if !c.follows(event, id) {
			continue
		}
		if !c.push(data) {
			h.logger.Warn("stream client too slow, event dropped", "event", event, "dispense_id", id)
		}
		if finished {
			c.unfollow(DispenseTopic(id))
		}
	}
}

func (h *Hub) add(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// dispenseIDOf extracts the dispense a payload belongs to.
func dispenseIDOf(payload any) string {
	switch p := payload.(type) {
	case dispense.PourEvent:
		return p.DispenseID
	case dispense.CompletedEvent:
		return p.DispenseID
	}
	return ""
}

// streamClient is one connection. Only writeLoop writes data frames.
type streamClient struct {
	conn     *websocket.Conn
	out      chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	topics map[string]struct{}
}

func newStreamClient(conn *websocket.Conn, topics []string) *streamClient {
	c := &streamClient{
		conn:   conn,
		out:    make(chan []byte, streamQueueSize),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
	c.follow(topics)
	return c
}

func (c *streamClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// push queues data without waiting. It reports false when the client's
// queue is full.
func (c *streamClient) push(data []byte) bool {
	select {
	case <-c.done:
		return true
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *streamClient) follows(event, dispenseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[TopicAll]; ok {
		return true
	}
	if _, ok := c.topics[event]; ok {
		return true
	}
	if dispenseID == "" {
		return false
	}
	_, ok := c.topics[DispenseTopic(dispenseID)]
	return ok
}

func (c *streamClient) follow(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = struct{}{}
		}
	}
}

func (c *streamClient) unfollow(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, strings.TrimSpace(t))
	}
}

// following returns the client's topics, sorted.
func (c *streamClient) following() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// reply sends a control event to this client only.
func (c *streamClient) reply(ev StreamEvent) {
	ev.At = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.push(data)
}

func (c *streamClient) handle(msg []byte) {
	var req StreamRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		c.reply(StreamEvent{Event: StreamEventError, Error: "invalid JSON message"})
		return
	}

	switch req.Action {
	case StreamActionFollow:
		c.follow(req.Topics)
	case StreamActionUnfollow:
		c.unfollow(req.Topics...)
	default:
		c.reply(StreamEvent{Event: StreamEventError, Error: "unknown action: " + req.Action})
		return
	}
	c.reply(StreamEvent{Event: StreamEventFollowing, Topics: c.following()})
}

// readLoop handles client requests until the connection fails or the hub
// stops the client. Any frame from the client extends the read deadline.
func (c *streamClient) readLoop(h *Hub) {
	defer h.remove(c)

	keepalive := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(keepalive))
	}
	c.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	extend("") //nolint:errcheck // A failed deadline shows up as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("stream client read failed", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // As above
		c.handle(msg)
	}
}

// writeLoop sends queued events and keepalive pings until the client stops.
func (c *streamClient) writeLoop(cfg config.WebSocketConfig) {
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			//nolint:errcheck // The peer may already be gone
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Write error caught below
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait)); err != nil {
				c.stop()
				return
			}
		}
	}
}

// handleStream upgrades the request to the event stream. The handler
// goroutine reads client requests for the life of the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}

	var topics []string
	if q := r.URL.Query().Get("topics"); q != "" {
		topics = strings.Split(q, ",")
	}
	c := newStreamClient(conn, topics)
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.logger.Debug("stream client connected", "topics", c.following(), "clients", s.hub.ClientCount())

	go c.writeLoop(s.wsCfg)
	c.readLoop(s.hub)
}
