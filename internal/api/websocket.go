package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/blinky-core/internal/auth"
	"github.com/nerrad567/blinky-core/internal/infrastructure/config"
	"github.com/nerrad567/blinky-core/internal/infrastructure/logging"
)

// Broadcast channels. A session only receives events for channels it has
// subscribed to.
const (
	// ChannelViewChanged carries the full discovery view after every
	// republish (new interesting device, filter toggle, reset).
	ChannelViewChanged = "discovery.view_changed"

	// ChannelStateChanged carries per-device LED state updates.
	ChannelStateChanged = "device.state_changed"

	// ChannelButtonChanged carries per-device button press/release events.
	ChannelButtonChanged = "device.button_changed"

	// ChannelBridgeHealth carries scanner health transitions.
	ChannelBridgeHealth = "bridge.health"
)

// Wire-level frame types of the WebSocket protocol.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
	framePong        = "pong"
	frameEvent       = "event"
	frameResponse    = "response"
	frameError       = "error"
)

// sessionQueueDepth is the outbound frame buffer per session. A session
// that falls this far behind starts losing events.
const sessionQueueDepth = 256

// wsEnvelope is the JSON frame exchanged with WebSocket clients.
type wsEnvelope struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsChannels is the payload of subscribe and unsubscribe frames.
type wsChannels struct {
	Channels []string `json:"channels"`
}

// Hub tracks live WebSocket sessions and fans events out to them.
type Hub struct {
	logger   *logging.Logger
	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// wsSession is one authenticated WebSocket connection. The mutex guards
// the channel set and the closed flag; outbound frames go through queue
// so a session that is shutting down or lagging never blocks a
// broadcast.
type wsSession struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
	out      chan []byte

	// liveFor is the read deadline window: one ping interval plus the
	// pong grace period.
	liveFor   time.Duration
	pingEvery time.Duration

	username string
	role     auth.Role
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking is handled by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(_ config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run blocks until the context is cancelled, then tears down every
// session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	open := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.sessions = make(map[*wsSession]struct{})
	h.mu.Unlock()

	for _, s := range open {
		s.shutdown()
	}
}

// Broadcast delivers an event to every session subscribed to channel.
// Sessions that cannot keep up are skipped, not waited for.
func (h *Hub) Broadcast(channel string, payload any) {
	frame := wsEnvelope{
		Type:      frameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshalling websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.deliver(channel, data) {
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("event broadcast", "channel", channel, "recipients", delivered)
	}
}

// ClientCount returns the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// attach registers a session with the hub.
func (h *Hub) attach(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket session opened", "username", s.username, "sessions", h.ClientCount())
}

// detach removes a session and closes its queue exactly once, via the
// session's closed flag.
func (h *Hub) detach(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()

	s.shutdown()
	h.logger.Debug("websocket session closed", "username", s.username, "sessions", h.ClientCount())
}

// handleWebSocket upgrades the HTTP connection to a WebSocket session.
// Browsers cannot set the Authorization header on upgrade requests, so
// authentication uses a short-lived ticket from POST /auth/ws-ticket,
// passed in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}

	claims, err := auth.ParseToken(ticket, s.secCfg.JWT.Secret)
	if err != nil {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}
	if claims.Purpose != auth.PurposeTicket {
		// Access tokens open REST routes, never WebSockets.
		writeUnauthorized(w, "token is not a WebSocket ticket")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	pingEvery := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second

	sess := &wsSession{
		hub:       s.hub,
		conn:      conn,
		channels:  make(map[string]struct{}),
		out:       make(chan []byte, sessionQueueDepth),
		liveFor:   pingEvery + pongWait,
		pingEvery: pingEvery,
		username:  claims.Subject,
		role:      claims.Role,
	}
	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))

	s.hub.attach(sess)
	go sess.writeLoop()
	go sess.readLoop()
}

// deliver queues an event frame when the session subscribes to channel.
// Reports whether the frame was queued.
func (s *wsSession) deliver(channel string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.channels[channel]; !ok {
		return false
	}
	select {
	case s.out <- data:
		return true
	default:
		// Lagging session; drop the event rather than block.
		return false
	}
}

// queue enqueues a control frame (response, error, pong) for the session.
func (s *wsSession) queue(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- data:
	default:
	}
}

// shutdown marks the session closed, closes the outbound queue so
// writeLoop exits, and drops the connection. Safe to call more than once.
func (s *wsSession) shutdown() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if already {
		return
	}
	close(s.out)
	if s.conn != nil {
		s.conn.Close()
	}
}

// readLoop consumes frames from the peer until the connection dies, then
// detaches the session.
func (s *wsSession) readLoop() {
	defer s.hub.detach(s)

	s.extendDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "username", s.username, "error", err)
			}
			return
		}
		// Any frame from the peer counts as liveness, not just pongs;
		// browsers cannot answer protocol pings from script.
		s.extendDeadline()
		s.handleFrame(data)
	}
}

func (s *wsSession) extendDeadline() {
	//nolint:errcheck // Failure here surfaces as a read error in the loop
	s.conn.SetReadDeadline(time.Now().Add(s.liveFor))
}

// writeLoop drains the outbound queue and keeps the connection alive
// with protocol pings.
func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(s.pingEvery)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.out:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error below ends the session
			s.conn.SetWriteDeadline(time.Now().Add(s.liveFor))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error below ends the session
			s.conn.SetWriteDeadline(time.Now().Add(s.liveFor))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame.
func (s *wsSession) handleFrame(data []byte) {
	var frame wsEnvelope
	if err := json.Unmarshal(data, &frame); err != nil {
		s.reply("", frameError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch frame.Type {
	case frameSubscribe:
		s.updateChannels(frame, true)
	case frameUnsubscribe:
		s.updateChannels(frame, false)
	case framePing:
		s.reply(frame.ID, framePong, nil)
	default:
		s.reply(frame.ID, frameError, map[string]string{"message": "unknown message type: " + frame.Type})
	}
}

// updateChannels applies a subscribe or unsubscribe frame.
func (s *wsSession) updateChannels(frame wsEnvelope, add bool) {
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		s.reply(frame.ID, frameError, map[string]string{"message": "invalid payload"})
		return
	}
	var req wsChannels
	if err := json.Unmarshal(raw, &req); err != nil {
		s.reply(frame.ID, frameError, map[string]string{"message": "invalid channels payload"})
		return
	}

	s.mu.Lock()
	for _, ch := range req.Channels {
		if add {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
	s.mu.Unlock()

	if add {
		s.hub.logger.Info("websocket session subscribed",
			"username", s.username, "channels", req.Channels)
		s.reply(frame.ID, frameResponse, map[string]any{"subscribed": req.Channels})
		return
	}
	s.reply(frame.ID, frameResponse, map[string]any{"unsubscribed": req.Channels})
}

// reply queues a control frame back to the peer.
func (s *wsSession) reply(id, frameType string, payload any) {
	data, err := json.Marshal(wsEnvelope{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	s.queue(data)
}
