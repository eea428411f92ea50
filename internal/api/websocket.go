package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ernie/rally/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// CloseAuthFailed is the close code sent when a socket fails authentication
	CloseAuthFailed = 4001

	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxMessage   = 1024
	sendBuffer   = 256
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originChecker allows every origin when the list is empty
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Submitter accepts commands from socket goroutines
type Submitter interface {
	Submit(cmd domain.Command)
}

// WebSocketClient is one authenticated game socket. Outgoing events are
// queued on a buffered channel; a full buffer drops the event.
type WebSocketClient struct {
	id           string
	player       domain.Player
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	remoteAddr   string
	writeTimeout time.Duration
	logger       zerolog.Logger
}

func newWebSocketClient(conn *websocket.Conn, player domain.Player, remoteAddr string, writeTimeout time.Duration, logger zerolog.Logger) *WebSocketClient {
	id := uuid.NewString()
	return &WebSocketClient{
		id:           id,
		player:       player,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("conn", id).Str("player", player.Name).Logger(),
	}
}

func (c *WebSocketClient) ID() string            { return c.id }
func (c *WebSocketClient) Player() domain.Player { return c.player }

// Send queues an event without blocking
func (c *WebSocketClient) Send(ev domain.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error().Err(err).Str("event", ev.Type).Msg("Error marshaling event")
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Str("event", ev.Type).Msg("Send buffer full, dropping event")
		return false
	}
}

// Close sends a close frame and tears the socket down. Safe to call twice.
func (c *WebSocketClient) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		close(c.done)
		c.conn.Close()
	})
}

// readPump turns client messages into commands until the socket fails
func (c *WebSocketClient) readPump(sink Submitter) {
	defer func() {
		sink.Submit(domain.DisconnectCommand{ConnID: c.id})
		c.Close(websocket.CloseNormalClosure, "")
		c.logger.Info().Str("remote", c.remoteAddr).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		cmd, err := domain.ParseCommand(c.id, data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Dropping invalid message")
			c.Send(domain.NewEvent(domain.EventError, "", domain.ErrorEvent{Message: err.Error()}))
			continue
		}
		sink.Submit(cmd)
	}
}

// writePump drains the send buffer and keeps the socket alive with pings
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// rejectSocket reports an authentication failure on an upgraded socket
func (r *Router) rejectSocket(conn *websocket.Conn, err error) {
	ev := domain.NewEvent(domain.EventAuthError, "", domain.ErrorEvent{Message: err.Error()})
	deadline := time.Now().Add(r.writeTimeout)
	conn.SetWriteDeadline(deadline)
	if data, merr := json.Marshal(ev); merr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	reason := "authentication failed"
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseAuthFailed, reason), deadline)
	conn.Close()
}

// handleWebSocket authenticates, upgrades and registers a game socket.
// The optional "spectate" query parameter attaches it to a room as a viewer.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	identity, authErr := r.auth.Authenticate(req)

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	if authErr != nil {
		r.logger.Info().Err(authErr).Str("remote", getClientIP(req)).Msg("WebSocket authentication failed")
		r.rejectSocket(conn, authErr)
		return
	}

	player, err := r.store.GetPlayer(req.Context(), identity.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.rejectSocket(conn, domain.ErrAuth)
		return
	case err != nil:
		r.logger.Error().Err(err).Int64("player", identity.ID).Msg("Failed to load player, using a fresh record")
		player = &domain.Player{ID: identity.ID, Name: identity.Name, Progression: domain.NewProgression()}
	}

	client := newWebSocketClient(conn, *player, getClientIP(req), r.writeTimeout, r.logger)
	r.arena.Register(client)
	client.logger.Info().Str("remote", client.remoteAddr).Msg("WebSocket client connected")

	if roomID := req.URL.Query().Get("spectate"); roomID != "" {
		if err := r.arena.Spectate(client.id, roomID); err != nil {
			client.Send(domain.NewEvent(domain.EventError, "", domain.ErrorEvent{Message: err.Error()}))
		}
	}

	go client.writePump()
	go client.readPump(r.arena)
}
