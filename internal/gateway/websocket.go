package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dartcounter/dartcounter/internal/match"
	"github.com/dartcounter/dartcounter/internal/session"
)

// ConnectionConfig holds the WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// connection is one WebSocket client attached to a session. Snapshots reach
// it two ways: broadcasts through its session subscription, and error
// snapshots through direct, which only the issuing client sees.
type connection struct {
	id     uuid.UUID
	sess   *session.Session
	sub    *session.Subscriber
	conn   *websocket.Conn
	direct chan match.Snapshot
	config ConnectionConfig
}

// handleWebSocket upgrades GET /ws?code=XXXXXX, subscribes the client to its
// session and runs the read/write pumps until the client disconnects.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := g.store.Get(r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, err)
		return
	}

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &connection{
		id:     uuid.New(),
		sess:   sess,
		sub:    sess.Subscribe(),
		conn:   wsConn,
		direct: make(chan match.Snapshot, 16),
		config: g.wsConfig,
	}

	log.Info().
		Str("connection_id", c.id.String()).
		Str("session_code", sess.Code).
		Msg("WebSocket connection established")

	go c.writePump()
	go c.readPump()
}

// writePump serializes all outbound traffic for one connection: subscribed
// snapshots, direct error snapshots and keepalive pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.sess.Unsubscribe(c.sub)
	}()

	for {
		select {
		case snap, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Session deleted or this subscriber was dropped.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := c.writeSnapshot(snap); err != nil {
				return
			}

		case snap := <-c.direct:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.writeSnapshot(snap); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) writeSnapshot(snap match.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.id.String()).Msg("failed to marshal snapshot")
		return nil
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", c.id.String()).
			Msg("failed to write snapshot to WebSocket")
		return err
	}
	return nil
}

// readPump decodes inbound commands and applies them to the session. A
// rejected command is answered with an error snapshot on this connection
// only; successful results arrive through the subscription broadcast.
func (c *connection) readPump() {
	defer func() {
		c.sess.Unsubscribe(c.sub)
		c.conn.Close()
		log.Info().
			Str("connection_id", c.id.String()).
			Str("session_code", c.sess.Code).
			Msg("WebSocket connection closed")
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id.String()).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var cmd session.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendDirect(match.Snapshot{
				SessionCode: c.sess.Code,
				Message:     match.ErrorPrefix + "malformed command",
			})
			continue
		}

		snap, err := c.sess.Apply(cmd)
		if err != nil {
			c.sendDirect(snap)
		}
	}
}

func (c *connection) sendDirect(snap match.Snapshot) {
	select {
	case c.direct <- snap:
	default:
		log.Warn().
			Str("connection_id", c.id.String()).
			Msg("direct buffer full, dropping error snapshot")
	}
}
