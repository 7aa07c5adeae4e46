package realtime

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/node/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// Outbound buffer; a client this far behind is dropped.
	sendBufferSize = 64
)

// Client is one websocket connection owned by an authenticated player.
type Client struct {
	server   *Server
	conn     *websocket.Conn
	playerID uuid.UUID
	send     chan []byte
	closed   atomic.Bool
	battles  map[uuid.UUID]struct{}
	log      *zap.Logger
}

func newClient(server *Server, conn *websocket.Conn, playerID uuid.UUID) *Client {
	return &Client{
		server:   server,
		conn:     conn,
		playerID: playerID,
		send:     make(chan []byte, sendBufferSize),
		battles:  make(map[uuid.UUID]struct{}),
		log:      server.log.With(zap.String("playerId", playerID.String())),
	}
}

// trySend queues data without blocking. A full buffer means the client cannot
// keep up; closing the channel makes writePump tear the connection down.
func (c *Client) trySend(data []byte) {
	// Broadcasts from concurrent goroutines may race the close; the recover
	// turns a send-on-closed panic into the drop it already is.
	defer func() { _ = recover() }()
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- data:
	default:
		if c.closed.CompareAndSwap(false, true) {
			c.log.Warn("dropping slow realtime client")
			close(c.send)
		}
	}
}

// readPump reads client messages until the connection dies, then unregisters.
func (c *Client) readPump() {
	defer func() {
		c.server.hub.drop(c)
		c.conn.Close()
		metrics.RealtimeConnections.Dec()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.server.dispatch(c, data)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
