package hub

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Syncline/internal/event"
)

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a frame to the peer
	pongWait           = 60 * time.Second       // time allowed to read the next frame from the peer
	maxMessageSize     = 64 * 1024              // max inbound frame size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound frames
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for handing frames to the worker pool
)

// Client is one websocket connection belonging to one authenticated user. A
// user may hold several clients at once (multiple tabs/devices).
type Client struct {
	ID     string
	userID string

	conn *websocket.Conn
	hub  *Hub

	egress chan event.Envelope

	ctx            context.Context
	cancel         context.CancelFunc
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once

	closed   bool
	closedMu sync.RWMutex
}

// registerClient wires a fresh connection into the hub and starts its pumps.
func registerClient(userID string, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		ID:         uuid.NewString(),
		userID:     userID,
		conn:       conn,
		hub:        h,
		egress:     make(chan event.Envelope, sendBufSize),
		ctx:        ctx,
		cancel:     cancel,
		connClosed: make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.readPump()
		go client.writePump()
		h.logger.Info("client registered",
			zap.String("client_id", client.ID),
			zap.String("user_id", userID))
		return client
	case <-time.After(registerTimeout):
		h.logger.Warn("client registration timed out", zap.String("user_id", userID))
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.hub.logger.Warn("client unregistration timed out", zap.String("client_id", c.ID))
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var env event.Envelope
			if err := c.conn.ReadJSON(&env); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.hub.logger.Info("client disconnected", zap.String("client_id", c.ID))
					return
				}
				if websocket.IsUnexpectedCloseError(err) {
					c.hub.logger.Warn("unexpected close",
						zap.String("client_id", c.ID), zap.Error(err))
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.hub.logger.Info("client timed out", zap.String("client_id", c.ID))
					return
				}
				if _, ok := err.(*json.SyntaxError); ok {
					// Malformed frame: drop it, keep the connection.
					c.hub.logger.Warn("dropping malformed frame",
						zap.String("client_id", c.ID), zap.Error(err))
					continue
				}
				if _, ok := err.(*json.UnmarshalTypeError); ok {
					c.hub.logger.Warn("dropping malformed frame",
						zap.String("client_id", c.ID), zap.Error(err))
					continue
				}
				c.hub.logger.Warn("read error",
					zap.String("client_id", c.ID), zap.Error(err))
				return
			}

			// Any inbound traffic proves liveness.
			c.conn.SetReadDeadline(time.Now().Add(pongWait))

			select {
			case c.hub.inbound <- inboundFrame{client: c, env: env}:
			case <-time.After(inboundSendTimeout):
				c.hub.logger.Warn("inbound queue full, dropping client",
					zap.String("client_id", c.ID))
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
		c.connClosedOnce.Do(func() { close(c.connClosed) })
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case env, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.hub.logger.Warn("write failed",
					zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		}
	}
}

// SafeSend enqueues an envelope for delivery, giving up after the timeout or
// when the client is closed.
func (c *Client) SafeSend(env event.Envelope, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- env:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()
		close(c.egress)

		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
			}
		}()
	})
}

func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}
