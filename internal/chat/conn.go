package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Syncline/internal/event"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

var (
	// tuning parameters
	defaultHeartbeat   = 30 * time.Second // interval between PING frames
	defaultBaseDelay   = time.Second      // reconnect delay unit, attempt n waits n*base
	defaultMaxAttempts = 5                // consecutive reconnect attempts before giving up
	handshakeTimeout   = 10 * time.Second // time allowed for the PONG handshake ack
	writeWait          = 10 * time.Second // time allowed to write a frame to the peer
	maxFrameSize       = int64(64 * 1024) // max inbound frame size (64KB)
)

var (
	ErrNotConnected     = errors.New("push connection is not established")
	ErrHandshakeTimeout = errors.New("handshake acknowledgment not received")
)

// ConnConfig configures a Conn. URL is the push endpoint without credentials;
// the token is appended as a query parameter at dial time and treated as an
// opaque credential.
type ConnConfig struct {
	URL   string
	Token string

	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int

	Dialer *websocket.Dialer
	Clock  Clock
	Logger *zap.Logger
}

// Conn owns one physical push connection: handshake, heartbeat, reconnection
// with linear backoff, and raw frame parsing. Parsed envelopes fan out
// through the dispatcher; Conn itself retains no message history.
type Conn struct {
	cfg        ConnConfig
	dispatcher *Dispatcher
	clock      Clock
	logger     *zap.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	state     string
	attempts  int
	gen       int // connection generation, guards callbacks from stale pumps
	retry     Timer
	heartbeat Timer
	ack       chan struct{}
	closed    bool // deliberate Close, suppresses reconnection

	writeMu sync.Mutex
}

func NewConn(cfg ConnConfig, dispatcher *Dispatcher) *Conn {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Conn{
		cfg:        cfg,
		dispatcher: dispatcher,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		state:      StateDisconnected,
	}
}

// Connect establishes the push connection and returns once the handshake
// acknowledgment is received, or with an error on immediate failure. A
// successful connect resets the reconnect attempt counter.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.attempts = 0
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Conn) dial(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	c.setState(StateConnecting)

	ws, _, err := c.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	ws.SetReadLimit(maxFrameSize)

	ack := make(chan struct{})
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.ws = ws
	c.ack = ack
	c.mu.Unlock()

	go c.readPump(ws, gen)

	// Handshake: the first PING must be answered with a PONG before the
	// connection counts as established.
	ping, _ := event.New(event.TypePing, nil, c.clock.Now())
	if err := c.write(ws, ping); err != nil {
		c.abortDial(ws)
		return err
	}

	timeout := make(chan struct{})
	t := c.clock.AfterFunc(handshakeTimeout, func() { close(timeout) })
	defer t.Stop()

	select {
	case <-ack:
	case <-timeout:
		c.abortDial(ws)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		c.abortDial(ws)
		return ctx.Err()
	}

	c.mu.Lock()
	c.state = StateConnected
	c.attempts = 0
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	c.scheduleHeartbeat(gen)
	c.logger.Info("push connection established")
	c.publishState(event.ConnectionStatePayload{Connected: true})
	return nil
}

// Close shuts the connection down deliberately. No reconnection attempts are
// scheduled afterwards; a later Connect starts over with a fresh budget.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.state = StateDisconnected
	c.gen++ // invalidate running pumps
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			c.clock.Now().Add(writeWait))
		ws.Close()
		c.publishState(event.ConnectionStatePayload{Connected: false})
	}
}

// Send serializes and transmits an outbound envelope. When the connection is
// down it reports ErrNotConnected instead of transmitting; the caller decides
// what to surface.
func (c *Conn) Send(env event.Envelope) error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()

	if ws == nil || state != StateConnected {
		return ErrNotConnected
	}
	return c.write(ws, env)
}

// State returns the current connection state.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// abortDial tears down a half-established connection. Bumping the generation
// first keeps the read pump from scheduling a reconnect of its own; the dial
// caller owns the failure.
func (c *Conn) abortDial(ws *websocket.Conn) {
	c.mu.Lock()
	c.gen++
	c.ws = nil
	c.ack = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	ws.Close()
}

func (c *Conn) write(ws *websocket.Conn, env event.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(env)
}

func (c *Conn) readPump(ws *websocket.Conn, gen int) {
	defer c.onClosed(ws, gen)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Info("push connection closed", zap.Error(err))
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.logger.Warn("push connection timed out", zap.Error(err))
				return
			}
			c.logger.Warn("push connection read error", zap.Error(err))
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frames are dropped; they do not close the connection.
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch {
		case env.Type == event.TypePong:
			c.signalAck()
		case env.Type == event.TypePing:
			pong, _ := event.New(event.TypePong, nil, c.clock.Now())
			if err := c.write(ws, pong); err != nil {
				c.logger.Warn("failed to answer ping", zap.Error(err))
			}
		case !env.Type.Valid():
			c.logger.Warn("ignoring unknown event type", zap.String("type", string(env.Type)))
		default:
			c.dispatcher.Publish(env)
		}
	}
}

func (c *Conn) signalAck() {
	c.mu.Lock()
	ack := c.ack
	c.ack = nil
	c.mu.Unlock()
	if ack != nil {
		close(ack)
	}
}

func (c *Conn) scheduleHeartbeat(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.heartbeat = c.clock.AfterFunc(c.cfg.HeartbeatInterval, func() { c.beat(gen) })
	c.mu.Unlock()
}

func (c *Conn) beat(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected || c.ws == nil {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	c.mu.Unlock()

	ping, _ := event.New(event.TypePing, nil, c.clock.Now())
	if err := c.write(ws, ping); err != nil {
		// Heartbeat failures are ordinary transport errors: closing the
		// socket sends the read pump into the reconnect path.
		c.logger.Warn("heartbeat failed", zap.Error(err))
		ws.Close()
		return
	}
	c.scheduleHeartbeat(gen)
}

func (c *Conn) onClosed(ws *websocket.Conn, gen int) {
	ws.Close()

	c.mu.Lock()
	if c.gen != gen {
		// A newer connection replaced this one; nothing to clean up.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateDisconnected
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.scheduleReconnect()
}

func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if attempt > c.cfg.MaxAttempts {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted",
			zap.Int("attempts", c.cfg.MaxAttempts))
		c.publishState(event.ConnectionStatePayload{
			Connected: false,
			Attempts:  c.cfg.MaxAttempts,
			Terminal:  true,
		})
		return
	}

	delay := time.Duration(attempt) * c.cfg.BaseDelay
	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	c.retry = c.clock.AfterFunc(delay, func() {
		if err := c.dial(context.Background()); err != nil {
			c.logger.Warn("reconnect failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			c.scheduleReconnect()
		}
	})
	c.mu.Unlock()
}

func (c *Conn) publishState(p event.ConnectionStatePayload) {
	env, err := event.New(event.TypeConnectionState, p, c.clock.Now())
	if err != nil {
		return
	}
	c.dispatcher.Publish(env)
}
