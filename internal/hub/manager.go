package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Syncline/internal/event"
	"Syncline/internal/repo"
)

const workerPoolSize = 16 // number of workers processing inbound frames

type inboundFrame struct {
	client *Client
	env    event.Envelope
}

// ConversationLookup resolves the participants of a conversation so TYPING
// and READ_RECEIPT frames can be relayed to the right counterpart.
type ConversationLookup interface {
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// Hub owns every live websocket connection, keyed by user id. It relays
// MESSAGE, TYPING and READ_RECEIPT envelopes between participants, answers
// PING with PONG, and broadcasts USER_ONLINE/USER_OFFLINE transitions.
type Hub struct {
	conversations ConversationLookup
	presence      *repo.PresenceRepository
	logger        *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[string]*Client // user id -> client id -> client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(conversations ConversationLookup, presence *repo.PresenceRepository, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		conversations: conversations,
		presence:      presence,
		logger:        logger,
		clients:       make(map[string]map[string]*Client),
		register:      make(chan *Client, 1024),
		unregister:    make(chan *Client, 1024),
		inbound:       make(chan inboundFrame, 4096),
		ctx:           ctx,
		cancel:        cancel,
	}

	go h.run()

	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.handleFrame(in.client, in.env)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		h.clients[c.userID] = conns
	}
	firstConn := len(conns) == 0
	conns[c.ID] = c
	h.mu.Unlock()

	if firstConn {
		h.presence.SetOnline(h.ctx, c.userID)
		h.broadcast(event.TypeUserOnline, event.PresencePayload{UserID: c.userID})
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	lastConn := false
	if conns, ok := h.clients[c.userID]; ok {
		if _, exists := conns[c.ID]; exists {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(h.clients, c.userID)
				lastConn = true
			}
		}
	}
	h.mu.Unlock()

	c.Close()
	if lastConn {
		h.presence.SetOffline(h.ctx, c.userID)
		h.broadcast(event.TypeUserOffline, event.PresencePayload{UserID: c.userID})
	}
}

func (h *Hub) handleFrame(c *Client, env event.Envelope) {
	switch env.Type {
	case event.TypePing:
		pong, _ := event.New(event.TypePong, nil, time.Now().UTC())
		c.SafeSend(pong, sendTimeout)

	case event.TypeMessage:
		h.relayMessage(c, env)

	case event.TypeTyping:
		var payload event.TypingPayload
		if err := env.Decode(&payload); err != nil {
			h.logger.Warn("dropping malformed typing frame", zap.Error(err))
			return
		}
		h.relayToCounterparts(payload.ConversationID, c.userID, env)

	case event.TypeReadReceipt:
		var payload event.ReadReceiptPayload
		if err := env.Decode(&payload); err != nil {
			h.logger.Warn("dropping malformed read receipt frame", zap.Error(err))
			return
		}
		h.relayToCounterparts(payload.ConversationID, c.userID, env)

	default:
		h.logger.Warn("ignoring unknown frame type",
			zap.String("type", string(env.Type)),
			zap.String("user_id", c.userID))
	}
}

func (h *Hub) relayMessage(c *Client, env event.Envelope) {
	var msg struct {
		ReceiverID string `json:"receiverId"`
	}
	if err := env.Decode(&msg); err != nil || msg.ReceiverID == "" {
		h.logger.Warn("dropping malformed message frame",
			zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	h.Push(msg.ReceiverID, env)
}

func (h *Hub) relayToCounterparts(conversationID, senderID string, env event.Envelope) {
	if conversationID == "" || h.conversations == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	participants, err := h.conversations.Participants(ctx, conversationID)
	if err != nil {
		h.logger.Warn("failed to resolve conversation participants",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	for _, userID := range participants {
		if userID != senderID {
			h.Push(userID, env)
		}
	}
}

// Push delivers an envelope to every live connection of one user.
func (h *Hub) Push(userID string, env event.Envelope) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[userID]))
	for _, c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.SafeSend(env, sendTimeout) {
			h.logger.Warn("egress full, dropping client",
				zap.String("client_id", c.ID),
				zap.String("user_id", userID))
			select {
			case h.unregister <- c:
			case <-time.After(unregisterTimeout):
			}
		}
	}
}

// broadcast fans an event out to every connected client.
func (h *Hub) broadcast(t event.Type, payload any) {
	env, err := event.New(t, payload, time.Now().UTC())
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*Client, 0)
	for _, byID := range h.clients {
		for _, c := range byID {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.SafeSend(env, sendTimeout)
	}
}

// Online returns the user ids with at least one live connection on this
// instance.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.clients))
	for id := range h.clients {
		users = append(users, id)
	}
	return users
}

// Stop closes every connection and shuts the worker pool down.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.RLock()
	for _, byID := range h.clients {
		for _, c := range byID {
			c.Close()
		}
	}
	h.mu.RUnlock()

	close(h.inbound)
	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers the connection for the
// authenticated user. Token validation happens before this call.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	registerClient(userID, conn, h)
}
