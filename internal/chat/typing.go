package chat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"Syncline/internal/event"
)

// typingExpiry is the quiet period after which a typing flag resets even
// without an explicit stop event.
const typingExpiry = 3 * time.Second

// Typing maintains a transient per-conversation-per-user typing flag with
// automatic expiry.
type Typing struct {
	currentUser string
	conn        Sender
	clock       Clock
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]bool
	timers map[string]Timer
}

func NewTyping(currentUser string, conn Sender, dispatcher *Dispatcher, clock Clock, logger *zap.Logger) *Typing {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Typing{
		currentUser: currentUser,
		conn:        conn,
		clock:       clock,
		logger:      logger,
		active:      make(map[string]bool),
		timers:      make(map[string]Timer),
	}
	if dispatcher != nil {
		dispatcher.Subscribe(event.TypeTyping, t.handle)
	}
	return t
}

// SetTyping transmits the current user's typing state. It does not mutate
// local state; only peer events do.
func (t *Typing) SetTyping(conversationID string, isTyping bool) error {
	env, err := event.New(event.TypeTyping, event.TypingPayload{
		ConversationID: conversationID,
		UserID:         t.currentUser,
		IsTyping:       isTyping,
	}, t.clock.Now())
	if err != nil {
		return err
	}
	return t.conn.Send(env)
}

// IsTyping reports whether the peer is currently typing in the conversation.
func (t *Typing) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[typingKey(conversationID, userID)]
}

func (t *Typing) handle(env event.Envelope) {
	var payload event.TypingPayload
	if err := env.Decode(&payload); err != nil {
		t.logger.Warn("dropping malformed typing event", zap.Error(err))
		return
	}
	if payload.UserID == t.currentUser {
		return
	}
	key := typingKey(payload.ConversationID, payload.UserID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if !payload.IsTyping {
		delete(t.active, key)
		return
	}
	t.active[key] = true
	t.timers[key] = t.clock.AfterFunc(typingExpiry, func() { t.expire(key) })
}

func (t *Typing) expire(key string) {
	t.mu.Lock()
	delete(t.active, key)
	delete(t.timers, key)
	t.mu.Unlock()
}

func typingKey(conversationID, userID string) string {
	return conversationID + "/" + userID
}
