package chat

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"Syncline/internal/event"
)

// Presence maintains the set of currently online user ids as seen over the
// push channel. Per-user transitions apply in arrival order; the set is
// cleared on reconnect until fresh presence events arrive.
type Presence struct {
	logger *zap.Logger

	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresence(dispatcher *Dispatcher, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Presence{
		logger: logger,
		online: make(map[string]struct{}),
	}
	if dispatcher != nil {
		dispatcher.Subscribe(event.TypeUserOnline, p.handle)
		dispatcher.Subscribe(event.TypeUserOffline, p.handle)
		dispatcher.Subscribe(event.TypeConnectionState, p.handleConnectionState)
	}
	return p
}

// IsOnline reports whether the user was last seen online.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the sorted set of online user ids.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Presence) handle(env event.Envelope) {
	var payload event.PresencePayload
	if err := env.Decode(&payload); err != nil {
		p.logger.Warn("dropping malformed presence event", zap.Error(err))
		return
	}
	if payload.UserID == "" {
		return
	}

	p.mu.Lock()
	if env.Type == event.TypeUserOnline {
		p.online[payload.UserID] = struct{}{}
	} else {
		delete(p.online, payload.UserID)
	}
	p.mu.Unlock()
}

func (p *Presence) handleConnectionState(env event.Envelope) {
	var state event.ConnectionStatePayload
	if err := env.Decode(&state); err != nil {
		return
	}
	if !state.Connected {
		return
	}
	// Fresh connection: membership observed before the drop is stale.
	p.mu.Lock()
	p.online = make(map[string]struct{})
	p.mu.Unlock()
}
